package hooks

import "context"

// ApprovalRequest describes one tool or command execution awaiting a
// decision.
type ApprovalRequest struct {
	ThreadID string         `json:"thread_id,omitempty"`
	TurnID   string         `json:"turn_id,omitempty"`
	CallID   string         `json:"call_id,omitempty"`
	Command  string         `json:"command,omitempty"`
	CWD      string         `json:"cwd,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
}

// ApprovalResponse is the decision returned to the backend.
type ApprovalResponse struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// ApprovalHandler decides approval requests delivered to the hook server.
type ApprovalHandler interface {
	HandleApproval(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error)
}

// ApprovalHandlerFunc is a function adapter for ApprovalHandler.
type ApprovalHandlerFunc func(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error)

// HandleApproval implements ApprovalHandler.
func (f ApprovalHandlerFunc) HandleApproval(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error) {
	return f(ctx, req)
}

// AutoApproveHandler returns a handler that approves every request.
func AutoApproveHandler() ApprovalHandler {
	return ApprovalHandlerFunc(func(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error) {
		return &ApprovalResponse{Approved: true}, nil
	})
}

// DenyAllHandler returns a handler that denies every request.
func DenyAllHandler() ApprovalHandler {
	return ApprovalHandlerFunc(func(ctx context.Context, req *ApprovalRequest) (*ApprovalResponse, error) {
		return &ApprovalResponse{
			Approved: false,
			Message:  "tool execution denied by policy",
		}, nil
	})
}
