// Package protocol defines the canonical event vocabulary emitted by the
// normalizer and the wire method names of the two backend notification
// protocols it consumes. The Event type is the only contract the UI/API
// layer depends on.
package protocol

// EventType discriminates between canonical event kinds.
type EventType string

const (
	EventThreadStarted              EventType = "thread_started"
	EventTaskStarted                EventType = "task_started"
	EventTaskComplete               EventType = "task_complete"
	EventTaskFailed                 EventType = "task_failed"
	EventTurnAborted                EventType = "turn_aborted"
	EventAgentMessage               EventType = "agent_message"
	EventAgentReasoning             EventType = "agent_reasoning"
	EventAgentReasoningDelta        EventType = "agent_reasoning_delta"
	EventAgentReasoningSectionBreak EventType = "agent_reasoning_section_break"
	EventExecCommandBegin           EventType = "exec_command_begin"
	EventExecCommandEnd             EventType = "exec_command_end"
	EventPatchApplyBegin            EventType = "patch_apply_begin"
	EventPatchApplyEnd              EventType = "patch_apply_end"
	EventTurnDiff                   EventType = "turn_diff"
	EventTokenCount                 EventType = "token_count"
	EventExecApprovalRequest        EventType = "exec_approval_request"
)

// Event is a canonical, flat notification emitted to session subscribers.
// Only the fields relevant to the event's Type are populated; everything
// else stays at its zero value and is omitted from the JSON encoding.
type Event struct {
	Type EventType `json:"type"`

	ThreadID string `json:"thread_id,omitempty"`
	TurnID   string `json:"turn_id,omitempty"`
	CallID   string `json:"call_id,omitempty"`

	// agent_message / agent_reasoning carry Text; the delta variant carries
	// Delta. task_failed carries Error (and optionally ErrorInfo).
	Text      string         `json:"text,omitempty"`
	Delta     string         `json:"delta,omitempty"`
	Error     string         `json:"error,omitempty"`
	ErrorInfo map[string]any `json:"error_info,omitempty"`

	// Command execution metadata (begin-time meta is merged into the end
	// event by the normalizer).
	Command      string `json:"command,omitempty"`
	CWD          string `json:"cwd,omitempty"`
	AutoApproved *bool  `json:"auto_approved,omitempty"`
	Output       string `json:"output,omitempty"`
	Stdout       string `json:"stdout,omitempty"`
	Stderr       string `json:"stderr,omitempty"`
	ExitCode     *int64 `json:"exit_code,omitempty"`
	Status       string `json:"status,omitempty"`

	// Patch application. Success defaults to false when the backend does
	// not report an outcome.
	Changes map[string]any `json:"changes,omitempty"`
	Success *bool          `json:"success,omitempty"`

	UnifiedDiff string `json:"unified_diff,omitempty"`

	// token_count passes through the backend's usage object unchanged.
	Info map[string]any `json:"info,omitempty"`

	ContextWindow *int64 `json:"context_window,omitempty"`
	CollabMode    string `json:"collab_mode,omitempty"`

	// exec_approval_request passes the raw request payload through so the
	// approval UI sees exactly what the backend asked.
	Raw map[string]any `json:"raw,omitempty"`
}

// Bool returns a pointer to b, for the optional boolean event fields.
func Bool(b bool) *bool { return &b }

// Int64 returns a pointer to n, for the optional integer event fields.
func Int64(n int64) *int64 { return &n }
