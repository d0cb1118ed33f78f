// Package hooks runs the local HTTP callback endpoint that backends POST
// notifications and approval requests to. Each registration yields an
// opaque key; the backend is configured with a callback URL containing
// that key, and everything it delivers is routed to the owning session.
package hooks

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/polyagent/polyagent/protocol"
	"github.com/polyagent/polyagent/session"
)

// registration binds one callback key to a session and its approval policy.
type registration struct {
	sess     *session.Session
	approval ApprovalHandler
}

// Server routes hook callbacks to registered sessions.
type Server struct {
	log    *slog.Logger
	router chi.Router

	mu   sync.RWMutex
	regs map[string]*registration
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(log *slog.Logger) ServerOption {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// NewServer creates a hook server with no registrations.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		log:  slog.Default(),
		regs: make(map[string]*registration),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Route("/hooks/{key}", func(r chi.Router) {
		r.Post("/notify", s.handleNotify)
		r.Post("/approval", s.handleApproval)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler { return s.router }

// Register issues a callback key for the session. A nil approval handler
// denies everything.
func (s *Server) Register(sess *session.Session, approval ApprovalHandler) string {
	if approval == nil {
		approval = DenyAllHandler()
	}
	key := uuid.NewString()
	s.mu.Lock()
	s.regs[key] = &registration{sess: sess, approval: approval}
	s.mu.Unlock()
	return key
}

// Deregister revokes a callback key. Unknown keys are a no-op.
func (s *Server) Deregister(key string) {
	s.mu.Lock()
	delete(s.regs, key)
	s.mu.Unlock()
}

func (s *Server) lookup(key string) *registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.regs[key]
}

// notifyBody is the backend's generic notification callback payload.
type notifyBody struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// handleNotify feeds one raw notification into the owning session's
// normalizer path, same as transport-delivered notifications.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	reg := s.lookup(key)
	if reg == nil {
		respondError(w, http.StatusNotFound, "unknown callback key")
		return
	}

	var body notifyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Method == "" {
		respondError(w, http.StatusBadRequest, "invalid notification body")
		return
	}

	reg.sess.Deliver(body.Method, body.Params)
	w.WriteHeader(http.StatusNoContent)
}

// handleApproval surfaces the request on the session's canonical event
// stream, asks the registered handler for a decision, and returns it to
// the backend synchronously.
func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	reg := s.lookup(key)
	if reg == nil {
		respondError(w, http.StatusNotFound, "unknown callback key")
		return
	}

	var req ApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid approval body")
		return
	}

	if raw, err := json.Marshal(req); err == nil {
		reg.sess.Deliver(protocol.MethodRequestApproval, raw)
	}

	resp, err := reg.approval.HandleApproval(r.Context(), &req)
	if err != nil {
		s.log.Warn("approval handler failed", "call_id", req.CallID, "error", err)
		respondError(w, http.StatusInternalServerError, "approval handler failed")
		return
	}
	respondJSON(w, resp)
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
