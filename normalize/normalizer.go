// Package normalize converts backend-specific notification streams into the
// canonical event vocabulary. Two wire shapes coexist: a legacy form whose
// payload is wrapped under a "msg" field with its own type discriminator,
// and a structured form using distinct method names per notification. Both
// map onto identical canonical events.
package normalize

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/polyagent/polyagent/notify"
	"github.com/polyagent/polyagent/protocol"
)

// nopHandler is a slog.Handler that discards all output.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }

var nopLogger = slog.New(nopHandler{})

// commandMeta is the begin-time metadata of a command execution, merged into
// the end event when the call completes.
type commandMeta struct {
	command      string
	cwd          string
	autoApproved *bool
}

// fileChangeMeta is the begin-time metadata of a patch application.
type fileChangeMeta struct {
	changes      map[string]any
	autoApproved *bool
}

// Normalizer converts one session's notification stream into canonical
// events. It owns the delta-accumulation buffers and call metadata for that
// session and must not be invoked concurrently; the orchestrator serializes
// dispatch.
type Normalizer struct {
	log *slog.Logger

	agentMessages  map[string]*strings.Builder
	reasoning      map[string]*strings.Builder
	commandOutput  map[string]*strings.Builder
	commandMeta    map[string]commandMeta
	fileChangeMeta map[string]fileChangeMeta
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger used for dropped notifications.
func WithLogger(log *slog.Logger) Option {
	return func(n *Normalizer) {
		if log != nil {
			n.log = log
		}
	}
}

// New creates a Normalizer with empty buffers.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		log:            nopLogger,
		agentMessages:  make(map[string]*strings.Builder),
		reasoning:      make(map[string]*strings.Builder),
		commandOutput:  make(map[string]*strings.Builder),
		commandMeta:    make(map[string]commandMeta),
		fileChangeMeta: make(map[string]fileChangeMeta),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Handle converts one notification into zero or more canonical events.
// Malformed or unrecognized notifications produce no events and mutate no
// state; they are logged at debug level and never fail.
func (n *Normalizer) Handle(method string, params json.RawMessage) []protocol.Event {
	p := notify.FromRaw(params)

	if strings.HasPrefix(method, protocol.LegacyEventPrefix) {
		return n.handleLegacy(method, p)
	}
	return n.handleStructured(method, p)
}

// Reset clears all accumulation buffers and call metadata. Called when a
// session is torn down or when a new transport replays history.
func (n *Normalizer) Reset() {
	n.agentMessages = make(map[string]*strings.Builder)
	n.reasoning = make(map[string]*strings.Builder)
	n.commandOutput = make(map[string]*strings.Builder)
	n.commandMeta = make(map[string]commandMeta)
	n.fileChangeMeta = make(map[string]fileChangeMeta)
}

// appendBuffer appends delta text to the buffer for id, creating it on first
// use.
func appendBuffer(m map[string]*strings.Builder, id, delta string) {
	b, ok := m[id]
	if !ok {
		b = &strings.Builder{}
		m[id] = b
	}
	b.WriteString(delta)
}

// takeBuffer removes and returns the accumulated text for id.
func takeBuffer(m map[string]*strings.Builder, id string) string {
	b, ok := m[id]
	if !ok {
		return ""
	}
	delete(m, id)
	return b.String()
}

// drop logs an unhandled notification at debug level.
func (n *Normalizer) drop(method, reason string) []protocol.Event {
	n.log.Debug("dropping notification", "method", method, "reason", reason)
	return nil
}

// errorText unwraps backend error messages. Some backends report errors as a
// JSON string carrying a "detail" field; the detail is the user-facing text.
func errorText(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	var wrapped struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err == nil && wrapped.Detail != "" {
		return wrapped.Detail
	}
	return trimmed
}

// foldChanges normalizes a file-change set to a mapping keyed by path.
// List-of-records form is folded using each record's path field; a value
// that is already a mapping passes through unchanged; anything else yields
// nil.
func foldChanges(p notify.Payload, names ...string) map[string]any {
	if m, ok := p.Obj(names...); ok {
		return m
	}
	records, ok := p.List(names...)
	if !ok {
		return nil
	}
	out := make(map[string]any, len(records))
	for _, rec := range records {
		entry := notify.FromResult(rec)
		path, ok := entry.Str("path", "file", "filename")
		if !ok || path == "" {
			continue
		}
		val := rec.Value()
		rm, _ := val.(map[string]any)
		delete(rm, "path")
		out[path] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
