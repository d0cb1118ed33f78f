package session

import (
	"context"
	"encoding/json"
)

// NotifyFunc receives one raw notification frame from a transport. The
// orchestrator serializes calls before handing them to the normalizer.
type NotifyFunc func(method string, params json.RawMessage)

// ExitFunc reports that a transport's read loop has stopped on its own
// (process exit, stream closed). A nil error means a clean stop.
type ExitFunc func(err error)

// LaunchSpec carries everything a launcher needs to bind a transport to a
// session.
type LaunchSpec struct {
	// SessionID identifies the session on the backend. On resume the prior
	// id is passed through instead of requesting a new one.
	SessionID string

	// Resume indicates the backend should re-attach to an existing session
	// rather than create one.
	Resume bool

	Notify NotifyFunc
	OnExit ExitFunc
}

// Transport is one live attachment to a backend: a local subprocess or a
// remote hub session. Exactly one transport per session is active at any
// instant.
type Transport interface {
	// Send delivers one outbound payload to the backend.
	Send(payload json.RawMessage) error

	// Stop tears the transport down. It is idempotent, releases all
	// resources, and guarantees no Notify call is in flight or will be made
	// after it returns.
	Stop() error

	// ReplaysHistory reports whether the backend re-delivers prior session
	// events after attach. When true the session resets its normalizer
	// before pumping, so replayed deltas do not double-accumulate.
	ReplaysHistory() bool
}

// Launcher starts transports for one mode.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (Transport, error)
}
