// Package session owns the per-session transport, outbound message queue,
// and normalizer, and orchestrates mode transitions between them. Exactly
// one transport is active per session; all notification processing is a
// single ordered stream.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/polyagent/polyagent/normalize"
	"github.com/polyagent/polyagent/protocol"
)

const defaultEventBuffer = 256

// Session drives one conversation with a backend, locally or via a hub.
type Session struct {
	id        string
	log       *slog.Logger
	launchers map[Mode]Launcher
	queue     *Queue
	norm      *normalize.Normalizer
	state     *stateManager
	events    chan protocol.Event

	// mu serializes notification dispatch and transport swaps. Transports
	// may deliver from concurrent callbacks; the normalizer must only ever
	// see one notification at a time.
	mu         sync.Mutex
	transport  Transport
	turnID     string
	turnActive bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithID pins the session id instead of generating one. Used by resume.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithEventBuffer sets the subscriber channel capacity.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.events = make(chan protocol.Event, n)
		}
	}
}

// New creates a session with a fresh normalizer and queue. The launchers
// map provides one transport strategy per mode.
func New(launchers map[Mode]Launcher, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		log:       slog.Default(),
		launchers: launchers,
		queue:     NewQueue(),
		state:     newStateManager(),
		events:    make(chan protocol.Event, defaultEventBuffer),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.norm = normalize.New(normalize.WithLogger(s.log))
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Mode returns the currently selected transport mode.
func (s *Session) Mode() Mode {
	_, mode := s.state.Current()
	return mode
}

// Events returns the canonical event stream. Events are dropped (with a
// debug log) if the subscriber falls behind the buffer.
func (s *Session) Events() <-chan protocol.Event { return s.events }

// Queue exposes the outbound queue, mainly for introspection in tests and
// status displays.
func (s *Session) Queue() *Queue { return s.queue }

// Start launches the chosen transport with a fresh normalizer.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	if s.state.IsActive() {
		return ErrAlreadyStarted
	}
	return s.attach(ctx, mode, false)
}

// Resume is identical to Start except the prior session id is passed
// through to the launcher instead of requesting a new one. History replay
// flows through the same normalizer path as live events.
func (s *Session) Resume(ctx context.Context, mode Mode) error {
	if s.state.IsActive() {
		return ErrAlreadyStarted
	}
	return s.attach(ctx, mode, true)
}

func (s *Session) attach(ctx context.Context, mode Mode, resume bool) error {
	t, err := s.launch(ctx, mode, resume)
	if err != nil {
		return err
	}
	if t.ReplaysHistory() {
		s.mu.Lock()
		s.norm.Reset()
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.transport = t
	s.mu.Unlock()
	if err := s.state.SetActive(mode); err != nil {
		_ = t.Stop()
		return err
	}
	return s.queue.Drain(t.Send)
}

func (s *Session) launch(ctx context.Context, mode Mode, resume bool) (Transport, error) {
	l, ok := s.launchers[mode]
	if !ok {
		return nil, ErrNoLauncher
	}
	return l.Launch(ctx, LaunchSpec{
		SessionID: s.id,
		Resume:    resume,
		Notify:    s.Deliver,
		OnExit:    s.handleTransportExit,
	})
}

// Send enqueues one outbound payload and, when a transport is active,
// drains the queue into it. Queued payloads survive transport failures and
// mode switches.
func (s *Session) Send(payload json.RawMessage) error {
	s.queue.Enqueue(payload)

	if !s.state.IsActive() {
		return nil
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil
	}
	return s.queue.Drain(t.Send)
}

// SwitchMode swaps the active transport. The old transport's read loop is
// fully stopped before the new one starts, the queue is never cleared, and
// normalizer buffers persist unless the new transport replays history.
func (s *Session) SwitchMode(ctx context.Context, newMode Mode) error {
	_, oldMode := s.state.Current()
	if newMode == oldMode && s.state.IsActive() {
		return nil
	}
	if err := s.state.SetSwitching(); err != nil {
		return err
	}

	s.mu.Lock()
	old := s.transport
	s.transport = nil
	s.mu.Unlock()
	if old != nil {
		_ = old.Stop()
	}

	nt, err := s.launch(ctx, newMode, true)
	if err != nil {
		// The old transport is already gone; this session needs user
		// intervention. The queue is intact for a later resume.
		s.state.SetIdle()
		s.mu.Lock()
		s.emit(protocol.Event{
			Type:  protocol.EventTaskFailed,
			Error: "mode switch failed: " + err.Error(),
		})
		s.mu.Unlock()
		return &SwitchError{From: oldMode, To: newMode, Cause: err, OldStopped: true}
	}

	if nt.ReplaysHistory() {
		s.mu.Lock()
		s.norm.Reset()
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.transport = nt
	s.mu.Unlock()
	if err := s.state.SetActive(newMode); err != nil {
		_ = nt.Stop()
		return err
	}
	return s.queue.Drain(nt.Send)
}

// Fork produces a new session whose identity derives from this one but
// whose normalizer and queue are fresh and independent.
func (s *Session) Fork(opts ...Option) *Session {
	forkID := s.id + "." + uuid.NewString()[:8]
	opts = append([]Option{WithID(forkID), WithLogger(s.log)}, opts...)
	return New(s.launchers, opts...)
}

// Abort stops pumping from the active transport immediately and emits
// turn_aborted for any turn in flight. The session stays resumable.
func (s *Session) Abort() error {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		_ = t.Stop()
	}

	s.mu.Lock()
	if s.turnActive {
		s.turnActive = false
		s.emit(protocol.Event{Type: protocol.EventTurnAborted, TurnID: s.turnID})
		s.turnID = ""
	}
	s.mu.Unlock()

	s.state.SetIdle()
	return nil
}

// Close tears the session down and releases all buffers.
func (s *Session) Close() error {
	if s.state.IsClosed() {
		return nil
	}

	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()
	if t != nil {
		_ = t.Stop()
	}

	s.state.SetClosed()

	s.mu.Lock()
	s.norm.Reset()
	close(s.events)
	s.mu.Unlock()
	return nil
}

// Deliver runs one raw notification through the normalizer and emits the
// resulting canonical events. Transports and the hook server both feed this
// entry point; the session mutex serializes them into one ordered stream.
func (s *Session) Deliver(method string, params json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsClosed() {
		return
	}

	for _, ev := range s.norm.Handle(method, params) {
		s.trackTurn(ev)
		s.emit(ev)
	}
}

// trackTurn follows turn lifecycle events so transport failures can be
// attributed to an in-flight turn. Caller holds s.mu.
func (s *Session) trackTurn(ev protocol.Event) {
	switch ev.Type {
	case protocol.EventTaskStarted:
		s.turnActive = true
		s.turnID = ev.TurnID
	case protocol.EventTaskComplete, protocol.EventTaskFailed, protocol.EventTurnAborted:
		s.turnActive = false
		s.turnID = ""
	}
}

// handleTransportExit surfaces an unsolicited transport stop: turn_aborted
// when a turn was in flight, task_failed when the transport died, nothing
// on a clean exit with no active turn.
func (s *Session) handleTransportExit(err error) {
	s.mu.Lock()
	if s.state.IsClosed() {
		s.mu.Unlock()
		return
	}
	switch {
	case s.turnActive:
		s.turnActive = false
		s.emit(protocol.Event{Type: protocol.EventTurnAborted, TurnID: s.turnID})
		s.turnID = ""
	case err != nil:
		s.emit(protocol.Event{Type: protocol.EventTaskFailed, Error: err.Error()})
	}
	s.transport = nil
	s.mu.Unlock()

	s.state.SetIdle()
}

// emit sends one event to subscribers without ever blocking the dispatch
// path.
func (s *Session) emit(ev protocol.Event) {
	select {
	case s.events <- ev:
	default:
		s.log.Debug("subscriber behind, dropping event", "session_id", s.id, "type", ev.Type)
	}
}
