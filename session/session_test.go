package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polyagent/polyagent/protocol"
)

type fakeTransport struct {
	mu       sync.Mutex
	spec     LaunchSpec
	sent     []json.RawMessage
	stopped  bool
	failSend bool
	replays  bool
}

func (f *fakeTransport) Send(payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSend {
		return errors.New("send failed")
	}
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeTransport) Stop() error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) ReplaysHistory() bool { return f.replays }

func (f *fakeTransport) sentPayloads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, p := range f.sent {
		out[i] = string(p)
	}
	return out
}

type fakeLauncher struct {
	mu       sync.Mutex
	replays  bool
	err      error
	launched []*fakeTransport
}

func (l *fakeLauncher) Launch(ctx context.Context, spec LaunchSpec) (Transport, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	t := &fakeTransport{spec: spec, replays: l.replays}
	l.launched = append(l.launched, t)
	return t, nil
}

func (l *fakeLauncher) last() *fakeTransport {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.launched) == 0 {
		return nil
	}
	return l.launched[len(l.launched)-1]
}

// drainEvents collects everything currently buffered on the event channel.
func drainEvents(s *Session) []protocol.Event {
	var out []protocol.Event
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []protocol.Event) []protocol.EventType {
	out := make([]protocol.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func newTestSession(t *testing.T, launchers map[Mode]Launcher) *Session {
	t.Helper()
	s := New(launchers)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStart_DeliversNotificationsAsEvents(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	assert.Equal(t, ModeLocal, s.Mode())

	transport := local.last()
	require.NotNil(t, transport)
	assert.Equal(t, s.ID(), transport.spec.SessionID)
	assert.False(t, transport.spec.Resume)

	transport.spec.Notify("turn/started", json.RawMessage(`{"turn":{"id":"t1"}}`))
	transport.spec.Notify("item/agentMessage/delta", json.RawMessage(`{"item_id":"m1","delta":"hi"}`))
	transport.spec.Notify("item/completed", json.RawMessage(`{"item":{"type":"agentMessage","id":"m1"}}`))

	events := drainEvents(s)
	require.Len(t, events, 2)
	assert.Equal(t, protocol.EventTaskStarted, events[0].Type)
	assert.Equal(t, protocol.EventAgentMessage, events[1].Type)
	assert.Equal(t, "hi", events[1].Text)
}

func TestStart_Twice(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	assert.ErrorIs(t, s.Start(context.Background(), ModeLocal), ErrAlreadyStarted)
}

func TestStart_UnknownMode(t *testing.T) {
	s := newTestSession(t, map[Mode]Launcher{})
	assert.ErrorIs(t, s.Start(context.Background(), ModeLocal), ErrNoLauncher)
}

func TestResume_PassesSessionIDThrough(t *testing.T) {
	local := &fakeLauncher{}
	s := New(map[Mode]Launcher{ModeLocal: local}, WithID("sess-42"))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Resume(context.Background(), ModeLocal))

	transport := local.last()
	require.NotNil(t, transport)
	assert.Equal(t, "sess-42", transport.spec.SessionID)
	assert.True(t, transport.spec.Resume)
}

func TestSend_QueuedBeforeStart(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Send(json.RawMessage(`"p1"`)))
	require.NoError(t, s.Send(json.RawMessage(`"p2"`)))
	assert.Equal(t, 2, s.Queue().Len())

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	assert.Equal(t, []string{`"p1"`, `"p2"`}, local.last().sentPayloads())
	assert.Equal(t, 0, s.Queue().Len())
}

func TestSwitchMode_QueuePreservedAndDeliveredOnce(t *testing.T) {
	local := &fakeLauncher{}
	remote := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local, ModeRemote: remote})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	require.NoError(t, s.Send(json.RawMessage(`"p1"`)))

	oldTransport := local.last()
	assert.Equal(t, []string{`"p1"`}, oldTransport.sentPayloads())

	// The local transport starts failing; p2 and p3 stay queued.
	oldTransport.mu.Lock()
	oldTransport.failSend = true
	oldTransport.mu.Unlock()
	require.Error(t, s.Send(json.RawMessage(`"p2"`)))
	require.Error(t, s.Send(json.RawMessage(`"p3"`)))
	assert.Equal(t, 2, s.Queue().Len())

	require.NoError(t, s.SwitchMode(context.Background(), ModeRemote))
	assert.Equal(t, ModeRemote, s.Mode())

	oldTransport.mu.Lock()
	stopped := oldTransport.stopped
	oldTransport.mu.Unlock()
	assert.True(t, stopped)

	newTransport := remote.last()
	require.NotNil(t, newTransport)
	assert.True(t, newTransport.spec.Resume)
	assert.Equal(t, s.ID(), newTransport.spec.SessionID)

	// Exactly once, in order, only on the new transport.
	assert.Equal(t, []string{`"p2"`, `"p3"`}, newTransport.sentPayloads())
	assert.Equal(t, []string{`"p1"`}, oldTransport.sentPayloads())
	assert.Equal(t, 0, s.Queue().Len())
}

func TestSwitchMode_BuffersPersistWithoutReplay(t *testing.T) {
	local := &fakeLauncher{}
	remote := &fakeLauncher{replays: false}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local, ModeRemote: remote})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	local.last().spec.Notify("item/agentMessage/delta", json.RawMessage(`{"item_id":"m1","delta":"first "}`))

	require.NoError(t, s.SwitchMode(context.Background(), ModeRemote))

	nt := remote.last()
	nt.spec.Notify("item/agentMessage/delta", json.RawMessage(`{"item_id":"m1","delta":"second"}`))
	nt.spec.Notify("item/completed", json.RawMessage(`{"item":{"type":"agentMessage","id":"m1"}}`))

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, "first second", events[0].Text)
}

func TestSwitchMode_ReplayResetsBuffers(t *testing.T) {
	local := &fakeLauncher{}
	remote := &fakeLauncher{replays: true}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local, ModeRemote: remote})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	local.last().spec.Notify("item/agentMessage/delta", json.RawMessage(`{"item_id":"m1","delta":"stale"}`))

	require.NoError(t, s.SwitchMode(context.Background(), ModeRemote))

	nt := remote.last()
	nt.spec.Notify("item/completed", json.RawMessage(`{"item":{"type":"agentMessage","id":"m1"}}`))

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Text)
}

func TestSwitchMode_LaunchFailure(t *testing.T) {
	local := &fakeLauncher{}
	remote := &fakeLauncher{err: errors.New("hub unreachable")}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local, ModeRemote: remote})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	require.NoError(t, s.Send(json.RawMessage(`"p1"`)))
	drainEvents(s)

	// Force the payload to stay queued across the failed switch.
	local.last().mu.Lock()
	local.last().failSend = true
	local.last().mu.Unlock()
	_ = s.Send(json.RawMessage(`"p2"`))

	err := s.SwitchMode(context.Background(), ModeRemote)
	var switchErr *SwitchError
	require.ErrorAs(t, err, &switchErr)
	assert.Equal(t, ModeLocal, switchErr.From)
	assert.Equal(t, ModeRemote, switchErr.To)
	assert.True(t, switchErr.OldStopped)

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventTaskFailed, events[0].Type)
	assert.Contains(t, events[0].Error, "hub unreachable")

	// The queue survives for a later resume.
	assert.Equal(t, 1, s.Queue().Len())
	require.NoError(t, s.Start(context.Background(), ModeLocal))
	assert.Equal(t, 0, s.Queue().Len())
}

func TestSwitchMode_WhenIdle(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})
	assert.Error(t, s.SwitchMode(context.Background(), ModeLocal))
}

func TestAbort_EmitsTurnAbortedForInFlightTurn(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	transport := local.last()
	transport.spec.Notify("turn/started", json.RawMessage(`{"turn":{"id":"t1"}}`))
	drainEvents(s)

	require.NoError(t, s.Abort())

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventTurnAborted, events[0].Type)
	assert.Equal(t, "t1", events[0].TurnID)

	transport.mu.Lock()
	stopped := transport.stopped
	transport.mu.Unlock()
	assert.True(t, stopped)

	// The session stays resumable.
	require.NoError(t, s.Resume(context.Background(), ModeLocal))
}

func TestAbort_NoTurnInFlight(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	require.NoError(t, s.Abort())
	assert.Empty(t, drainEvents(s))
}

func TestTransportExit_TurnInFlight(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	transport := local.last()
	transport.spec.Notify("turn/started", json.RawMessage(`{"turn":{"id":"t1"}}`))
	drainEvents(s)

	transport.spec.OnExit(&ProcessError{Message: "backend crashed", ExitCode: 1})

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventTurnAborted, events[0].Type)
	assert.Equal(t, "t1", events[0].TurnID)
}

func TestTransportExit_FailureWithoutTurn(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	local.last().spec.OnExit(&ProcessError{Message: "backend crashed", ExitCode: 1})

	events := drainEvents(s)
	require.Len(t, events, 1)
	assert.Equal(t, protocol.EventTaskFailed, events[0].Type)
	assert.Contains(t, events[0].Error, "backend crashed")
}

func TestTransportExit_CleanWithoutTurn(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	local.last().spec.OnExit(nil)

	assert.Empty(t, drainEvents(s))
	// The session went back to idle and can be resumed.
	require.NoError(t, s.Resume(context.Background(), ModeLocal))
}

func TestFork_FreshStateDerivedID(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	require.NoError(t, s.Send(json.RawMessage(`"p1"`)))
	local.last().mu.Lock()
	local.last().failSend = true
	local.last().mu.Unlock()
	_ = s.Send(json.RawMessage(`"queued"`))

	fork := s.Fork()
	t.Cleanup(func() { _ = fork.Close() })

	assert.True(t, strings.HasPrefix(fork.ID(), s.ID()+"."), "fork id %q", fork.ID())
	assert.NotEqual(t, s.ID(), fork.ID())
	assert.Equal(t, 0, fork.Queue().Len())
	assert.Empty(t, drainEvents(fork))

	// The fork starts independently with the shared launchers.
	require.NoError(t, fork.Start(context.Background(), ModeLocal))
	assert.Equal(t, fork.ID(), local.last().spec.SessionID)
}

func TestClose_StopsTransportAndEndsStream(t *testing.T) {
	local := &fakeLauncher{}
	s := New(map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	transport := local.last()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	transport.mu.Lock()
	stopped := transport.stopped
	transport.mu.Unlock()
	assert.True(t, stopped)

	_, open := <-s.Events()
	assert.False(t, open)

	// Deliveries after close are ignored.
	assert.NotPanics(t, func() {
		transport.spec.Notify("turn/started", json.RawMessage(`{"turn":{"id":"t1"}}`))
	})
	assert.ErrorIs(t, s.Start(context.Background(), ModeLocal), ErrInvalidState)
}

func TestTurnLifecycleTracking(t *testing.T) {
	local := &fakeLauncher{}
	s := newTestSession(t, map[Mode]Launcher{ModeLocal: local})

	require.NoError(t, s.Start(context.Background(), ModeLocal))
	transport := local.last()

	transport.spec.Notify("turn/started", json.RawMessage(`{"turn":{"id":"t1"}}`))
	transport.spec.Notify("turn/completed", json.RawMessage(`{"turn":{"id":"t1","status":"completed"}}`))

	// A clean exit after the turn completed is silent.
	transport.spec.OnExit(nil)

	got := eventTypes(drainEvents(s))
	assert.Equal(t, []protocol.EventType{protocol.EventTaskStarted, protocol.EventTaskComplete}, got)
}
