package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"
)

// Notification is one raw notification frame from a remote hub.
type Notification struct {
	Method string
	Params json.RawMessage
}

// RemoteAPI is the hub client collaborator. Attach subscribes to a session's
// notification stream; the returned channel closes on disconnect, and the
// transport re-attaches with backoff.
type RemoteAPI interface {
	Attach(ctx context.Context, sessionID string) (<-chan Notification, error)
	Send(ctx context.Context, sessionID string, payload json.RawMessage) error
}

// RemoteLauncher attaches to sessions already running on a hub.
type RemoteLauncher struct {
	API    RemoteAPI
	Logger *slog.Logger
}

// Launch starts the remote pump for the session.
func (l *RemoteLauncher) Launch(ctx context.Context, spec LaunchSpec) (Transport, error) {
	log := l.Logger
	if log == nil {
		log = slog.Default()
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	t := &remoteTransport{
		api:    l.API,
		spec:   spec,
		log:    log,
		ctx:    pumpCtx,
		cancel: cancel,
	}
	t.wg.Add(1)
	go t.pump()
	return t, nil
}

// remoteTransport forwards payloads through the hub API and pumps the hub's
// notification stream into the session. Transient disconnects are retried
// with backoff; the session's normalizer buffers stay intact across
// reconnects.
type remoteTransport struct {
	api    RemoteAPI
	spec   LaunchSpec
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopping bool
}

func (t *remoteTransport) pump() {
	defer t.wg.Done()

	const (
		initialBackoff = 500 * time.Millisecond
		maxBackoff     = 10 * time.Second
	)
	backoff := initialBackoff

	for {
		if t.ctx.Err() != nil {
			return
		}
		ch, err := t.api.Attach(t.ctx, t.spec.SessionID)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			t.log.Debug("hub attach failed", "session_id", t.spec.SessionID, "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-t.ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = initialBackoff

	stream:
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					// Disconnected; re-attach.
					t.log.Debug("hub stream closed, reconnecting", "session_id", t.spec.SessionID)
					break stream
				}
				t.spec.Notify(n.Method, n.Params)
			case <-t.ctx.Done():
				return
			}
		}
	}
}

// Send forwards one payload to the hub for this session.
func (t *remoteTransport) Send(payload json.RawMessage) error {
	t.mu.Lock()
	stopping := t.stopping
	t.mu.Unlock()
	if stopping {
		return ErrStopping
	}
	return t.api.Send(t.ctx, t.spec.SessionID, payload)
}

// Stop detaches from the hub. After it returns no Notify call is in flight.
func (t *remoteTransport) Stop() error {
	t.mu.Lock()
	t.stopping = true
	t.mu.Unlock()

	t.cancel()
	t.wg.Wait()
	return nil
}

// ReplaysHistory reports true: hubs re-deliver the session's event history
// on attach, so the normalizer resets before pumping begins.
func (t *remoteTransport) ReplaysHistory() bool { return true }

var _ Transport = (*remoteTransport)(nil)
var _ Launcher = (*RemoteLauncher)(nil)
