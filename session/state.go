package session

import "sync"

// Mode selects which transport drives a session.
type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

// sessionState is the lifecycle state of a session's transport ownership.
type sessionState int

const (
	stateIdle sessionState = iota
	stateActive
	stateSwitching
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateActive:
		return "active"
	case stateSwitching:
		return "switching"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// stateManager serializes session state transitions. Mode switches are
// exclusive: exactly one transport is active at any instant and a switch
// fully stops the old transport before the new one starts.
type stateManager struct {
	mu    sync.RWMutex
	state sessionState
	mode  Mode
}

func newStateManager() *stateManager {
	return &stateManager{state: stateIdle}
}

func (m *stateManager) Current() (sessionState, Mode) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, m.mode
}

// SetActive transitions idle or switching to active in the given mode.
func (m *stateManager) SetActive(mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateIdle && m.state != stateSwitching {
		return ErrInvalidState
	}
	m.state = stateActive
	m.mode = mode
	return nil
}

// SetSwitching transitions active to switching.
func (m *stateManager) SetSwitching() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateActive {
		return ErrInvalidState
	}
	m.state = stateSwitching
	return nil
}

// SetIdle marks the session stopped but resumable.
func (m *stateManager) SetIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateClosed {
		m.state = stateIdle
	}
}

func (m *stateManager) SetClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = stateClosed
}

func (m *stateManager) IsActive() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateActive
}

func (m *stateManager) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == stateClosed
}
