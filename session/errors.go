package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	// ErrAlreadyStarted is returned when Start is called on a running session.
	ErrAlreadyStarted = errors.New("session already started")

	// ErrNotStarted is returned when an operation requires a started session.
	ErrNotStarted = errors.New("session not started")

	// ErrStopping is returned when an operation is attempted during shutdown.
	ErrStopping = errors.New("session is stopping")

	// ErrSwitching is returned when an operation conflicts with an in-flight
	// mode switch.
	ErrSwitching = errors.New("mode switch in progress")

	// ErrInvalidState is returned for invalid state transitions.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNoLauncher is returned when no launcher is registered for a mode.
	ErrNoLauncher = errors.New("no launcher for mode")
)

// ProcessError represents an error with the backend subprocess.
type ProcessError struct {
	Cause    error
	Message  string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s (exit code %d)", e.Message, e.ExitCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ProcessError) Unwrap() error {
	return e.Cause
}

// SwitchError represents a failed mode switch. The message queue is intact;
// OldStopped reports whether the previous transport was already torn down,
// in which case the session needs user intervention to continue.
type SwitchError struct {
	Cause      error
	From       Mode
	To         Mode
	OldStopped bool
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("switch %s -> %s failed: %v", e.From, e.To, e.Cause)
}

func (e *SwitchError) Unwrap() error {
	return e.Cause
}
