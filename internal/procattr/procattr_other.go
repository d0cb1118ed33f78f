//go:build !linux && !darwin

package procattr

import (
	"os"
	"os/exec"
	"syscall"
)

// Set is a no-op where process groups are unavailable.
func Set(cmd *exec.Cmd) {}

// SignalGroup signals only the process itself.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	return p.Signal(sig)
}

// KillGroup kills only the process itself.
func KillGroup(p *os.Process) error {
	return p.Kill()
}
