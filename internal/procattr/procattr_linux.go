//go:build linux || darwin

// Package procattr configures backend subprocesses to run in their own
// process group so that stop signals reach the whole tree and no agent
// children are orphaned.
package procattr

import (
	"os"
	"os/exec"
	"syscall"
)

// Set places the command in a new process group.
func Set(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SignalGroup sends sig to the process's entire group.
func SignalGroup(p *os.Process, sig syscall.Signal) error {
	return syscall.Kill(-p.Pid, sig)
}

// KillGroup force-kills the process's entire group.
func KillGroup(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
