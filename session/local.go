package session

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/polyagent/polyagent/internal/procattr"
)

// LocalConfig describes how to spawn a backend CLI subprocess.
type LocalConfig struct {
	// BinaryPath is the backend executable. Discovery heuristics live in the
	// caller; this is always a resolved path or name on PATH.
	BinaryPath string
	Args       []string
	Env        map[string]string
	Dir        string
	Logger     *slog.Logger
}

// LocalLauncher spawns and owns a backend subprocess per session. Stdout is
// newline-delimited JSON notification frames; stdin receives queued payloads
// serialized one per line.
type LocalLauncher struct {
	Config LocalConfig
}

// Launch starts the subprocess and its pump goroutines.
func (l *LocalLauncher) Launch(ctx context.Context, spec LaunchSpec) (Transport, error) {
	log := l.Config.Logger
	if log == nil {
		log = slog.Default()
	}

	args := append([]string(nil), l.Config.Args...)
	if spec.Resume && spec.SessionID != "" {
		args = append(args, "--resume", spec.SessionID)
	}

	cmd := exec.CommandContext(ctx, l.Config.BinaryPath, args...)
	cmd.Dir = l.Config.Dir
	procattr.Set(cmd)

	if len(l.Config.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range l.Config.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stdout pipe", Cause: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, &ProcessError{Message: "failed to get stderr pipe", Cause: err}
	}

	if err := cmd.Start(); err != nil {
		return nil, &ProcessError{Message: "failed to start backend process", Cause: err}
	}

	t := &localTransport{
		spec:    spec,
		cmd:     cmd,
		stdin:   stdin,
		encoder: json.NewEncoder(stdin),
		reader:  bufio.NewReader(stdout),
		stderr:  stderr,
		log:     log,
		exited:  make(chan struct{}),
	}

	t.pumps = &errgroup.Group{}
	t.pumps.Go(t.readLoop)
	t.pumps.Go(t.drainStderr)
	go t.waitExit()

	return t, nil
}

// localTransport is one live subprocess attachment.
type localTransport struct {
	spec    LaunchSpec
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	encoder *json.Encoder
	reader  *bufio.Reader
	stderr  io.ReadCloser
	log     *slog.Logger
	pumps   *errgroup.Group
	exited  chan struct{}

	mu       sync.Mutex
	stopping bool
}

// notificationFrame is one stdout line from the backend.
type notificationFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// readLoop pumps stdout frames into the session. Returns nil on EOF.
func (t *localTransport) readLoop() error {
	for {
		line, err := t.reader.ReadBytes('\n')
		if len(line) > 0 {
			t.handleLine(line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (t *localTransport) handleLine(line []byte) {
	var frame notificationFrame
	if err := json.Unmarshal(line, &frame); err != nil || frame.Method == "" {
		t.log.Debug("skipping unparseable stdout line", "line", string(line))
		return
	}
	t.spec.Notify(frame.Method, frame.Params)
}

// drainStderr keeps the subprocess from blocking on a full stderr pipe and
// surfaces its diagnostics in our log.
func (t *localTransport) drainStderr() error {
	scanner := bufio.NewScanner(t.stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		t.log.Debug("backend stderr", "line", scanner.Text())
	}
	return nil
}

// waitExit owns cmd.Wait. It runs after both pumps finish (the pipes close
// when the process dies), so once exited is closed no Notify call is in
// flight.
func (t *localTransport) waitExit() {
	readErr := t.pumps.Wait()
	waitErr := t.cmd.Wait()
	close(t.exited)

	t.mu.Lock()
	stopping := t.stopping
	t.mu.Unlock()
	if stopping {
		return
	}

	var err error
	switch {
	case waitErr != nil:
		exitCode := 0
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		err = &ProcessError{Message: "backend process exited", Cause: waitErr, ExitCode: exitCode}
	case readErr != nil:
		err = &ProcessError{Message: "backend stream read failed", Cause: readErr}
	}

	if t.spec.OnExit != nil {
		t.spec.OnExit(err)
	}
}

// Send writes one payload as a JSON line to the backend's stdin.
func (t *localTransport) Send(payload json.RawMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopping {
		return ErrStopping
	}
	return t.encoder.Encode(payload)
}

// Stop shuts the subprocess down: close stdin, wait briefly for a clean
// exit, then escalate SIGINT and SIGKILL to the whole process group.
func (t *localTransport) Stop() error {
	t.mu.Lock()
	if t.stopping {
		t.mu.Unlock()
		<-t.exited
		return nil
	}
	t.stopping = true
	t.mu.Unlock()

	_ = t.stdin.Close()

	select {
	case <-t.exited:
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	if t.cmd.Process != nil {
		_ = procattr.SignalGroup(t.cmd.Process, syscall.SIGINT)
	}
	select {
	case <-t.exited:
		return nil
	case <-time.After(500 * time.Millisecond):
	}

	if t.cmd.Process != nil {
		_ = procattr.KillGroup(t.cmd.Process)
	}
	<-t.exited
	return nil
}

// ReplaysHistory reports false: a freshly spawned subprocess starts its
// notification stream from the live turn.
func (t *localTransport) ReplaysHistory() bool { return false }

var _ Transport = (*localTransport)(nil)
var _ Launcher = (*LocalLauncher)(nil)
