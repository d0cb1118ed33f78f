// Command polyagent drives coding-agent CLI backends through one session
// abstraction, locally as a managed subprocess or remotely via a hub.
//
// Commands:
//   - run: launch a local backend and stream canonical events as NDJSON
//   - attach: attach to a session hosted on a remote hub
//   - schema: print the canonical event JSON schema
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/polyagent/polyagent/hooks"
	"github.com/polyagent/polyagent/protocol"
	"github.com/polyagent/polyagent/remote"
	"github.com/polyagent/polyagent/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "polyagent",
		Short: "Unified session layer for coding-agent CLI backends",
		Long: `polyagent normalizes the notification protocols of coding-agent CLI
backends into one canonical event stream.

Use 'run' to drive a backend subprocess locally.
Use 'attach' to attach to a session hosted on a remote hub.`,
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAttachCmd())
	rootCmd.AddCommand(newSchemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type runFlags struct {
	binary      string
	args        []string
	dir         string
	resume      string
	hooksListen string
	autoApprove bool
	verbose     bool
}

func newRunCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags]",
		Short: "Launch a local backend and stream canonical events",
		Long: `Run launches the backend binary as a managed subprocess, feeds it input
lines from stdin, and prints one canonical event per line to stdout.

Stdin lines that parse as JSON are sent to the backend verbatim; anything
else is wrapped as user input.`,
		Example: `  polyagent run --backend codex
  polyagent run --backend codex --arg --full-auto --dir ~/src/project
  polyagent run --backend codex --resume 0c5e…f1 --hooks-listen 127.0.0.1:8377`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runLocal(flags)
		},
	}

	cmd.Flags().StringVar(&flags.binary, "backend", "", "Backend binary to launch (required)")
	cmd.Flags().StringArrayVar(&flags.args, "arg", nil, "Extra argument passed to the backend (repeatable)")
	cmd.Flags().StringVar(&flags.dir, "dir", "", "Working directory for the backend (defaults to current directory)")
	cmd.Flags().StringVar(&flags.resume, "resume", "", "Resume the given session id instead of starting fresh")
	cmd.Flags().StringVar(&flags.hooksListen, "hooks-listen", "", "Address for the hook callback server (disabled when empty)")
	cmd.Flags().BoolVar(&flags.autoApprove, "auto-approve", false, "Approve all hook approval requests (default denies)")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("backend")

	return cmd
}

func runLocal(flags *runFlags) {
	log := newLogger(flags.verbose)

	launchers := map[session.Mode]session.Launcher{
		session.ModeLocal: &session.LocalLauncher{
			Config: session.LocalConfig{
				BinaryPath: flags.binary,
				Args:       flags.args,
				Dir:        flags.dir,
				Logger:     log,
			},
		},
	}

	var opts []session.Option
	opts = append(opts, session.WithLogger(log))
	if flags.resume != "" {
		opts = append(opts, session.WithID(flags.resume))
	}
	sess := session.New(launchers, opts...)

	ctx, cancel := signalContext()
	defer cancel()

	if flags.hooksListen != "" {
		approval := hooks.DenyAllHandler()
		if flags.autoApprove {
			approval = hooks.AutoApproveHandler()
		}
		srv := hooks.NewServer(hooks.WithLogger(log))
		key := srv.Register(sess, approval)
		defer srv.Deregister(key)
		go func() {
			log.Info("hook server listening", "addr", flags.hooksListen, "key", key)
			if err := http.ListenAndServe(flags.hooksListen, srv.Handler()); err != nil {
				log.Error("hook server failed", "error", err)
			}
		}()
	}

	var err error
	if flags.resume != "" {
		err = sess.Resume(ctx, session.ModeLocal)
	} else {
		err = sess.Start(ctx, session.ModeLocal)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting session: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	fmt.Fprintf(os.Stderr, "session %s started\n", sess.ID())
	runSession(ctx, sess)
}

type attachFlags struct {
	url       string
	token     string
	sessionID string
	verbose   bool
}

func newAttachCmd() *cobra.Command {
	flags := &attachFlags{}

	cmd := &cobra.Command{
		Use:   "attach [flags]",
		Short: "Attach to a session hosted on a remote hub",
		Example: `  polyagent attach --url hub.example.com --session 0c5e…f1
  polyagent attach --url https://hub.example.com --token $POLYAGENT_TOKEN --session 0c5e…f1`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			runAttach(flags)
		},
	}

	cmd.Flags().StringVar(&flags.url, "url", "", "Base URL of the hub (required)")
	cmd.Flags().StringVar(&flags.token, "token", strings.TrimSpace(os.Getenv("POLYAGENT_TOKEN")), "Bearer token for the hub")
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "Session id to attach to (required)")
	cmd.Flags().BoolVar(&flags.verbose, "verbose", false, "Enable debug logging")
	_ = cmd.MarkFlagRequired("url")
	_ = cmd.MarkFlagRequired("session")

	return cmd
}

func runAttach(flags *attachFlags) {
	log := newLogger(flags.verbose)

	client, err := remote.NewClient(flags.url,
		remote.WithToken(flags.token),
		remote.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	launchers := map[session.Mode]session.Launcher{
		session.ModeRemote: &session.RemoteLauncher{API: client, Logger: log},
	}
	sess := session.New(launchers,
		session.WithLogger(log),
		session.WithID(flags.sessionID))

	ctx, cancel := signalContext()
	defer cancel()

	if err := sess.Resume(ctx, session.ModeRemote); err != nil {
		fmt.Fprintf(os.Stderr, "Error attaching: %v\n", err)
		os.Exit(1)
	}
	defer sess.Close()

	fmt.Fprintf(os.Stderr, "attached to session %s at %s\n", sess.ID(), flags.url)
	runSession(ctx, sess)
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the canonical event JSON schema",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			data, err := json.MarshalIndent(protocol.EventSchema(), "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(data))
		},
	}
}

// runSession pumps canonical events to stdout and stdin lines into the
// session until either side ends.
func runSession(ctx context.Context, sess *session.Session) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		enc := json.NewEncoder(os.Stdout)
		for ev := range sess.Events() {
			_ = enc.Encode(ev)
		}
	}()

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			payload := userPayload(line)
			if err := sess.Send(payload); err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
}

// userPayload passes raw JSON through and wraps plain text as user input.
func userPayload(line string) json.RawMessage {
	if json.Valid([]byte(line)) {
		return json.RawMessage(line)
	}
	payload, _ := json.Marshal(map[string]string{
		"type": "user_input",
		"text": line,
	})
	return payload
}

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()
	return ctx, cancel
}
