// Package unixsocket implements the subprocess function backend. Each
// instance owns one long-lived handler process, addressed through a
// filesystem-named stream socket in a private temporary directory. The
// gateway speaks the textual envelope encoding over it, one request per
// connection.
package unixsocket

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/wudi/fngate/internal/config"
	"github.com/wudi/fngate/internal/envelope"
	"github.com/wudi/fngate/internal/transport/unixsock"
)

const (
	// sockName is the fixed filename appended to the temp directory to form
	// the socket address handed to the handler process.
	sockName = "sock"

	// Poll timeouts for the per-request write and read phases.
	writeTimeout = 2500 * time.Millisecond
	readTimeout  = 2500 * time.Millisecond

	// Readiness probing after spawn: the handler gets up to startupDeadline
	// to bind and listen on the socket path.
	startupProbeInterval = 20 * time.Millisecond
	startupDeadline      = 10 * time.Second
)

// Runtime is one warm subprocess instance. All fields are immutable after
// Initialize; per-request client sockets are created and closed inside
// HandleRequest, so concurrent invocations are independent.
type Runtime struct {
	cfg      config.FunctionConfig
	dir      string
	sockPath string
	cmd      *exec.Cmd
	logger   *zap.Logger
}

// Initialize spawns the handler process for cfg and waits for it to accept
// connections. The handler is launched with the socket path as its final
// argument and is expected to bind and listen on it. Initialize runs under
// the instance cache's write lock, so concurrent cold requests for the same
// function block here until the instance is ready.
func Initialize(cfg *config.FunctionConfig, logger *zap.Logger) (*Runtime, error) {
	dir, err := os.MkdirTemp("", "fngate-fn-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	sockPath := filepath.Join(dir, sockName)

	argv := append(cfg.Argv(), sockPath)
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("spawn handler %q: %w", argv[0], err)
	}

	// Reap the child when it exits so a crashed handler does not linger as
	// a zombie until gateway shutdown.
	go cmd.Wait()

	r := &Runtime{
		cfg:      *cfg,
		dir:      dir,
		sockPath: sockPath,
		cmd:      cmd,
		logger:   logger,
	}

	if err := r.awaitReady(); err != nil {
		r.Shutdown()
		return nil, err
	}

	logger.Info("function handler ready",
		zap.String("route", cfg.Route),
		zap.String("handler", cfg.Handler),
		zap.Int("pid", cmd.Process.Pid),
	)
	return r, nil
}

// awaitReady probes the socket with connect attempts under exponential
// backoff until the handler is listening or the startup deadline passes.
func (r *Runtime) awaitReady() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = startupProbeInterval
	bo.MaxElapsedTime = startupDeadline

	probe := func() error {
		conn, err := unixsock.Dial(r.sockPath)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
	}
	if err := backoff.Retry(probe, bo); err != nil {
		return fmt.Errorf("handler did not accept connections within %s: %w", startupDeadline, err)
	}
	return nil
}

// SocketPath returns the address the handler listens on.
func (r *Runtime) SocketPath() string {
	return r.sockPath
}

// HandleRequest sends one textual-encoded FunctionContext to the handler over
// a fresh connection and reads back one message. When the reply decodes as a
// FunctionResponse it is re-encoded in the compact binary form the dispatcher
// expects; otherwise the handler's raw bytes are returned so the dispatcher
// can serve them as plain text.
func (r *Runtime) HandleRequest(fctx *envelope.FunctionContext) ([]byte, error) {
	payload, err := envelope.EncodeText(fctx)
	if err != nil {
		return nil, err
	}

	conn, err := unixsock.Dial(r.sockPath)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.PollWrite(writeTimeout); err != nil {
		return nil, err
	}
	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}

	if err := conn.PollRead(readTimeout); err != nil {
		return nil, err
	}
	reply, err := conn.ReadAll()
	if err != nil {
		return nil, err
	}

	res, err := envelope.DecodeResponseText(reply)
	if err != nil {
		// Not a FunctionResponse. Hand the raw bytes up; the dispatcher
		// serves them as an untyped text/plain body.
		return reply, nil
	}
	return envelope.EncodeBinary(res)
}

// Shutdown signals the handler process to terminate and releases the temp
// directory, removing the socket file with it.
func (r *Runtime) Shutdown() error {
	var first error
	if r.cmd != nil && r.cmd.Process != nil {
		if err := r.cmd.Process.Signal(syscall.SIGTERM); err != nil && !isProcessGone(err) {
			first = fmt.Errorf("signal handler process: %w", err)
		}
	}
	if err := os.RemoveAll(r.dir); err != nil && first == nil {
		first = fmt.Errorf("remove temp dir: %w", err)
	}
	return first
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
