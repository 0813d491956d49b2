package target

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	"go.uber.org/zap"
)

// Local runs commands through a shell on the machine running the CLI.
type Local struct {
	Shell     string
	Timeout   time.Duration
	MaxOutput int
	Logger    *zap.Logger
}

// NewLocal returns a Local target with defaults applied.
func NewLocal(timeout time.Duration, logger *zap.Logger) *Local {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Local{
		Shell:     "/bin/sh",
		Timeout:   timeout,
		MaxOutput: consts.MaxStreamBytes,
		Logger:    logger,
	}
}

func (l *Local) Execute(ctx context.Context, command string) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, &TransportError{Op: "exec", Command: command, Err: err}
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = consts.DefaultCommandTimeout
	}
	maxOutput := l.MaxOutput
	if maxOutput <= 0 {
		maxOutput = consts.MaxStreamBytes
	}
	shell := l.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, shell, "-c", command)
	// Background children can keep the pipes open after the shell exits.
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{buf: &stdout, limit: maxOutput}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: maxOutput}

	runErr := cmd.Run()

	if cmdCtx.Err() != nil {
		err := cmdCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("command timed out after %s", timeout)
		}
		l.logger().Debug("local_command_aborted", zap.String("command", command), zap.Error(err))
		return Output{}, &TransportError{Op: "exec", Command: command, Err: err}
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			// Shell missing or not executable.
			return Output{}, &TransportError{Op: "exec", Command: command, Err: runErr}
		}
	}

	return Output{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}

func (l *Local) Kind() Kind      { return KindLocal }
func (l *Local) Exclusive() bool { return false }
func (l *Local) String() string  { return "local" }
func (l *Local) Close() error    { return nil }

func (l *Local) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
