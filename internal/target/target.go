// Package target abstracts "a place to run a command and get back output".
//
// A Target owns its transport. Checks only ever see the Execute contract:
// a nonzero exit code or empty output is a normal Output, while a failure to
// deliver the command at all is reported as a *TransportError.
package target

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes local and remote targets.
type Kind string

const (
	KindLocal  Kind = "local"
	KindRemote Kind = "remote"
)

// Output is the captured result of one command.
type Output struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Combined returns stdout followed by stderr.
func (o Output) Combined() string {
	if o.Stderr == "" {
		return o.Stdout
	}
	if o.Stdout == "" {
		return o.Stderr
	}
	return strings.TrimRight(o.Stdout, "\n") + "\n" + o.Stderr
}

// Target runs opaque shell commands on a host.
type Target interface {
	// Execute runs command and returns its output. Only transport-level
	// failures are returned as errors.
	Execute(ctx context.Context, command string) (Output, error)
	Kind() Kind
	// Exclusive reports whether concurrent callers must serialize on this
	// target, e.g. because it multiplexes a single remote session.
	Exclusive() bool
	String() string
	Close() error
}

// TransportError reports that a command could not be delivered to the target.
type TransportError struct {
	Op      string
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %q: %v", e.Op, truncate(e.Command, 80), e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
