// Package targettest provides a scripted in-memory Target for tests.
package targettest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Response is the scripted reply for a command.
type Response struct {
	Output target.Output
	Err    error
	Delay  time.Duration
}

// Fake is a Target whose replies are looked up by exact command, then by the
// longest registered prefix, then fall back to Default.
type Fake struct {
	Responses map[string]Response
	Default   Response
	// FailAll makes every command fail with a transport error.
	FailAll bool
	KindOf  target.Kind
	Serial  bool
	Name    string

	mu       sync.Mutex
	commands []string
	closed   bool
}

// New returns a Fake that answers commands from the given stdout map.
func New(stdout map[string]string) *Fake {
	f := &Fake{Responses: make(map[string]Response, len(stdout)), KindOf: target.KindLocal}
	for cmd, out := range stdout {
		f.Responses[cmd] = Response{Output: target.Output{Stdout: out}}
	}
	return f
}

// On registers a reply for command.
func (f *Fake) On(command string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Responses == nil {
		f.Responses = make(map[string]Response)
	}
	f.Responses[command] = resp
	return f
}

func (f *Fake) Execute(ctx context.Context, command string) (target.Output, error) {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	resp := f.lookup(command)
	failAll := f.FailAll
	f.mu.Unlock()

	if failAll {
		return target.Output{}, &target.TransportError{Op: "exec", Command: command, Err: errors.New("connection lost")}
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return target.Output{}, &target.TransportError{Op: "exec", Command: command, Err: ctx.Err()}
		}
	}
	if resp.Err != nil {
		return target.Output{}, resp.Err
	}
	return resp.Output, nil
}

func (f *Fake) lookup(command string) Response {
	if resp, ok := f.Responses[command]; ok {
		return resp
	}
	best := -1
	var out Response
	for prefix, resp := range f.Responses {
		if strings.HasPrefix(command, prefix) && len(prefix) > best {
			best = len(prefix)
			out = resp
		}
	}
	if best >= 0 {
		return out
	}
	return f.Default
}

// Commands returns the commands executed so far, in order.
func (f *Fake) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *Fake) Kind() target.Kind {
	if f.KindOf == "" {
		return target.KindLocal
	}
	return f.KindOf
}

func (f *Fake) Exclusive() bool { return f.Serial }

func (f *Fake) String() string {
	if f.Name != "" {
		return f.Name
	}
	return "fake"
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
