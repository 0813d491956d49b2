// Package check defines the contract every compliance check implements and
// the Result the runner records for it.
//
// A Check is pure identity plus one behaviour: given a Target, produce a
// Verdict. Evidence-level non-compliance is a Verdict (Failed, Warning,
// Skipped). Run returns an error only when the check could not complete,
// which the runner records as StatusError.
package check

import (
	"context"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Info is the immutable identity of a check.
type Info struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category" yaml:"category"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Verdict is what a check body produces.
type Verdict struct {
	Status   Status
	Message  string
	Evidence string
}

// Check is implemented by every compliance check, built-in or plugged in.
type Check interface {
	// Info must be callable without a target and must not change between calls.
	Info() Info
	Run(ctx context.Context, t target.Target) (Verdict, error)
}

// Result is the recorded outcome of running one check once.
type Result struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Category  string        `json:"category"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Evidence  string        `json:"evidence,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	StartedAt time.Time     `json:"started_at,omitempty"`
}

// NewResult copies the identity of info into a result for v.
func NewResult(info Info, v Verdict, startedAt time.Time, d time.Duration) Result {
	return Result{
		ID:        info.ID,
		Name:      info.Name,
		Category:  info.Category,
		Status:    v.Status,
		Message:   v.Message,
		Evidence:  v.Evidence,
		Duration:  d,
		StartedAt: startedAt,
	}
}

// Func adapts a plain function to Check. Handy for small built-ins and tests.
type Func struct {
	Meta Info
	Fn   func(ctx context.Context, t target.Target) (Verdict, error)
}

func (f Func) Info() Info { return f.Meta }

func (f Func) Run(ctx context.Context, t target.Target) (Verdict, error) {
	return f.Fn(ctx, t)
}
