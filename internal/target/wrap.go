package target

import (
	"context"
	"fmt"
	"time"
)

// CommandObserver is notified after every command a target executes.
type CommandObserver func(kind Kind, command string, out Output, err error, elapsed time.Duration)

type observed struct {
	Target
	observe CommandObserver
}

// Observe decorates t so that every Execute call is reported to fn.
func Observe(t Target, fn CommandObserver) Target {
	if fn == nil {
		return t
	}
	return &observed{Target: t, observe: fn}
}

func (o *observed) Execute(ctx context.Context, command string) (Output, error) {
	start := time.Now()
	out, err := o.Target.Execute(ctx, command)
	o.observe(o.Target.Kind(), command, out, err, time.Since(start))
	return out, err
}

type budgeted struct {
	Target
	budget   time.Duration
	deadline time.Time
}

// WithBudget decorates t with a cumulative ceiling measured from now. Once
// the budget is spent, remaining commands fail with a *TransportError and
// the in-flight command is cut off at the deadline.
func WithBudget(t Target, budget time.Duration) Target {
	if budget <= 0 {
		return t
	}
	return &budgeted{Target: t, budget: budget, deadline: time.Now().Add(budget)}
}

func (b *budgeted) Execute(ctx context.Context, command string) (Output, error) {
	if !time.Now().Before(b.deadline) {
		return Output{}, &TransportError{Op: "exec", Command: command, Err: fmt.Errorf("check budget of %s exceeded", b.budget)}
	}
	ctx, cancel := context.WithDeadline(ctx, b.deadline)
	defer cancel()
	out, err := b.Target.Execute(ctx, command)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return Output{}, &TransportError{Op: "exec", Command: command, Err: fmt.Errorf("check budget of %s exceeded", b.budget)}
	}
	return out, err
}
