// Package runner executes checks against targets.
//
// Every check yields exactly one Result, whatever the check does: errors and
// panics become Error results, and checks that have not started when the
// context is cancelled become Skipped. Checks already running when the
// context is cancelled finish normally. Targets that cannot multiplex commands
// are serialized check by check.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// CancelledMessage is the message of checks skipped because the run was
// cancelled before they started.
const CancelledMessage = "run cancelled"

// ResultFunc is called once per result.
type ResultFunc func(res check.Result)

// Recorder receives every result, typically a metrics sink.
type Recorder interface {
	ObserveResult(res check.Result)
}

// Runner orchestrates the execution of checks with concurrency and rate limiting
type Runner struct {
	Concurrency int           // Maximum number of checks in flight per target
	RateLimit   int           // Check starts per second, 0 for no limit
	CheckBudget time.Duration // Cumulative command time allowed per check, 0 for none
	Logger      *zap.Logger
	Metrics     Recorder
	// OnResult is never called concurrently with itself.
	OnResult ResultFunc

	locks  sync.Map // target.Target -> *sync.Mutex
	emitMu sync.Mutex
}

// New returns a Runner with the given concurrency and a no-op logger.
func New(concurrency int) *Runner {
	return &Runner{Concurrency: concurrency}
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Runner) concurrency() int {
	if r.Concurrency < 1 {
		return 1
	}
	return r.Concurrency
}

func (r *Runner) lockFor(t target.Target) *sync.Mutex {
	mu, _ := r.locks.LoadOrStore(t, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Run executes checks against t and returns their results in input order.
func (r *Runner) Run(ctx context.Context, checks []check.Check, t target.Target) []check.Result {
	results := make([]check.Result, len(checks))
	if len(checks) == 0 {
		return results
	}

	var limiter *rate.Limiter
	if r.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.RateLimit), r.RateLimit)
	}
	var mu *sync.Mutex
	if t.Exclusive() {
		mu = r.lockFor(t)
	}

	log := r.logger().With(zap.String("target", t.String()))
	log.Debug("run_started", zap.Int("checks", len(checks)), zap.Int("concurrency", r.concurrency()))

	var g errgroup.Group
	g.SetLimit(r.concurrency())
	for i, c := range checks {
		g.Go(func() error {
			res := r.runOne(ctx, log, c, t, mu, limiter)
			results[i] = res
			r.emit(res)
			return nil
		})
	}
	_ = g.Wait()

	log.Debug("run_finished", zap.Int("results", len(results)))
	return results
}

func (r *Runner) runOne(ctx context.Context, log *zap.Logger, c check.Check, t target.Target, mu *sync.Mutex, limiter *rate.Limiter) check.Result {
	info, err := describe(c)
	if err != nil {
		log.Error("check_panicked", zap.String("check", info.ID), zap.Error(err))
		return check.NewResult(info, check.Verdict{Status: check.StatusError, Message: err.Error()}, time.Now(), 0)
	}
	if ctx.Err() != nil {
		return cancelled(info)
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return cancelled(info)
		}
	}
	if mu != nil {
		mu.Lock()
		defer mu.Unlock()
		// The run may have been cancelled while waiting for the target.
		if ctx.Err() != nil {
			return cancelled(info)
		}
	}

	// Once started, a check runs to completion. Cancellation only stops new
	// starts; command timeouts and the check budget still bound the work.
	tgt := target.WithBudget(t, r.CheckBudget)
	start := time.Now()
	v := r.execute(context.WithoutCancel(ctx), log, info, c, tgt)
	elapsed := time.Since(start)

	log.Info("check_finished",
		zap.String("check", info.ID),
		zap.String("status", v.Status.String()),
		zap.Duration("duration", elapsed),
	)
	return check.NewResult(info, v, start, elapsed)
}

// describe reads the check metadata. A panicking Info yields a placeholder
// named after the check's type.
func describe(c check.Check) (info check.Info, err error) {
	defer func() {
		if p := recover(); p != nil {
			info = check.Info{ID: fmt.Sprintf("%T", c), Name: fmt.Sprintf("%T", c)}
			err = fmt.Errorf("check metadata panicked: %v", p)
		}
	}()
	return c.Info(), nil
}

func (r *Runner) execute(ctx context.Context, log *zap.Logger, info check.Info, c check.Check, t target.Target) (v check.Verdict) {
	defer func() {
		if p := recover(); p != nil {
			log.Error("check_panicked", zap.String("check", info.ID), zap.Any("panic", p), zap.Stack("stack"))
			v = check.Verdict{Status: check.StatusError, Message: fmt.Sprintf("check panicked: %v", p)}
		}
	}()

	verdict, err := c.Run(ctx, t)
	if err != nil {
		log.Warn("check_failed", zap.String("check", info.ID), zap.Error(err))
		return check.Verdict{Status: check.StatusError, Message: fmt.Sprintf("Test execution failed: %v", err)}
	}
	if !verdict.Status.Valid() {
		return check.Verdict{
			Status:   check.StatusError,
			Message:  fmt.Sprintf("check returned invalid status %q", string(verdict.Status)),
			Evidence: verdict.Evidence,
		}
	}
	return verdict
}

func cancelled(info check.Info) check.Result {
	return check.NewResult(info, check.Verdict{Status: check.StatusSkipped, Message: CancelledMessage}, time.Now(), 0)
}

func (r *Runner) emit(res check.Result) {
	if r.OnResult == nil && r.Metrics == nil {
		return
	}
	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	if r.Metrics != nil {
		r.Metrics.ObserveResult(res)
	}
	if r.OnResult != nil {
		r.OnResult(res)
	}
}

// TargetResults groups the results of one target.
type TargetResults struct {
	Target  string
	Results []check.Result
}

// RunTargets runs checks against every target in parallel. Each target keeps
// its own serialization and concurrency limit. Results are returned in
// target order.
func (r *Runner) RunTargets(ctx context.Context, checks []check.Check, targets []target.Target) []TargetResults {
	out := make([]TargetResults, len(targets))
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			out[i] = TargetResults{Target: t.String(), Results: r.Run(ctx, checks, t)}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
