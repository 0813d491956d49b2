package run

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	auditapp "github.com/khanhnv2901/seca-compliance/internal/application/audit"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/metrics"
	"github.com/khanhnv2901/seca-compliance/internal/runner"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Latest names the most recent run wherever a run id is accepted.
const Latest = "latest"

// Request is one run to execute.
type Request struct {
	Target      TargetSpec
	Selection   check.Selection
	Operator    string
	Concurrency int
	RateLimit   int
	CheckBudget time.Duration
	// OnResult is called once per result as checks finish.
	OnResult runner.ResultFunc
}

// Service executes runs and gives access to their history
type Service struct {
	registry *check.Registry
	runs     run.Repository
	audit    *auditapp.Service
	metrics  *metrics.Metrics
	logger   *zap.Logger
	dial     Dialer
}

// NewService creates a run service. metrics may be nil.
func NewService(registry *check.Registry, runs run.Repository, audit *auditapp.Service, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry: registry,
		runs:     runs,
		audit:    audit,
		metrics:  m,
		logger:   logger,
		dial:     Open,
	}
}

// SetDialer replaces the function used to open targets.
func (s *Service) SetDialer(d Dialer) {
	s.dial = d
}

// Registry returns the check registry the service selects from.
func (s *Service) Registry() *check.Registry {
	return s.registry
}

// Execute selects checks, opens the target, runs the checks and persists the
// run with its audit rows. Selection and target failures are returned before
// anything is persisted. A cancelled ctx yields a cancelled run holding the
// partial results.
func (s *Service) Execute(ctx context.Context, req Request) (*run.Run, error) {
	checks, err := s.registry.Select(req.Selection)
	if err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		return nil, fmt.Errorf("no checks selected (%s)", req.Selection)
	}

	opts := req.Target
	if s.metrics != nil && opts.Kind == target.KindRemote && opts.SSH.OnBreakerChange == nil {
		opts.SSH.OnBreakerChange = s.metrics.BreakerChanged
	}
	t, err := s.dial(ctx, opts, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			s.logger.Warn("target_close_failed", zap.Error(cerr))
		}
	}()

	rn, err := run.New(req.Operator, t.String(), t.Kind(), req.Selection.String())
	if err != nil {
		return nil, err
	}
	if err := rn.Start(); err != nil {
		return nil, err
	}

	log := s.logger.With(zap.String("run_id", rn.ID()), zap.String("target", t.String()))
	log.Info("run_started", zap.Int("checks", len(checks)), zap.String("selection", rn.Selection()))

	exec := t
	r := &runner.Runner{
		Concurrency: req.Concurrency,
		RateLimit:   req.RateLimit,
		CheckBudget: req.CheckBudget,
		Logger:      log,
		OnResult:    req.OnResult,
	}
	if s.metrics != nil {
		exec = target.Observe(t, s.metrics.ObserveCommand)
		r.Metrics = s.metrics
	}

	results := r.Run(ctx, checks, exec)
	for _, res := range results {
		if err := rn.Record(res); err != nil {
			return nil, err
		}
	}

	sum := summary.Aggregate(results)
	if interrupted(results) {
		err = rn.Cancel(sum)
	} else {
		err = rn.Complete(sum)
	}
	if err != nil {
		return nil, err
	}

	// Persist even when the run was cancelled.
	persistCtx := context.WithoutCancel(ctx)
	if s.audit != nil {
		hash, err := s.audit.RecordRun(persistCtx, rn)
		if err != nil {
			log.Error("audit_record_failed", zap.Error(err))
		} else if err := rn.SetAuditHash(hash, auditapp.HashAlgorithm); err != nil {
			log.Error("audit_hash_rejected", zap.Error(err))
		}
	}
	if err := s.runs.Save(persistCtx, rn); err != nil {
		return rn, fmt.Errorf("save run: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(rn.Overall())
	}

	log.Info("run_finished",
		zap.String("status", string(rn.Status())),
		zap.String("overall", rn.Overall().String()),
		zap.Int("passed", sum.Totals.Passed),
		zap.Int("failed", sum.Totals.Failed),
		zap.Int("errors", sum.Totals.Error),
		zap.Duration("duration", rn.Duration()),
	)
	return rn, nil
}

// Find returns the run with id, or the newest run when id is "latest" or
// empty.
func (s *Service) Find(ctx context.Context, id string) (*run.Run, error) {
	if id == "" || id == Latest {
		return s.runs.Latest(ctx)
	}
	return s.runs.FindByID(ctx, id)
}

// History returns up to limit runs, newest first. limit <= 0 means all.
func (s *Service) History(ctx context.Context, limit int) ([]*run.Run, error) {
	runs, err := s.runs.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Compare compares two runs. With prevID empty, cur is compared with the run
// that preceded it.
func (s *Service) Compare(ctx context.Context, prevID, curID string) (run.Comparison, error) {
	cur, err := s.Find(ctx, curID)
	if err != nil {
		return run.Comparison{}, err
	}
	if prevID != "" {
		prev, err := s.Find(ctx, prevID)
		if err != nil {
			return run.Comparison{}, err
		}
		return run.Compare(prev, cur), nil
	}

	history, err := s.runs.FindAll(ctx)
	if err != nil {
		return run.Comparison{}, err
	}
	var prev *run.Run
	for _, candidate := range history {
		if candidate.ID() != cur.ID() && candidate.StartedAt().Before(cur.StartedAt()) {
			prev = candidate
			break
		}
	}
	return run.Compare(prev, cur), nil
}

// interrupted reports whether cancellation skipped any check. A signal that
// arrives after the last check started leaves the run complete.
func interrupted(results []check.Result) bool {
	for _, res := range results {
		if res.Status == check.StatusSkipped && res.Message == runner.CancelledMessage {
			return true
		}
	}
	return false
}
