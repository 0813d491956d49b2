package run

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	auditapp "github.com/khanhnv2901/seca-compliance/internal/application/audit"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	domainrun "github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/seca-compliance/internal/metrics"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/target"
	"github.com/khanhnv2901/seca-compliance/internal/target/targettest"
)

type fixture struct {
	svc   *Service
	runs  *json.RunRepository
	audit *auditapp.Service
	fake  *targettest.Fake
	dials int32
}

func commandCheck(id, category, command string) check.Check {
	return check.Func{
		Meta: check.Info{ID: id, Name: id, Category: category},
		Fn: func(ctx context.Context, t target.Target) (check.Verdict, error) {
			out, err := t.Execute(ctx, command)
			if err != nil {
				return check.Verdict{}, err
			}
			if out.Stdout == "ok\n" {
				return check.Verdict{Status: check.StatusPassed, Message: "fine"}, nil
			}
			return check.Verdict{Status: check.StatusFailed, Message: "bad: " + out.Stdout}, nil
		},
	}
}

func newFixture(t *testing.T, m *metrics.Metrics, checks ...check.Check) *fixture {
	t.Helper()
	dir := t.TempDir()

	registry := check.NewRegistry()
	require.NoError(t, registry.Register(checks...))

	runs, err := json.NewRunRepository(dir)
	require.NoError(t, err)
	auditRepo, err := json.NewAuditRepository(dir)
	require.NoError(t, err)

	f := &fixture{
		runs:  runs,
		audit: auditapp.NewService(auditRepo),
		fake:  targettest.New(map[string]string{"cmd-a": "ok\n", "cmd-b": "nope\n"}),
	}
	f.fake.Name = "fake-host"
	f.svc = NewService(registry, runs, f.audit, m, zaptest.NewLogger(t))
	f.svc.SetDialer(func(ctx context.Context, spec TargetSpec, logger *zap.Logger) (target.Target, error) {
		atomic.AddInt32(&f.dials, 1)
		return f.fake, nil
	})
	return f
}

func defaultChecks() []check.Check {
	return []check.Check{
		commandCheck("alpha_001", "alpha", "cmd-a"),
		commandCheck("alpha_002", "alpha", "cmd-b"),
		commandCheck("beta_001", "beta", "cmd-a"),
	}
}

func TestExecutePersistsRunAndAudit(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)
	ctx := context.Background()

	var streamed int32
	rn, err := f.svc.Execute(ctx, Request{
		Operator:    "alice",
		Concurrency: 2,
		OnResult:    func(check.Result) { atomic.AddInt32(&streamed, 1) },
	})
	require.NoError(t, err)

	assert.Equal(t, domainrun.StatusCompleted, rn.Status())
	assert.Equal(t, check.StatusFailed, rn.Overall())
	assert.Equal(t, "fake-host", rn.Target())
	assert.EqualValues(t, 3, streamed)
	assert.True(t, f.fake.Closed(), "target should be closed after the run")

	results := rn.Results()
	require.Len(t, results, 3)
	assert.Equal(t, "alpha_001", results[0].ID)
	assert.Equal(t, "alpha_002", results[1].ID)
	assert.Equal(t, "beta_001", results[2].ID)

	saved, err := f.runs.FindByID(ctx, rn.ID())
	require.NoError(t, err)
	assert.Equal(t, rn.Overall(), saved.Overall())
	assert.Equal(t, "sha256", saved.Metadata().HashAlgorithm)
	assert.NotEmpty(t, saved.Metadata().AuditHash)

	trail, err := f.audit.GetAuditTrail(ctx)
	require.NoError(t, err)
	assert.Len(t, trail.Entries(), 3)

	valid, err := f.audit.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestExecuteSelection(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)

	rn, err := f.svc.Execute(context.Background(), Request{
		Operator:  "alice",
		Selection: check.Selection{Categories: []string{"beta"}},
	})
	require.NoError(t, err)
	require.Len(t, rn.Results(), 1)
	assert.Equal(t, check.StatusPassed, rn.Overall())
}

func TestExecuteUnknownCategoryDoesNotOpenTarget(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)

	_, err := f.svc.Execute(context.Background(), Request{
		Operator:  "alice",
		Selection: check.Selection{Categories: []string{"gamma"}},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrCategoryNotFound))
	assert.Zero(t, atomic.LoadInt32(&f.dials))

	runs, err := f.runs.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestExecuteTargetUnavailable(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)
	f.svc.SetDialer(func(context.Context, TargetSpec, *zap.Logger) (target.Target, error) {
		return nil, sharedErrors.ErrTargetUnavailable
	})

	_, err := f.svc.Execute(context.Background(), Request{Operator: "alice"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sharedErrors.ErrTargetUnavailable))

	runs, err := f.runs.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs, "no run should be persisted when the target cannot be opened")
}

func TestExecuteTransportFailureIsErrorResult(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)
	f.fake.FailAll = true

	rn, err := f.svc.Execute(context.Background(), Request{Operator: "alice"})
	require.NoError(t, err)
	assert.Equal(t, check.StatusError, rn.Overall())
	assert.Equal(t, 3, rn.Summary().Totals.Error)
}

func TestExecuteCancelledRunIsPersisted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int32
	slow := check.Func{
		Meta: check.Info{ID: "slow_001", Name: "slow", Category: "slow"},
		Fn: func(ctx context.Context, t target.Target) (check.Verdict, error) {
			if atomic.AddInt32(&started, 1) == 1 {
				cancel()
			}
			return check.Verdict{Status: check.StatusPassed}, nil
		},
	}
	blocked := commandCheck("slow_002", "slow", "cmd-a")

	f := newFixture(t, nil, slow, blocked)
	rn, err := f.svc.Execute(ctx, Request{Operator: "alice", Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, domainrun.StatusCancelled, rn.Status())
	results := rn.Results()
	require.Len(t, results, 2)
	assert.Equal(t, check.StatusPassed, results[0].Status)
	assert.Equal(t, check.StatusSkipped, results[1].Status)

	saved, err := f.runs.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rn.ID(), saved.ID())
	assert.Equal(t, domainrun.StatusCancelled, saved.Status())
}

func TestExecuteLateCancelLeavesRunCompleted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	last := check.Func{
		Meta: check.Info{ID: "slow_002", Name: "last", Category: "slow"},
		Fn: func(ctx context.Context, t target.Target) (check.Verdict, error) {
			cancel()
			return check.Verdict{Status: check.StatusPassed}, nil
		},
	}

	f := newFixture(t, nil, commandCheck("slow_001", "slow", "cmd-a"), last)
	rn, err := f.svc.Execute(ctx, Request{Operator: "alice", Concurrency: 1})
	require.NoError(t, err)

	assert.Equal(t, domainrun.StatusCompleted, rn.Status())
	for _, res := range rn.Results() {
		assert.NotEqual(t, check.StatusSkipped, res.Status, res.ID)
	}
}

func TestExecuteRecordsMetrics(t *testing.T) {
	m := metrics.New(false)
	f := newFixture(t, m, defaultChecks()...)

	_, err := f.svc.Execute(context.Background(), Request{Operator: "alice"})
	require.NoError(t, err)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, fam := range families {
		names[fam.GetName()] = true
	}
	assert.True(t, names["seca_checks_total"])
	assert.True(t, names["seca_target_commands_total"])
	assert.True(t, names["seca_runs_total"])
}

func TestFindHistoryCompare(t *testing.T) {
	f := newFixture(t, nil, defaultChecks()...)
	ctx := context.Background()

	first, err := f.svc.Execute(ctx, Request{Operator: "alice"})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	f.fake.On("cmd-b", targettest.Response{Output: target.Output{Stdout: "ok\n"}})
	second, err := f.svc.Execute(ctx, Request{Operator: "alice"})
	require.NoError(t, err)

	latest, err := f.svc.Find(ctx, Latest)
	require.NoError(t, err)
	assert.Equal(t, second.ID(), latest.ID())

	byID, err := f.svc.Find(ctx, first.ID())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), byID.ID())

	_, err = f.svc.Find(ctx, "does-not-exist")
	assert.True(t, errors.Is(err, sharedErrors.ErrRunNotFound))

	history, err := f.svc.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, second.ID(), history[0].ID())

	cmp, err := f.svc.Compare(ctx, "", second.ID())
	require.NoError(t, err)
	assert.Equal(t, first.ID(), cmp.PreviousID)
	assert.Equal(t, domainrun.TrendImproving, cmp.Trend)

	var fixed bool
	for _, c := range cmp.Changes {
		if c.ID == "alpha_002" && c.Transition == domainrun.TransitionFixed {
			fixed = true
		}
	}
	assert.True(t, fixed, "alpha_002 should be reported as fixed")
}

func TestOpenRejectsUnknownKind(t *testing.T) {
	_, err := Open(context.Background(), TargetSpec{Kind: "carrier-pigeon"}, nil)
	assert.True(t, errors.Is(err, sharedErrors.ErrInvalidTargetSpec))

	local, err := Open(context.Background(), TargetSpec{Kind: target.KindLocal}, nil)
	require.NoError(t, err)
	assert.Equal(t, target.KindLocal, local.Kind())
}
