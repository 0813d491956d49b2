package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-compliance/cmd/testutil"
	"github.com/khanhnv2901/seca-compliance/internal/application"
	auditapp "github.com/khanhnv2901/seca-compliance/internal/application/audit"
	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/seca-compliance/internal/metrics"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
	"github.com/khanhnv2901/seca-compliance/internal/target/targettest"
)

// commandCheck passes when command prints "ok" and fails otherwise.
func commandCheck(id, category, command string) check.Check {
	return check.Func{
		Meta: check.Info{ID: id, Name: "Check " + id, Category: category},
		Fn: func(ctx context.Context, t target.Target) (check.Verdict, error) {
			out, err := t.Execute(ctx, command)
			if err != nil {
				return check.Verdict{}, err
			}
			if out.Stdout == "ok\n" {
				return check.Verdict{Status: check.StatusPassed, Message: "fine", Evidence: out.Stdout}, nil
			}
			return check.Verdict{Status: check.StatusFailed, Message: "unexpected output", Evidence: out.Stdout}, nil
		},
	}
}

func testChecks() []check.Check {
	return []check.Check{
		commandCheck("alpha_001", "alpha", "cmd-ok"),
		commandCheck("alpha_002", "alpha", "cmd-bad"),
		commandCheck("beta_001", "beta", "cmd-ok"),
	}
}

// setupTestAppContext installs an AppContext whose run service executes
// against fake instead of a real host. It returns the TestEnv backing it.
func setupTestAppContext(t *testing.T, fake *targettest.Fake, checks ...check.Check) (*testutil.TestEnv, *AppContext) {
	t.Helper()

	env := testutil.NewTestEnv(t)
	if fake == nil {
		fake = targettest.New(map[string]string{"cmd-ok": "ok\n", "cmd-bad": "nope\n"})
		fake.Name = "fake-host"
	}
	if len(checks) == 0 {
		checks = testChecks()
	}

	registry := check.NewRegistry()
	if err := registry.Register(checks...); err != nil {
		t.Fatalf("register checks: %v", err)
	}
	runRepo, err := json.NewRunRepository(env.ResultsDir)
	if err != nil {
		t.Fatalf("run repository: %v", err)
	}
	auditRepo, err := json.NewAuditRepository(env.ResultsDir)
	if err != nil {
		t.Fatalf("audit repository: %v", err)
	}

	logger := zaptest.NewLogger(t)
	m := metrics.New(false)
	auditService := auditapp.NewService(auditRepo)
	runService := runapp.NewService(registry, runRepo, auditService, m, logger)
	runService.SetDialer(func(ctx context.Context, spec runapp.TargetSpec, logger *zap.Logger) (target.Target, error) {
		return fake, nil
	})

	original := globalAppContext
	t.Cleanup(func() { globalAppContext = original })

	appCtx := &AppContext{
		Logger:     logger.Sugar(),
		Operator:   env.Operator,
		DataDir:    env.DataDir,
		ResultsDir: env.ResultsDir,
		Config:     newCLIConfig(),
		Metrics:    m,
		Services: &application.Container{
			Registry:     registry,
			RunRepo:      runRepo,
			AuditRepo:    auditRepo,
			RunService:   runService,
			AuditService: auditService,
		},
	}
	globalAppContext = appCtx
	return env, appCtx
}

// executeRun runs the registered checks through the service.
func executeRun(t *testing.T, appCtx *AppContext, sel check.Selection) *run.Run {
	t.Helper()
	rn, err := appCtx.Services.RunService.Execute(context.Background(), runapp.Request{
		Target:      runapp.TargetSpec{Kind: target.KindLocal, CommandTimeout: time.Second},
		Selection:   sel,
		Operator:    appCtx.Operator,
		Concurrency: 2,
	})
	if err != nil {
		t.Fatalf("Execute error = %v", err)
	}
	return rn
}

// newTestRun builds a finished run without touching a repository.
func newTestRun(t *testing.T, results ...check.Result) *run.Run {
	t.Helper()
	rn, err := run.New("test-operator", "fake-host", target.KindLocal, "all")
	if err != nil {
		t.Fatalf("run.New error = %v", err)
	}
	if err := rn.Start(); err != nil {
		t.Fatalf("Start error = %v", err)
	}
	for _, res := range results {
		if err := rn.Record(res); err != nil {
			t.Fatalf("Record error = %v", err)
		}
	}
	if err := rn.Complete(summary.Aggregate(results)); err != nil {
		t.Fatalf("Complete error = %v", err)
	}
	return rn
}

func result(id, category string, status check.Status, message string) check.Result {
	return check.Result{
		ID:       id,
		Name:     "Check " + id,
		Category: category,
		Status:   status,
		Message:  message,
		Duration: 5 * time.Millisecond,
	}
}

// runCommand invokes c.RunE with flags applied and returns everything the
// command wrote. Flags are reset to their defaults afterwards.
func runCommand(t *testing.T, c *cobra.Command, args []string, flags map[string]string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	c.SetOut(&buf)
	c.SetErr(&buf)
	c.SetContext(context.Background())
	t.Cleanup(func() {
		c.SetOut(nil)
		c.SetErr(nil)
		resetFlags(c.Flags())
	})

	for name, value := range flags {
		if err := c.Flags().Set(name, value); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	err := c.RunE(c, args)
	return buf.String(), err
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else if !strings.HasSuffix(f.Value.Type(), "Slice") {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}
