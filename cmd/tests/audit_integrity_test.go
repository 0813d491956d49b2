package tests

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/khanhnv2901/seca-compliance/cmd/testutil"
	"github.com/khanhnv2901/seca-compliance/internal/application"
	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

const e2ePack = `category: e2e
checks:
  - id: e2e_001
    name: Greeting present
    probes:
      - {name: greet, command: "echo hello"}
    signals:
      - feature: greeting
        when: {probe: greet, contains: hello}
    verdicts:
      - {status: passed, min_features: 1, message: greeting found}
      - {status: failed, message: greeting missing}
  - id: e2e_002
    name: Greeting absent
    probes:
      - {name: greet, command: "echo goodbye"}
    signals:
      - feature: greeting
        when: {probe: greet, contains: hello}
    verdicts:
      - {status: passed, min_features: 1, message: greeting found}
      - {status: failed, message: greeting missing}
`

func newContainer(t *testing.T, env *testutil.TestEnv) *application.Container {
	t.Helper()
	env.CreateFile("packs/e2e.yaml", []byte(e2ePack))

	services, err := application.NewContainer(application.Options{
		ResultsDir: env.ResultsDir,
		ChecksDir:  filepath.Join(env.TmpDir, "packs"),
		PluginsDir: env.PluginsDir(),
		Logger:     zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewContainer failed: %v", err)
	}
	return services
}

func runLocal(t *testing.T, services *application.Container, operator string) {
	t.Helper()
	rn, err := services.RunService.Execute(context.Background(), runapp.Request{
		Target:    runapp.TargetSpec{Kind: target.KindLocal, CommandTimeout: 5 * time.Second},
		Selection: check.Selection{Categories: []string{"e2e"}},
		Operator:  operator,
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if rn.Overall() != check.StatusFailed {
		t.Fatalf("expected overall failed, got %s", rn.Overall())
	}
	if rn.Metadata().AuditHash == "" {
		t.Fatal("run should carry the audit trail hash")
	}
}

func TestAuditFileIntegrity(t *testing.T) {
	env := testutil.NewTestEnv(t)
	defer env.Cleanup()

	services := newContainer(t, env)
	for i := 0; i < 3; i++ {
		runLocal(t, services, env.Operator)
	}

	trail, err := services.AuditService.GetAuditTrail(context.Background())
	if err != nil {
		t.Fatalf("GetAuditTrail failed: %v", err)
	}
	if len(trail.Entries()) != 6 {
		t.Fatalf("expected 6 audit rows, got %d", len(trail.Entries()))
	}

	valid, err := services.AuditService.VerifyIntegrity(context.Background())
	if err != nil || !valid {
		t.Fatalf("expected untouched audit trail to verify, got %v (%v)", valid, err)
	}

	env.MustExist(filepath.Join("data", "results", json.AuditFileName))
	auditPath := filepath.Join(env.ResultsDir, json.AuditFileName)

	data, err := os.ReadFile(auditPath)
	if err != nil {
		t.Fatalf("failed to read audit file: %v", err)
	}
	tampered := strings.Replace(string(data), "failed", "passed", 1)
	if err := os.WriteFile(auditPath, []byte(tampered), 0o600); err != nil {
		t.Fatalf("failed to tamper with audit file: %v", err)
	}

	valid, err = services.AuditService.VerifyIntegrity(context.Background())
	if err != nil {
		t.Fatalf("VerifyIntegrity failed: %v", err)
	}
	if valid {
		t.Fatal("tampered audit trail must not verify")
	}
}

func TestRunHistorySurvivesRestart(t *testing.T) {
	env := testutil.NewTestEnv(t)
	defer env.Cleanup()

	runLocal(t, newContainer(t, env), env.Operator)

	// A second container over the same results directory sees the run.
	reopened := newContainer(t, env)
	latest, err := reopened.RunService.Find(context.Background(), runapp.Latest)
	if err != nil {
		t.Fatalf("Find latest failed: %v", err)
	}
	if latest.Operator() != env.Operator || len(latest.Results()) != 2 {
		t.Fatalf("unexpected reloaded run: operator %s, %d results", latest.Operator(), len(latest.Results()))
	}

	cmp, err := reopened.RunService.Compare(context.Background(), "", runapp.Latest)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}
	if cmp.PreviousID != "" {
		t.Fatalf("a single run has no predecessor, got %s", cmp.PreviousID)
	}
}
