package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestApplyIntDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("timeout", 0, "")

	var applied int
	applyIntDefault(flags, "timeout", 15, func(v int) {
		applied = v
	})
	if applied != 15 {
		t.Fatalf("expected setter to receive 15, got %d", applied)
	}

	// When flag already set, setter should not run.
	if err := flags.Set("timeout", "7"); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	applied = 0
	applyIntDefault(flags, "timeout", 20, func(v int) {
		applied = v
	})
	if applied != 0 {
		t.Fatalf("setter should not run when flag overridden, got %d", applied)
	}
}

func TestApplyBoolDefault(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("telemetry", false, "")

	applied := false
	applyBoolDefault(flags, "telemetry", true, func(v bool) {
		applied = v
	})
	if !applied {
		t.Fatal("expected setter to run with true")
	}

	if err := flags.Set("telemetry", "false"); err != nil {
		t.Fatalf("failed to set bool flag: %v", err)
	}
	applied = true
	applyBoolDefault(flags, "telemetry", false, func(v bool) {
		applied = v
	})
	if !applied {
		t.Fatalf("setter should not change value when flag already set")
	}
}

func TestSetStringFlagIfUnset(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("operator", "", "")

	setStringFlagIfUnset(flags, "operator", "")
	if got := flags.Lookup("operator").Value.String(); got != "" {
		t.Fatalf("empty default should be ignored, got %s", got)
	}

	setStringFlagIfUnset(flags, "operator", "default-operator")
	if got := flags.Lookup("operator").Value.String(); got != "default-operator" {
		t.Fatalf("expected operator to be default, got %s", got)
	}

	if err := flags.Set("operator", "user-provided"); err != nil {
		t.Fatalf("failed to set operator: %v", err)
	}
	setStringFlagIfUnset(flags, "operator", "new-default")
	if got := flags.Lookup("operator").Value.String(); got != "user-provided" {
		t.Fatalf("expected operator to remain user-provided, got %s", got)
	}
}

func TestDetectOperatorFromEnv(t *testing.T) {
	t.Setenv("USER", "env-user")
	if got := detectOperatorFromEnv(); got != "env-user" {
		t.Fatalf("expected env-user, got %s", got)
	}

	t.Setenv("USER", "")
	t.Setenv("LOGNAME", "log-user")
	if got := detectOperatorFromEnv(); got != "log-user" {
		t.Fatalf("expected log-user, got %s", got)
	}
}

func TestNewCLIConfigDefaults(t *testing.T) {
	cfg := newCLIConfig()
	if cfg.Run.Concurrency != defaultConcurrency {
		t.Fatalf("unexpected concurrency default: %d", cfg.Run.Concurrency)
	}
	if cfg.Run.TimeoutSecs != defaultTimeoutSeconds {
		t.Fatalf("unexpected timeout default: %d", cfg.Run.TimeoutSecs)
	}
	if cfg.Run.Output != outputTable {
		t.Fatalf("unexpected output default: %s", cfg.Run.Output)
	}
	if cfg.Run.FailOn != "failed" {
		t.Fatalf("unexpected fail-on default: %s", cfg.Run.FailOn)
	}
	if cfg.Run.Target.Kind != "local" {
		t.Fatalf("expected local target by default, got %s", cfg.Run.Target.Kind)
	}
	if !cfg.Run.Target.UseAgent {
		t.Fatalf("expected ssh agent to be enabled by default")
	}
}

func TestLoadDefaultOverrides(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("defaults.timeout_secs", 60)
	viper.Set("defaults.concurrency", 8)
	viper.Set("defaults.telemetry", true)
	viper.Set("defaults.operator", "config-operator")
	viper.Set("target.host", "web-01")
	viper.Set("target.port", 2222)

	overrides := loadDefaultOverrides()

	if overrides.TimeoutSecs == nil || *overrides.TimeoutSecs != 60 {
		t.Fatalf("expected timeout override 60, got %+v", overrides.TimeoutSecs)
	}
	if overrides.Concurrency == nil || *overrides.Concurrency != 8 {
		t.Fatalf("expected concurrency override 8, got %+v", overrides.Concurrency)
	}
	if overrides.TelemetryEnabled == nil || !*overrides.TelemetryEnabled {
		t.Fatalf("expected telemetry override true, got %+v", overrides.TelemetryEnabled)
	}
	if overrides.Operator != "config-operator" || !overrides.OperatorOverride {
		t.Fatalf("expected operator override to be set, got %+v", overrides)
	}
	if overrides.Host != "web-01" {
		t.Fatalf("expected host override web-01, got %s", overrides.Host)
	}
	if overrides.Port == nil || *overrides.Port != 2222 {
		t.Fatalf("expected port override 2222, got %+v", overrides.Port)
	}
	if overrides.RateLimit != nil {
		t.Fatalf("unset keys should stay nil, got %+v", overrides.RateLimit)
	}
}

func newConfigTestCommand(cfg *CLIConfig) *cobra.Command {
	c := &cobra.Command{Use: "run"}
	flags := c.Flags()
	flags.String("operator", "", "")
	flags.IntVar(&cfg.Run.Concurrency, "concurrency", cfg.Run.Concurrency, "")
	flags.IntVar(&cfg.Run.TimeoutSecs, "timeout", cfg.Run.TimeoutSecs, "")
	flags.BoolVar(&cfg.Run.TelemetryEnabled, "telemetry", false, "")
	flags.StringVar(&cfg.Run.Output, "output", cfg.Run.Output, "")
	flags.StringVar(&cfg.Run.Target.Kind, "target", cfg.Run.Target.Kind, "")
	flags.StringVar(&cfg.Run.Target.Host, "host", "", "")
	flags.IntVar(&cfg.Run.Target.Port, "port", 22, "")
	return c
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("defaults.timeout_secs", 20)
	viper.Set("defaults.concurrency", 6)
	viper.Set("defaults.telemetry", true)
	viper.Set("defaults.operator", "cfg-operator")
	viper.Set("defaults.output", "json")
	viper.Set("target.host", "db-01")
	viper.Set("target.port", 2200)

	cfg := newCLIConfig()
	testCmd := newConfigTestCommand(cfg)

	applyConfigDefaults(testCmd, cfg)

	if cfg.Defaults.TimeoutSecs != 20 || cfg.Run.TimeoutSecs != 20 {
		t.Fatalf("expected timeout defaults to update to 20, got %d/%d", cfg.Defaults.TimeoutSecs, cfg.Run.TimeoutSecs)
	}
	if cfg.Run.Concurrency != 6 {
		t.Fatalf("expected concurrency 6, got %d", cfg.Run.Concurrency)
	}
	if !cfg.Defaults.TelemetryEnabled || !cfg.Run.TelemetryEnabled {
		t.Fatalf("expected telemetry defaults to be enabled")
	}
	if cfg.Run.Output != "json" {
		t.Fatalf("expected output json, got %s", cfg.Run.Output)
	}
	if cfg.Run.Target.Host != "db-01" || cfg.Run.Target.Kind != "ssh" {
		t.Fatalf("configured host should select an ssh target, got %+v", cfg.Run.Target)
	}
	if cfg.Run.Target.Port != 2200 {
		t.Fatalf("expected port 2200, got %d", cfg.Run.Target.Port)
	}
	if got := testCmd.Flags().Lookup("operator").Value.String(); got != "cfg-operator" {
		t.Fatalf("expected operator flag to be set by defaults, got %s", got)
	}
}

func TestApplyConfigDefaultsRespectsExplicitFlags(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("defaults.timeout_secs", 20)
	viper.Set("target.host", "db-01")

	cfg := newCLIConfig()
	testCmd := newConfigTestCommand(cfg)
	if err := testCmd.Flags().Parse([]string{"--timeout", "5", "--target", "local"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	applyConfigDefaults(testCmd, cfg)

	if cfg.Run.TimeoutSecs != 5 {
		t.Fatalf("explicit --timeout should win, got %d", cfg.Run.TimeoutSecs)
	}
	if cfg.Run.Target.Kind != "local" {
		t.Fatalf("explicit --target should win, got %s", cfg.Run.Target.Kind)
	}
}
