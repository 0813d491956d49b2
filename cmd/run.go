package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// readPassword is swapped in tests.
var readPassword = func(fd int) ([]byte, error) {
	return term.ReadPassword(fd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run compliance checks against a target",
	Long: `Run the selected compliance checks against the local host or a remote
host over SSH, print the results and record the run in the history and the
audit trail.

Without --category or --id every registered check runs. Interrupting the run
(Ctrl-C) stops starting new checks, marks them skipped and still saves the
partial results.`,
	Example: `  seca-compliance run
  seca-compliance run -c timesync -c certificate
  seca-compliance run --target ssh --host web-01 --user ops --identity ~/.ssh/id_ed25519
  seca-compliance run --id production_004 --output junit --out report.xml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		cfg := appCtx.Config.Run

		if err := validateOutputFormat(cfg.Output); err != nil {
			return err
		}
		threshold, err := parseFailOn(cfg.FailOn)
		if err != nil {
			return err
		}

		spec, err := buildTargetSpec(cfg.Target, time.Duration(cfg.TimeoutSecs)*time.Second)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		req := runapp.Request{
			Target:      spec,
			Selection:   check.Selection{Categories: cfg.Categories, IDs: cfg.IDs, Exclude: cfg.Exclude},
			Operator:    appCtx.Operator,
			Concurrency: cfg.Concurrency,
			RateLimit:   cfg.RateLimit,
			CheckBudget: time.Duration(cfg.CheckBudgetSecs) * time.Second,
		}

		var progress *progressPrinter
		if cfg.ProgressEnabled && stderrIsTerminal() {
			checks, err := appCtx.Services.Registry.Select(req.Selection)
			if err == nil {
				progress = newProgressPrinter(os.Stderr, len(checks), "run")
				req.OnResult = progress.Observe
				progress.Start()
			}
		}

		rn, err := appCtx.Services.RunService.Execute(ctx, req)
		if progress != nil {
			progress.Stop()
		}
		if err != nil {
			return translateRunError(err)
		}

		if rn.Status() == run.StatusCancelled {
			fmt.Fprintln(os.Stderr, colorWarn("Run cancelled; unstarted checks were skipped and partial results saved."))
		}

		if err := writeRunOutput(cmd, rn, cfg); err != nil {
			return err
		}

		if cfg.TelemetryEnabled {
			if err := recordTelemetry(appCtx, "run", rn); err != nil {
				appCtx.Logger.Warnw("telemetry_write_failed", "error", err)
			}
		}
		if cfg.MetricsFile != "" {
			if err := appCtx.Metrics.WriteTextfile(cfg.MetricsFile); err != nil {
				return fmt.Errorf("write metrics file: %w", err)
			}
		}

		appCtx.Logger.Infow("run_complete",
			"run_id", rn.ID(),
			"overall", rn.Overall().String(),
			"status", string(rn.Status()),
			"operator", appCtx.Operator,
		)

		if code := summary.ExitCodeFor(rn.Overall(), threshold); code != 0 {
			return &ComplianceFailureError{RunID: rn.ID(), Overall: rn.Overall(), Code: code}
		}
		return nil
	},
}

func writeRunOutput(cmd *cobra.Command, rn *run.Run, cfg RunConfig) error {
	opts := renderOptions{Format: cfg.Output, VerboseEvidence: cfg.VerboseEvidence}

	var w io.Writer = cmd.OutOrStdout()
	if cfg.OutFile != "" {
		f, err := os.OpenFile(cfg.OutFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, consts.DefaultFilePerm)
		if err != nil {
			return fmt.Errorf("open output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if err := renderRun(w, rn, opts); err != nil {
		return err
	}
	if cfg.OutFile != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s Run %s: %s (results written to %s)\n",
			colorSuccess("✓"), rn.ID(), formatStatusWithColor(rn.Overall()), cfg.OutFile)
	}
	return nil
}

func parseFailOn(v string) (check.Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "failed", "fail":
		return check.StatusFailed, nil
	case "warning", "warn":
		return check.StatusWarning, nil
	case "error":
		return check.StatusError, nil
	}
	return "", &InvalidFlagError{Flag: "fail-on", Value: v, Hint: "expected warning, failed or error"}
}

// buildTargetSpec turns the connection flags into a TargetSpec, resolving
// the SSH password from the environment or an interactive prompt.
func buildTargetSpec(tc TargetConfig, timeout time.Duration) (runapp.TargetSpec, error) {
	spec := runapp.TargetSpec{CommandTimeout: timeout}

	switch strings.ToLower(strings.TrimSpace(tc.Kind)) {
	case "", "local":
		spec.Kind = target.KindLocal
		if tc.Host != "" {
			return spec, &InvalidFlagError{Flag: "host", Value: tc.Host, Hint: "requires --target ssh"}
		}
		return spec, nil
	case "ssh", "remote":
		spec.Kind = target.KindRemote
	default:
		return spec, &InvalidFlagError{Flag: "target", Value: tc.Kind, Hint: "expected local or ssh"}
	}

	if tc.Host == "" {
		return spec, fmt.Errorf("%w: --host is required for ssh targets", sharedErrors.ErrInvalidTargetSpec)
	}
	if tc.Port < 0 || tc.Port > 65535 {
		return spec, &InvalidFlagError{Flag: "port", Value: fmt.Sprint(tc.Port)}
	}

	user := tc.User
	if user == "" {
		user = detectOperatorFromEnv()
	}
	spec.SSH = target.SSHConfig{
		Host:           tc.Host,
		Port:           tc.Port,
		User:           user,
		IdentityFile:   tc.IdentityFile,
		UseAgent:       tc.UseAgent,
		KnownHostsFile: tc.KnownHosts,
		Insecure:       tc.Insecure,
		CommandTimeout: timeout,
	}

	switch {
	case tc.PasswordEnv != "":
		pw := os.Getenv(tc.PasswordEnv)
		if pw == "" {
			return spec, fmt.Errorf("environment variable %s is empty", tc.PasswordEnv)
		}
		spec.SSH.Password = pw
	case tc.AskPass:
		fmt.Fprintf(os.Stderr, "Password for %s@%s: ", user, tc.Host)
		pw, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return spec, fmt.Errorf("read password: %w", err)
		}
		spec.SSH.Password = string(pw)
	}
	return spec, nil
}

func translateRunError(err error) error {
	var selErr *check.SelectionError
	if errors.As(err, &selErr) {
		if len(selErr.Categories) > 0 {
			return &UnknownCheckError{Name: selErr.Categories[0], Kind: "category"}
		}
		if len(selErr.IDs) > 0 {
			return &UnknownCheckError{Name: selErr.IDs[0], Kind: "check"}
		}
	}
	if errors.Is(err, context.Canceled) {
		return errors.New("run cancelled before any check started")
	}
	return err
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()
	rc := &cliConfig.Run

	flags.StringSliceVarP(&rc.Categories, "category", "c", nil, "run every check in this category (repeatable)")
	flags.StringSliceVar(&rc.IDs, "id", nil, "run this check id (repeatable)")
	flags.StringSliceVar(&rc.Exclude, "exclude", nil, "skip this check id (repeatable)")

	flags.StringVar(&rc.Target.Kind, "target", rc.Target.Kind, "target kind: local or ssh")
	flags.StringVar(&rc.Target.Host, "host", "", "remote host for --target ssh")
	flags.IntVar(&rc.Target.Port, "port", consts.DefaultSSHPort, "remote SSH port")
	flags.StringVar(&rc.Target.User, "user", "", "remote SSH user (default $USER)")
	flags.StringVar(&rc.Target.IdentityFile, "identity", "", "SSH private key file")
	flags.StringVar(&rc.Target.PasswordEnv, "password-env", "", "read the SSH password from this environment variable")
	flags.BoolVar(&rc.Target.AskPass, "ask-pass", false, "prompt for the SSH password")
	flags.StringVar(&rc.Target.KnownHosts, "known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	flags.BoolVar(&rc.Target.Insecure, "insecure", false, "skip SSH host key verification")
	flags.BoolVar(&rc.Target.UseAgent, "agent", rc.Target.UseAgent, "authenticate with keys from SSH_AUTH_SOCK")

	flags.IntVar(&rc.Concurrency, "concurrency", rc.Concurrency, "maximum checks in flight (remote targets run one at a time)")
	flags.IntVar(&rc.TimeoutSecs, "timeout", rc.TimeoutSecs, "per-command timeout in seconds")
	flags.IntVar(&rc.CheckBudgetSecs, "check-budget", rc.CheckBudgetSecs, "cumulative command time per check in seconds (0 = none)")
	flags.IntVar(&rc.RateLimit, "rate-limit", 0, "check starts per second (0 = unlimited)")

	flags.StringVar(&rc.Output, "output", rc.Output, "output format: table, json or junit")
	flags.StringVar(&rc.OutFile, "out", "", "write the report to this file instead of stdout")
	flags.BoolVar(&rc.VerboseEvidence, "verbose-evidence", false, "include raw evidence in the table output")
	flags.BoolVar(&rc.ProgressEnabled, "progress", false, "show a live progress line on stderr")
	flags.BoolVar(&rc.TelemetryEnabled, "telemetry", false, "append run metrics to telemetry.jsonl")
	flags.StringVar(&rc.MetricsFile, "metrics-file", "", "write Prometheus metrics in textfile format to this path")
	flags.StringVar(&rc.FailOn, "fail-on", rc.FailOn, "exit non-zero when the overall status reaches warning, failed or error")
}
