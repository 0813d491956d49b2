package cmd

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-compliance/internal/api"
	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect recorded runs",
}

func runIDArg(args []string) string {
	if len(args) == 0 {
		return runapp.Latest
	}
	return args[0]
}

func findRun(cmd *cobra.Command, id string) (*run.Run, error) {
	rn, err := getAppContext(cmd).Services.RunService.Find(cmd.Context(), id)
	if err != nil {
		if errors.Is(err, sharedErrors.ErrRunNotFound) || errors.Is(err, sharedErrors.ErrInvalidInput) {
			return nil, &RunNotFoundError{ID: id}
		}
		return nil, err
	}
	return rn, nil
}

var reportShowCmd = &cobra.Command{
	Use:   "show [run-id|latest]",
	Short: "Show the results of a run",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("output")
		verboseEvidence, _ := cmd.Flags().GetBool("verbose-evidence")
		if err := validateOutputFormat(format); err != nil {
			return err
		}
		rn, err := findRun(cmd, runIDArg(args))
		if err != nil {
			return err
		}
		return renderRun(cmd.OutOrStdout(), rn, renderOptions{Format: format, VerboseEvidence: verboseEvidence})
	},
}

var reportHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent runs with their overall status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		runs, err := appCtx.Services.RunService.History(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			items := make([]api.RunSummary, 0, len(runs))
			for _, rn := range runs {
				items = append(items, api.NewRunSummary(rn))
			}
			return writeJSON(out, items)
		}
		if len(runs) == 0 {
			fmt.Fprintf(out, "%s runs recorded yet\n", colorWarn("No"))
			return nil
		}
		return printHistory(out, runs)
	},
}

func printHistory(w io.Writer, runs []*run.Run) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tTARGET\tSTATUS\tOVERALL\tSCORE\tCHECKS")
	for _, rn := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.1f%%\t%d\n",
			rn.ID(),
			rn.StartedAt().Local().Format("2006-01-02 15:04"),
			rn.Target(),
			rn.Status(),
			formatStatusWithColor(rn.Overall()),
			rn.Summary().Score(),
			rn.Summary().Totals.Total,
		)
	}
	return tw.Flush()
}

var reportCompareCmd = &cobra.Command{
	Use:   "compare [previous] [current]",
	Short: "Compare two runs check by check",
	Long: `Compare two runs check by check. With no arguments the latest run is
compared with the run before it; with one argument that run is compared with
its predecessor.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		asJSON, _ := cmd.Flags().GetBool("json")
		all, _ := cmd.Flags().GetBool("all")

		var prevID, curID string
		switch len(args) {
		case 0:
			curID = runapp.Latest
		case 1:
			curID = args[0]
		case 2:
			prevID, curID = args[0], args[1]
		}

		cmp, err := appCtx.Services.RunService.Compare(cmd.Context(), prevID, curID)
		if err != nil {
			if errors.Is(err, sharedErrors.ErrRunNotFound) || errors.Is(err, sharedErrors.ErrInvalidInput) {
				return &RunNotFoundError{ID: curID}
			}
			return err
		}

		if asJSON {
			return writeJSON(cmd.OutOrStdout(), cmp)
		}
		return printComparison(cmd.OutOrStdout(), cmp, all)
	},
}

func printComparison(w io.Writer, cmp run.Comparison, all bool) error {
	prev := cmp.PreviousID
	if prev == "" {
		prev = "(none)"
	}
	fmt.Fprintf(w, "Previous: %s  Score: %.1f%%\n", prev, cmp.PreviousScore)
	fmt.Fprintf(w, "Current:  %s  Score: %.1f%%\n", cmp.CurrentID, cmp.CurrentScore)
	fmt.Fprintf(w, "Trend:    %s\n\n", trendLabel(cmp.Trend))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CHECK\tCATEGORY\tPREVIOUS\tCURRENT\tCHANGE")
	shown := 0
	for _, c := range cmp.Changes {
		if c.Transition == run.TransitionUnchanged && !all {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.Category, statusOrDash(c.Previous), statusOrDash(c.Current), c.Transition)
		shown++
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if shown == 0 {
		fmt.Fprintln(w, "No changes.")
	}

	fmt.Fprintf(w, "\nFixed: %d  Regressed: %d  New: %d  Removed: %d  Unchanged: %d\n",
		cmp.Counts[run.TransitionFixed], cmp.Counts[run.TransitionRegressed],
		cmp.Counts[run.TransitionNew], cmp.Counts[run.TransitionRemoved],
		cmp.Counts[run.TransitionUnchanged])
	return nil
}

func statusOrDash(s check.Status) string {
	if s == "" {
		return "-"
	}
	return formatStatusWithColor(s)
}

func trendLabel(t run.Trend) string {
	switch t {
	case run.TrendImproving:
		return colorSuccess(string(t))
	case run.TrendDeclining:
		return colorError(string(t))
	}
	return string(t)
}

type categoryStats struct {
	Category string  `json:"category"`
	Runs     int     `json:"runs"`
	Checks   int     `json:"checks"`
	Passed   int     `json:"passed"`
	Warning  int     `json:"warning"`
	Failed   int     `json:"failed"`
	Error    int     `json:"error"`
	Skipped  int     `json:"skipped"`
	PassRate float64 `json:"pass_rate"`
}

// summarizeCategoryStats folds the per-category counts of runs into pass
// rates over every evaluated (non-skipped) check.
func summarizeCategoryStats(runs []*run.Run) []categoryStats {
	byCategory := make(map[string]*categoryStats)
	for _, rn := range runs {
		for name, c := range rn.Summary().PerCategory {
			st, ok := byCategory[name]
			if !ok {
				st = &categoryStats{Category: name}
				byCategory[name] = st
			}
			st.Runs++
			st.Checks += c.Total
			st.Passed += c.Passed
			st.Warning += c.Warning
			st.Failed += c.Failed
			st.Error += c.Error
			st.Skipped += c.Skipped
		}
	}

	out := make([]categoryStats, 0, len(byCategory))
	for _, st := range byCategory {
		evaluated := st.Checks - st.Skipped
		if evaluated > 0 {
			st.PassRate = float64(st.Passed) / float64(evaluated) * 100
		} else {
			st.PassRate = 100
		}
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-category pass rates across run history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")

		runs, err := appCtx.Services.RunService.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		stats := summarizeCategoryStats(runs)

		out := cmd.OutOrStdout()
		switch strings.ToLower(strings.TrimSpace(format)) {
		case "json":
			return writeJSON(out, stats)
		case "", "table":
			if len(runs) == 0 {
				fmt.Fprintf(out, "%s runs recorded yet\n", colorWarn("No"))
				return nil
			}
			fmt.Fprintf(out, "Across %d run(s)\n\n", len(runs))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tRUNS\tCHECKS\tPASS\tWARN\tFAIL\tERROR\tSKIP\tPASS RATE")
			for _, st := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f%%\n",
					st.Category, st.Runs, st.Checks, st.Passed, st.Warning, st.Failed, st.Error, st.Skipped, st.PassRate)
			}
			return tw.Flush()
		default:
			return fmt.Errorf("unsupported format %q (use table|json)", format)
		}
	},
}

func printTelemetryASCII(w io.Writer, records []telemetryRecord) {
	const barWidth = 40
	fmt.Fprintln(w, colorInfo("Success Rate Trend"))
	for _, rec := range records {
		barLen := int(math.Round((rec.SuccessRate / 100.0) * barWidth))
		if barLen < 0 {
			barLen = 0
		}
		if barLen > barWidth {
			barLen = barWidth
		}
		if barLen == 0 && rec.SuccessRate > 0 {
			barLen = 1
		}
		bar := strings.Repeat("#", barLen)
		fmt.Fprintf(w, "%s | %6.2f%% | %-*s | %s %s (%d checks)\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04"),
			rec.SuccessRate,
			barWidth,
			bar,
			rec.Target,
			rec.Overall,
			rec.CheckCount,
		)
	}
}

var reportTelemetryCmd = &cobra.Command{
	Use:   "telemetry",
	Short: "Graph the success rate trend recorded with --telemetry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")

		history, err := loadTelemetryHistory(appCtx.ResultsDir)
		if err != nil {
			return err
		}
		if limit > 0 && len(history) > limit {
			history = history[len(history)-limit:]
		}

		out := cmd.OutOrStdout()
		if len(history) == 0 {
			fmt.Fprintf(out, "%s telemetry records found (run with --telemetry)\n", colorWarn("No"))
			return nil
		}

		switch strings.ToLower(format) {
		case "json":
			return writeJSON(out, history)
		case "ascii":
			printTelemetryASCII(out, history)
			return nil
		default:
			return fmt.Errorf("unsupported format %s (use ascii or json)", format)
		}
	},
}

func formatShortTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("Jan 02 15:04")
}

func formatDurationLabel(d time.Duration) string {
	seconds := d.Seconds()
	if seconds <= 0 {
		return "0s"
	}
	if seconds < 60 {
		return fmt.Sprintf("%.1fs", seconds)
	}
	return fmt.Sprintf("%.1f min", seconds/60)
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportShowCmd.Flags().String("output", outputTable, "output format: table, json or junit")
	reportShowCmd.Flags().Bool("verbose-evidence", false, "include raw evidence in the table output")
	reportHistoryCmd.Flags().Int("limit", 20, "number of runs to list (0 = all)")
	reportHistoryCmd.Flags().Bool("json", false, "print JSON")
	reportCompareCmd.Flags().Bool("json", false, "print JSON")
	reportCompareCmd.Flags().Bool("all", false, "include unchanged checks")
	reportStatsCmd.Flags().Int("limit", 0, "number of recent runs to include (0 = all)")
	reportStatsCmd.Flags().String("format", "table", "output format: table|json")
	reportTelemetryCmd.Flags().String("format", "ascii", "output format: ascii|json")
	reportTelemetryCmd.Flags().Int("limit", 10, "number of recent records to display")

	reportCmd.AddCommand(reportShowCmd)
	reportCmd.AddCommand(reportHistoryCmd)
	reportCmd.AddCommand(reportCompareCmd)
	reportCmd.AddCommand(reportStatsCmd)
	reportCmd.AddCommand(reportTelemetryCmd)
	reportCmd.AddCommand(reportExportCmd)
}
