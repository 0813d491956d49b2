package cmd

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/api"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
)

const (
	outputTable = "table"
	outputJSON  = "json"
	outputJUnit = "junit"
)

func validateOutputFormat(format string) error {
	switch format {
	case outputTable, outputJSON, outputJUnit:
		return nil
	}
	return &InvalidFlagError{Flag: "output", Value: format, Hint: "expected table, json or junit"}
}

type renderOptions struct {
	Format          string
	VerboseEvidence bool
}

func renderRun(w io.Writer, rn *run.Run, opts renderOptions) error {
	switch opts.Format {
	case "", outputTable:
		return renderTable(w, rn, opts.VerboseEvidence)
	case outputJSON:
		return writeJSON(w, api.NewRunDetail(rn))
	case outputJUnit:
		return renderJUnit(w, rn)
	}
	return validateOutputFormat(opts.Format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderTable(w io.Writer, rn *run.Run, verboseEvidence bool) error {
	sum := rn.Summary()

	fmt.Fprintf(w, "%s %s\n", colorBold("Run"), rn.ID())
	fmt.Fprintf(w, "  Target:    %s (%s)\n", rn.Target(), rn.TargetKind())
	fmt.Fprintf(w, "  Operator:  %s\n", rn.Operator())
	fmt.Fprintf(w, "  Selection: %s\n", rn.Selection())
	fmt.Fprintf(w, "  Started:   %s\n", rn.StartedAt().Format(time.RFC3339))
	if rn.Status() != run.StatusCompleted {
		fmt.Fprintf(w, "  Status:    %s\n", colorWarn(string(rn.Status())))
	}

	byCategory := make(map[string][]check.Result)
	for _, res := range rn.Results() {
		byCategory[res.Category] = append(byCategory[res.Category], res)
	}

	for _, category := range sum.Categories() {
		fmt.Fprintf(w, "\n%s\n", colorBold(strings.ToUpper(category)))
		for _, res := range byCategory[category] {
			fmt.Fprintf(w, "  %-6s %-16s %s\n", formatStatusWithColor(res.Status), res.ID, res.Name)
			if res.Message != "" {
				fmt.Fprintf(w, "         %s\n", res.Message)
			}
			if verboseEvidence && res.Evidence != "" {
				fmt.Fprintln(w, indent(res.Evidence, "           "))
			}
		}
	}

	fmt.Fprintf(w, "\n%s\n", colorBold("Summary"))
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  CATEGORY\tTOTAL\tPASS\tWARN\tFAIL\tERROR\tSKIP")
	for _, category := range sum.Categories() {
		c := sum.PerCategory[category]
		fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\t%d\n", category, c.Total, c.Passed, c.Warning, c.Failed, c.Error, c.Skipped)
	}
	t := sum.Totals
	fmt.Fprintf(tw, "  %s\t%d\t%d\t%d\t%d\t%d\t%d\n", "total", t.Total, t.Passed, t.Warning, t.Failed, t.Error, t.Skipped)
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(w, "\nOverall: %s  Score: %.1f%%  Duration: %s\n",
		colorForStatus(sum.Overall)(strings.ToUpper(sum.Overall.String())),
		sum.Score(), rn.Duration().Round(time.Millisecond))
	return nil
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

type junitTestSuites struct {
	XMLName  xml.Name         `xml:"testsuites"`
	Name     string           `xml:"name,attr"`
	Tests    int              `xml:"tests,attr"`
	Failures int              `xml:"failures,attr"`
	Errors   int              `xml:"errors,attr"`
	Skipped  int              `xml:"skipped,attr"`
	Time     string           `xml:"time,attr"`
	Suites   []junitTestSuite `xml:"testsuite"`
}

type junitTestSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr,omitempty"`
	Hostname  string          `xml:"hostname,attr,omitempty"`
	Cases     []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
	Skipped   *junitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr,omitempty"`
	Body    string `xml:",chardata"`
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func newJUnitCase(res check.Result) junitTestCase {
	tc := junitTestCase{
		Name:      res.ID + ": " + res.Name,
		Classname: res.Category,
		Time:      seconds(res.Duration),
		SystemOut: res.Evidence,
	}
	switch res.Status {
	case check.StatusFailed:
		tc.Failure = &junitMessage{Message: res.Message, Type: "failed", Body: res.Evidence}
	case check.StatusError:
		tc.Error = &junitMessage{Message: res.Message, Type: "error"}
	case check.StatusSkipped:
		tc.Skipped = &junitMessage{Message: res.Message}
	case check.StatusWarning:
		tc.SystemOut = strings.TrimSpace("WARNING: " + res.Message + "\n" + res.Evidence)
	}
	return tc
}

func renderJUnit(w io.Writer, rn *run.Run) error {
	sum := rn.Summary()
	suites := junitTestSuites{
		Name:     "seca-compliance " + rn.ID(),
		Tests:    sum.Totals.Total,
		Failures: sum.Totals.Failed,
		Errors:   sum.Totals.Error,
		Skipped:  sum.Totals.Skipped,
		Time:     seconds(rn.Duration()),
	}

	byCategory := make(map[string][]check.Result)
	for _, res := range rn.Results() {
		byCategory[res.Category] = append(byCategory[res.Category], res)
	}
	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		counts := sum.PerCategory[category]
		suite := junitTestSuite{
			Name:      category,
			Tests:     counts.Total,
			Failures:  counts.Failed,
			Errors:    counts.Error,
			Skipped:   counts.Skipped,
			Timestamp: rn.StartedAt().UTC().Format(time.RFC3339),
			Hostname:  rn.Target(),
		}
		var elapsed time.Duration
		for _, res := range byCategory[category] {
			suite.Cases = append(suite.Cases, newJUnitCase(res))
			elapsed += res.Duration
		}
		suite.Time = seconds(elapsed)
		suites.Suites = append(suites.Suites, suite)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(suites); err != nil {
		return fmt.Errorf("encode junit: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}
