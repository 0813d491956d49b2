package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/target"
	"github.com/khanhnv2901/seca-compliance/internal/target/targettest"
)

func TestReportCommandsWithoutRuns(t *testing.T) {
	disableColor(t)
	setupTestAppContext(t, nil)

	out, err := runCommand(t, reportHistoryCmd, nil, nil)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, "No runs recorded yet") {
		t.Fatalf("unexpected history output: %s", out)
	}

	_, err = runCommand(t, reportShowCmd, nil, nil)
	var notFound *RunNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RunNotFoundError, got %v", err)
	}
	if notFound.Error() != "no runs recorded yet" {
		t.Fatalf("unexpected message %q", notFound.Error())
	}
}

func TestReportShowAndHistory(t *testing.T) {
	disableColor(t)
	_, appCtx := setupTestAppContext(t, nil)
	first := executeRun(t, appCtx, check.Selection{})
	second := executeRun(t, appCtx, check.Selection{Categories: []string{"beta"}})

	out, err := runCommand(t, reportShowCmd, []string{first.ID()}, nil)
	if err != nil {
		t.Fatalf("show error = %v", err)
	}
	if !strings.Contains(out, "Run "+first.ID()) || !strings.Contains(out, "alpha_002") {
		t.Fatalf("show should print the requested run:\n%s", out)
	}

	out, err = runCommand(t, reportShowCmd, nil, map[string]string{"output": "json"})
	if err != nil {
		t.Fatalf("show latest error = %v", err)
	}
	if !strings.Contains(out, `"id": "`+second.ID()+`"`) {
		t.Fatalf("show without id should print the latest run:\n%s", out)
	}

	_, err = runCommand(t, reportShowCmd, []string{"does-not-exist"}, nil)
	var notFound *RunNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected RunNotFoundError, got %v", err)
	}

	out, err = runCommand(t, reportHistoryCmd, nil, nil)
	if err != nil {
		t.Fatalf("history error = %v", err)
	}
	if !strings.Contains(out, first.ID()) || !strings.Contains(out, second.ID()) {
		t.Fatalf("history should list both runs:\n%s", out)
	}
	if strings.Index(out, second.ID()) > strings.Index(out, first.ID()) {
		t.Fatalf("history should list newest first:\n%s", out)
	}

	out, err = runCommand(t, reportHistoryCmd, nil, map[string]string{"json": "true", "limit": "1"})
	if err != nil {
		t.Fatalf("history json error = %v", err)
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(out), &items); err != nil {
		t.Fatalf("history json is invalid: %v", err)
	}
	if len(items) != 1 || items[0]["id"] != second.ID() {
		t.Fatalf("unexpected history json %v", items)
	}
}

func TestReportCompare(t *testing.T) {
	disableColor(t)
	fake := targettest.New(map[string]string{"cmd-ok": "ok\n", "cmd-bad": "nope\n"})
	_, appCtx := setupTestAppContext(t, fake)

	prev := executeRun(t, appCtx, check.Selection{})
	time.Sleep(10 * time.Millisecond)
	fake.On("cmd-bad", targettest.Response{Output: target.Output{Stdout: "ok\n"}})
	cur := executeRun(t, appCtx, check.Selection{})

	out, err := runCommand(t, reportCompareCmd, nil, nil)
	if err != nil {
		t.Fatalf("compare error = %v", err)
	}
	if !strings.Contains(out, "Previous: "+prev.ID()) || !strings.Contains(out, "Current:  "+cur.ID()) {
		t.Fatalf("compare should default to latest vs its predecessor:\n%s", out)
	}
	if !strings.Contains(out, "alpha_002") || !strings.Contains(out, "Fixed: 1") {
		t.Fatalf("expected alpha_002 to be fixed:\n%s", out)
	}
	if strings.Contains(out, "beta_001") {
		t.Fatalf("unchanged checks should be hidden without --all:\n%s", out)
	}

	out, err = runCommand(t, reportCompareCmd, []string{prev.ID(), cur.ID()}, map[string]string{"json": "true"})
	if err != nil {
		t.Fatalf("compare json error = %v", err)
	}
	var cmp run.Comparison
	if err := json.Unmarshal([]byte(out), &cmp); err != nil {
		t.Fatalf("compare json is invalid: %v", err)
	}
	if cmp.Trend != run.TrendImproving {
		t.Fatalf("expected improving trend, got %s", cmp.Trend)
	}
}

func TestSummarizeCategoryStats(t *testing.T) {
	runs := []*run.Run{
		newTestRun(t,
			result("alpha_001", "alpha", check.StatusPassed, ""),
			result("alpha_002", "alpha", check.StatusFailed, ""),
			result("beta_001", "beta", check.StatusSkipped, ""),
		),
		newTestRun(t,
			result("alpha_001", "alpha", check.StatusPassed, ""),
			result("alpha_002", "alpha", check.StatusPassed, ""),
		),
	}

	stats := summarizeCategoryStats(runs)
	if len(stats) != 2 || stats[0].Category != "alpha" || stats[1].Category != "beta" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	alpha := stats[0]
	if alpha.Runs != 2 || alpha.Checks != 4 || alpha.Passed != 3 || alpha.Failed != 1 {
		t.Fatalf("unexpected alpha stats %+v", alpha)
	}
	if alpha.PassRate != 75 {
		t.Fatalf("expected alpha pass rate 75, got %f", alpha.PassRate)
	}
	if stats[1].PassRate != 100 {
		t.Fatalf("all-skipped category should count as passing, got %f", stats[1].PassRate)
	}
}

func TestReportStatsCommand(t *testing.T) {
	disableColor(t)
	_, appCtx := setupTestAppContext(t, nil)
	executeRun(t, appCtx, check.Selection{})

	out, err := runCommand(t, reportStatsCmd, nil, nil)
	if err != nil {
		t.Fatalf("stats error = %v", err)
	}
	if !strings.Contains(out, "Across 1 run(s)") || !strings.Contains(out, "50.0%") {
		t.Fatalf("unexpected stats output:\n%s", out)
	}

	if _, err := runCommand(t, reportStatsCmd, nil, map[string]string{"format": "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestReportTelemetryCommand(t *testing.T) {
	disableColor(t)
	_, appCtx := setupTestAppContext(t, nil)

	out, err := runCommand(t, reportTelemetryCmd, nil, nil)
	if err != nil {
		t.Fatalf("telemetry error = %v", err)
	}
	if !strings.Contains(out, "No telemetry records") {
		t.Fatalf("expected empty notice, got %s", out)
	}

	rn := executeRun(t, appCtx, check.Selection{})
	if err := recordTelemetry(appCtx, "run", rn); err != nil {
		t.Fatalf("recordTelemetry error = %v", err)
	}

	out, err = runCommand(t, reportTelemetryCmd, nil, nil)
	if err != nil {
		t.Fatalf("telemetry error = %v", err)
	}
	if !strings.Contains(out, "Success Rate Trend") || !strings.Contains(out, "66.67%") {
		t.Fatalf("unexpected ascii telemetry:\n%s", out)
	}
}

func TestPrintTelemetryASCIIClampsBars(t *testing.T) {
	var buf bytes.Buffer
	printTelemetryASCII(&buf, []telemetryRecord{
		{SuccessRate: 0.5, Target: "a"},
		{SuccessRate: 150, Target: "b"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header and two rows, got %d lines", len(lines))
	}
	if strings.Count(lines[1], "#") != 1 {
		t.Errorf("a small non-zero rate should draw one bar cell: %q", lines[1])
	}
	if strings.Count(lines[2], "#") != 40 {
		t.Errorf("rates above 100%% should be clamped: %q", lines[2])
	}
}

func TestFormatHelpers(t *testing.T) {
	if formatShortTimestamp(time.Time{}) != "" {
		t.Error("zero time should format as empty")
	}
	ts := time.Date(2025, time.March, 4, 5, 6, 0, 0, time.UTC)
	if got := formatShortTimestamp(ts); got != "Mar 04 05:06" {
		t.Errorf("formatShortTimestamp = %q", got)
	}

	tests := map[time.Duration]string{
		0:                       "0s",
		1500 * time.Millisecond: "1.5s",
		90 * time.Second:        "1.5 min",
	}
	for d, want := range tests {
		if got := formatDurationLabel(d); got != want {
			t.Errorf("formatDurationLabel(%s) = %q, want %q", d, got, want)
		}
	}
}

func TestReportExportFormats(t *testing.T) {
	disableColor(t)
	_, appCtx := setupTestAppContext(t, nil)
	rn := executeRun(t, appCtx, check.Selection{})

	tests := []struct {
		format string
		check  func(t *testing.T, content []byte)
	}{
		{"md", func(t *testing.T, content []byte) {
			s := string(content)
			if !strings.Contains(s, rn.ID()) || !strings.Contains(s, "alpha_002") {
				t.Fatalf("markdown report missing run details:\n%s", s)
			}
		}},
		{"html", func(t *testing.T, content []byte) {
			s := string(content)
			if !strings.Contains(s, "<html") || !strings.Contains(s, rn.ID()) {
				t.Fatalf("html report missing run details")
			}
		}},
		{"pdf", func(t *testing.T, content []byte) {
			if !bytes.HasPrefix(content, []byte("%PDF")) {
				t.Fatalf("pdf report should start with %%PDF, got %q", content[:min(len(content), 8)])
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := runCommand(t, reportExportCmd, []string{rn.ID()}, map[string]string{"format": tt.format})
			if err != nil {
				t.Fatalf("export error = %v", err)
			}
			path := filepath.Join(appCtx.ResultsDir, reportsDirName, rn.ID(), "report."+tt.format)
			if !strings.Contains(out, "Report generated: "+path) {
				t.Fatalf("unexpected export output: %s", out)
			}
			content, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read report: %v", err)
			}
			tt.check(t, content)
		})
	}
}

func TestReportExportToStdoutAndBadFormat(t *testing.T) {
	disableColor(t)
	_, appCtx := setupTestAppContext(t, nil)
	rn := executeRun(t, appCtx, check.Selection{})

	out, err := runCommand(t, reportExportCmd, nil, map[string]string{"format": "markdown", "out": "-"})
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !strings.Contains(out, rn.ID()) || strings.Contains(out, "Report generated") {
		t.Fatalf("stdout export should print only the report:\n%s", out)
	}

	if _, err := runCommand(t, reportExportCmd, nil, map[string]string{"format": "docx"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestBuildTemplateData(t *testing.T) {
	rn := newTestRun(t, sampleRun(t)...)
	data := buildTemplateData(rn, []telemetryRecord{{RunID: "older", SuccessRate: 80}})

	if data.RunID != rn.ID() || data.Overall != check.StatusError {
		t.Fatalf("unexpected identity %+v", data)
	}
	if len(data.Categories) != 3 {
		t.Fatalf("expected 3 categories, got %d", len(data.Categories))
	}
	if len(data.Problems) != 3 {
		t.Fatalf("expected warning, failure and error as problems, got %d", len(data.Problems))
	}
	if len(data.TrendHistory) != 1 {
		t.Fatalf("expected trend history to be carried, got %d", len(data.TrendHistory))
	}
}
