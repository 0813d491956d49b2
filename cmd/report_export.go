package cmd

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/spf13/cobra"

	auditapp "github.com/khanhnv2901/seca-compliance/internal/application/audit"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
)

const (
	htmlTemplatePath     = "templates/report.html"
	markdownTemplatePath = "templates/report.md"
	trendHistoryLimit    = 8
	pdfMaxEvidenceLines  = 12
)

//go:embed templates/report.html templates/report.md
var reportTemplateFS embed.FS

func upperString(v any) string {
	return strings.ToUpper(fmt.Sprint(v))
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v)
}

func formatMillis(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}

func formatSeconds(s float64) string {
	return formatDurationLabel(time.Duration(s * float64(time.Second)))
}

// markdownCell keeps a value on one table row.
func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.Join(strings.Fields(s), " ")
}

func badgeClass(s check.Status) string {
	return "badge-" + s.String()
}

var (
	htmlTemplateFuncs = htmltemplate.FuncMap{
		"upper":         upperString,
		"formatPercent": formatPercent,
		"formatMillis":  formatMillis,
		"formatSeconds": formatSeconds,
		"formatTime":    formatShortTimestamp,
		"badgeClass":    badgeClass,
	}

	markdownTemplateFuncs = texttemplate.FuncMap{
		"upper":         upperString,
		"formatPercent": formatPercent,
		"formatMillis":  formatMillis,
		"formatSeconds": formatSeconds,
		"formatTime":    formatShortTimestamp,
		"cell":          markdownCell,
	}

	htmlReportTemplate = htmltemplate.Must(
		htmltemplate.New("report.html").Funcs(htmlTemplateFuncs).ParseFS(reportTemplateFS, htmlTemplatePath),
	)
	markdownReportTemplate = texttemplate.Must(
		texttemplate.New("report.md").Funcs(markdownTemplateFuncs).ParseFS(reportTemplateFS, markdownTemplatePath),
	)
)

// categoryReport is one category block of an exported report.
type categoryReport struct {
	Name    string
	Counts  summary.Counts
	Results []check.Result
}

// TemplateData holds the data for HTML/PDF/Markdown report rendering
type TemplateData struct {
	RunID              string
	Operator           string
	Target             string
	TargetKind         string
	Selection          string
	RunStatus          string
	StartedAt          string
	CompletedAt        string
	Duration           string
	Overall            check.Status
	Score              float64
	Totals             summary.Counts
	Categories         []categoryReport
	Problems           []check.Result
	AuditHash          string
	HashAlgorithmLabel string
	TrendHistory       []telemetryRecord
	GeneratedAt        string
	Version            string
}

func buildTemplateData(rn *run.Run, trends []telemetryRecord) TemplateData {
	sum := rn.Summary()

	byCategory := make(map[string][]check.Result)
	var problems []check.Result
	for _, res := range rn.Results() {
		byCategory[res.Category] = append(byCategory[res.Category], res)
		switch res.Status {
		case check.StatusWarning, check.StatusFailed, check.StatusError:
			problems = append(problems, res)
		}
	}
	sort.SliceStable(problems, func(i, j int) bool {
		return problems[i].Status.Severity() > problems[j].Status.Severity()
	})

	categories := make([]categoryReport, 0, len(byCategory))
	for _, name := range sum.Categories() {
		categories = append(categories, categoryReport{
			Name:    name,
			Counts:  sum.PerCategory[name],
			Results: byCategory[name],
		})
	}

	completed := ""
	if !rn.CompletedAt().IsZero() {
		completed = rn.CompletedAt().Format(time.RFC3339)
	}
	hashAlg := rn.Metadata().HashAlgorithm
	if hashAlg == "" {
		hashAlg = auditapp.HashAlgorithm
	}

	return TemplateData{
		RunID:              rn.ID(),
		Operator:           rn.Operator(),
		Target:             rn.Target(),
		TargetKind:         string(rn.TargetKind()),
		Selection:          rn.Selection(),
		RunStatus:          string(rn.Status()),
		StartedAt:          rn.StartedAt().Format(time.RFC3339),
		CompletedAt:        completed,
		Duration:           formatDurationLabel(rn.Duration()),
		Overall:            sum.Overall,
		Score:              sum.Score(),
		Totals:             sum.Totals,
		Categories:         categories,
		Problems:           problems,
		AuditHash:          rn.Metadata().AuditHash,
		HashAlgorithmLabel: strings.ToUpper(hashAlg),
		TrendHistory:       trends,
		GeneratedAt:        time.Now().UTC().Format(time.RFC3339),
		Version:            Version,
	}
}

func generateMarkdownReport(data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := markdownReportTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func generateHTMLReport(data TemplateData) ([]byte, error) {
	var buf bytes.Buffer
	if err := htmlReportTemplate.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// pdfText maps text onto the cp1252 core fonts.
var pdfText = gofpdf.New("P", "mm", "A4", "").UnicodeTranslatorFromDescriptor("")

func pdfStatusColor(pdf *gofpdf.Fpdf, s check.Status) {
	switch s {
	case check.StatusPassed:
		pdf.SetTextColor(47, 158, 68)
	case check.StatusWarning:
		pdf.SetTextColor(240, 140, 0)
	case check.StatusFailed:
		pdf.SetTextColor(201, 42, 42)
	case check.StatusError:
		pdf.SetTextColor(134, 46, 156)
	default:
		pdf.SetTextColor(134, 142, 150)
	}
}

func truncateLines(s string, max int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= max {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[:max], "\n") + fmt.Sprintf("\n... %d more lines", len(lines)-max)
}

func generatePDFReportBytes(data TemplateData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Compliance Report: "+data.Target, true)
	pdf.SetAuthor(data.Operator, true)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Arial", "I", 8)
		pdf.SetTextColor(130, 154, 177)
		pdf.CellFormat(0, 6, fmt.Sprintf("seca-compliance %s | run %s | page %d/{nb}", data.Version, data.RunID, pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, pdfText("Compliance Report: "+data.Target), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// Metadata section
	pdf.SetFont("Arial", "", 10)
	meta := [][2]string{
		{"Run ID", data.RunID},
		{"Operator", data.Operator},
		{"Target", fmt.Sprintf("%s (%s)", data.Target, data.TargetKind)},
		{"Selection", data.Selection},
		{"Started", data.StartedAt},
		{"Completed", data.CompletedAt},
		{"Duration", data.Duration},
		{"Status", data.RunStatus},
	}
	if data.AuditHash != "" {
		meta = append(meta, [2]string{"Audit " + data.HashAlgorithmLabel, data.AuditHash})
	}
	for _, kv := range meta {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(35, 6, kv[0]+":", "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, pdfText(kv[1]), "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	// Summary section
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Summary", "", 1, "", false, 0, "")
	pdf.SetFont("Arial", "B", 11)
	pdfStatusColor(pdf, data.Overall)
	pdf.CellFormat(0, 7, fmt.Sprintf("Overall: %s   Pass rate: %s", upperString(data.Overall), formatPercent(data.Score)), "", 1, "", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)

	headers := []string{"Category", "Total", "Passed", "Warning", "Failed", "Error", "Skipped"}
	widths := []float64{50, 20, 20, 20, 20, 20, 20}
	pdf.SetFont("Arial", "B", 9)
	pdf.SetFillColor(240, 244, 248)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	row := func(name string, c summary.Counts) {
		cells := []string{name,
			fmt.Sprint(c.Total), fmt.Sprint(c.Passed), fmt.Sprint(c.Warning),
			fmt.Sprint(c.Failed), fmt.Sprint(c.Error), fmt.Sprint(c.Skipped)}
		for i, v := range cells {
			align := "R"
			if i == 0 {
				align = "L"
			}
			pdf.CellFormat(widths[i], 6, pdfText(v), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	for _, c := range data.Categories {
		row(c.Name, c.Counts)
	}
	pdf.SetFont("Arial", "B", 9)
	row("total", data.Totals)
	pdf.Ln(5)

	// Findings section
	if len(data.Problems) > 0 {
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Findings", "", 1, "", false, 0, "")
		for _, res := range data.Problems {
			if pdf.GetY() > 250 {
				pdf.AddPage()
			}
			pdf.SetFont("Arial", "B", 10)
			pdfStatusColor(pdf, res.Status)
			pdf.CellFormat(20, 6, statusLabel(res.Status), "", 0, "", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			pdf.CellFormat(0, 6, pdfText(res.ID+"  "+res.Name), "", 1, "", false, 0, "")
			pdf.SetFont("Arial", "", 9)
			pdf.MultiCell(0, 5, pdfText(res.Message), "", "", false)
			if res.Evidence != "" {
				pdf.SetFont("Courier", "", 7)
				pdf.SetFillColor(245, 247, 250)
				pdf.MultiCell(0, 3.5, pdfText(truncateLines(res.Evidence, pdfMaxEvidenceLines)), "", "", true)
			}
			pdf.Ln(2)
		}
		pdf.Ln(3)
	}

	// All checks
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "All Checks", "", 1, "", false, 0, "")
	for _, c := range data.Categories {
		if pdf.GetY() > 260 {
			pdf.AddPage()
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.SetFillColor(240, 240, 240)
		pdf.CellFormat(0, 7, pdfText(c.Name), "", 1, "", true, 0, "")
		for _, res := range c.Results {
			if pdf.GetY() > 270 {
				pdf.AddPage()
			}
			pdf.SetFont("Arial", "B", 8)
			pdfStatusColor(pdf, res.Status)
			pdf.CellFormat(15, 5, statusLabel(res.Status), "", 0, "", false, 0, "")
			pdf.SetTextColor(0, 0, 0)
			pdf.SetFont("Arial", "", 8)
			pdf.CellFormat(30, 5, pdfText(res.ID), "", 0, "", false, 0, "")
			pdf.CellFormat(0, 5, pdfText(res.Name), "", 1, "", false, 0, "")
		}
		pdf.Ln(2)
	}

	// Trend section (if available)
	if len(data.TrendHistory) > 0 {
		if pdf.GetY() > 240 {
			pdf.AddPage()
		}
		pdf.SetFont("Arial", "B", 12)
		pdf.CellFormat(0, 8, "Trend", "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		for _, rec := range data.TrendHistory {
			pdf.CellFormat(0, 5, pdfText(fmt.Sprintf("%s  %s  %s  %s success, %s",
				formatShortTimestamp(rec.Timestamp), rec.Target, rec.Overall,
				formatPercent(rec.SuccessRate), formatSeconds(rec.DurationSeconds))), "", 1, "", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// exportReport renders rn in format ("md", "html" or "pdf").
func exportReport(format string, data TemplateData) ([]byte, error) {
	switch format {
	case "md", "markdown":
		return generateMarkdownReport(data)
	case "html":
		return generateHTMLReport(data)
	case "pdf":
		return generatePDFReportBytes(data)
	}
	return nil, &InvalidFlagError{Flag: "format", Value: format, Hint: "expected md, html or pdf"}
}

func reportExtension(format string) string {
	if format == "markdown" {
		return "md"
	}
	return format
}

var reportExportCmd = &cobra.Command{
	Use:   "export [run-id|latest]",
	Short: "Export a run as a Markdown, HTML or PDF report",
	Long: `Export a run as a Markdown, HTML or PDF report. Without --out the report
is written to <results>/reports/<run-id>/report.<ext>; --out - writes it to
stdout.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		format = strings.ToLower(strings.TrimSpace(format))

		rn, err := findRun(cmd, runIDArg(args))
		if err != nil {
			return err
		}

		trends, err := loadTelemetryHistory(appCtx.ResultsDir)
		if err != nil {
			appCtx.Logger.Warnw("telemetry_load_failed", "error", err)
		}
		if len(trends) > trendHistoryLimit {
			trends = trends[len(trends)-trendHistoryLimit:]
		}

		content, err := exportReport(format, buildTemplateData(rn, trends))
		if err != nil {
			return fmt.Errorf("failed to generate report: %w", err)
		}

		if outPath == "-" {
			_, err := io.Copy(cmd.OutOrStdout(), bytes.NewReader(content))
			return err
		}
		if outPath == "" {
			dir, err := ensureReportsDir(appCtx.ResultsDir, rn.ID())
			if err != nil {
				return err
			}
			outPath = filepath.Join(dir, "report."+reportExtension(format))
		}
		if err := os.WriteFile(outPath, content, consts.PrivateFilePerm); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Report generated: %s\n", outPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Format: %s\n", format)
		fmt.Fprintf(cmd.OutOrStdout(), "Overall: %s (%d checks)\n", formatStatusWithColor(rn.Overall()), rn.Summary().Totals.Total)
		return nil
	},
}

func init() {
	reportExportCmd.Flags().String("format", "md", "report format: md|html|pdf")
	reportExportCmd.Flags().String("out", "", "output file (\"-\" for stdout)")
}
