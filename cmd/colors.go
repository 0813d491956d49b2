package cmd

import (
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorWarn    = color.New(color.FgYellow).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
)

// initColor turns color off for --no-color, NO_COLOR or a non-terminal stdout.
func initColor(disabled bool) {
	if disabled || os.Getenv("NO_COLOR") != "" || !stdoutIsTerminal() {
		color.NoColor = true
	}
}

func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func colorForStatus(s check.Status) func(a ...interface{}) string {
	switch s {
	case check.StatusPassed:
		return colorSuccess
	case check.StatusWarning:
		return colorWarn
	case check.StatusFailed, check.StatusError:
		return colorError
	case check.StatusSkipped:
		return colorInfo
	default:
		return color.New(color.Reset).SprintFunc()
	}
}

// formatStatusWithColor renders the upper-case label of s in its color.
func formatStatusWithColor(s check.Status) string {
	return colorForStatus(s)(statusLabel(s))
}

func statusLabel(s check.Status) string {
	switch s {
	case check.StatusPassed:
		return "PASS"
	case check.StatusWarning:
		return "WARN"
	case check.StatusFailed:
		return "FAIL"
	case check.StatusSkipped:
		return "SKIP"
	case check.StatusError:
		return "ERROR"
	}
	return string(s)
}
