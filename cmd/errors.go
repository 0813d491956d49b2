package cmd

import (
	"fmt"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

// RunNotFoundError indicates a run lookup failure.
type RunNotFoundError struct {
	ID string
}

func (e *RunNotFoundError) Error() string {
	if e.ID == "" || e.ID == "latest" {
		return "no runs recorded yet"
	}
	return fmt.Sprintf("run %s not found", e.ID)
}

// UnknownCheckError signals a selection that names no registered check or category.
type UnknownCheckError struct {
	Name string
	Kind string // "check" or "category"
}

func (e *UnknownCheckError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "check"
	}
	return fmt.Sprintf("unknown %s %q (see 'seca-compliance list')", kind, e.Name)
}

// ComplianceFailureError is returned when a run's overall status reaches the
// --fail-on threshold. The process exits with Code.
type ComplianceFailureError struct {
	RunID   string
	Overall check.Status
	Code    int
}

func (e *ComplianceFailureError) Error() string {
	return fmt.Sprintf("run %s finished with overall status %s", e.RunID, e.Overall.Label())
}

// ExitCode returns the process exit code, never zero.
func (e *ComplianceFailureError) ExitCode() int {
	if e.Code == 0 {
		return 1
	}
	return e.Code
}

// InvalidFlagError reports an out-of-range or unknown flag value.
type InvalidFlagError struct {
	Flag  string
	Value string
	Hint  string
}

func (e *InvalidFlagError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid value %q for --%s: %s", e.Value, e.Flag, e.Hint)
	}
	return fmt.Sprintf("invalid value %q for --%s", e.Value, e.Flag)
}
