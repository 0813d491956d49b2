// Package summary folds check results into per-category counts and one
// overall status.
package summary

import (
	"sort"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

// Counts tallies results by status.
type Counts struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Warning int `json:"warning"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Error   int `json:"error"`
}

func (c *Counts) add(s check.Status) {
	c.Total++
	switch s {
	case check.StatusPassed:
		c.Passed++
	case check.StatusWarning:
		c.Warning++
	case check.StatusFailed:
		c.Failed++
	case check.StatusSkipped:
		c.Skipped++
	case check.StatusError:
		c.Error++
	}
}

// Of returns the count for s.
func (c Counts) Of(s check.Status) int {
	switch s {
	case check.StatusPassed:
		return c.Passed
	case check.StatusWarning:
		return c.Warning
	case check.StatusFailed:
		return c.Failed
	case check.StatusSkipped:
		return c.Skipped
	case check.StatusError:
		return c.Error
	}
	return 0
}

// Score is the share of non-skipped results that passed, in percent. It is
// 100 when nothing was evaluated.
func (c Counts) Score() float64 {
	evaluated := c.Total - c.Skipped
	if evaluated == 0 {
		return 100
	}
	return float64(c.Passed) / float64(evaluated) * 100
}

// Summary is the aggregate of one run.
type Summary struct {
	PerCategory   map[string]Counts `json:"per_category"`
	Totals        Counts            `json:"totals"`
	Overall       check.Status      `json:"overall"`
	TotalDuration time.Duration     `json:"total_duration_ns"`
}

// Aggregate folds results into a Summary. The overall status is the most
// severe status present with Error > Failed > Warning > Passed; Skipped
// results never raise it, so an empty or all-skipped run is Passed.
func Aggregate(results []check.Result) Summary {
	s := Summary{PerCategory: make(map[string]Counts), Overall: check.StatusPassed}
	for _, r := range results {
		counts := s.PerCategory[r.Category]
		counts.add(r.Status)
		s.PerCategory[r.Category] = counts

		s.Totals.add(r.Status)
		s.TotalDuration += r.Duration
		if r.Status.Severity() > s.Overall.Severity() {
			s.Overall = r.Status
		}
	}
	return s
}

// Categories returns the category names in sorted order.
func (s Summary) Categories() []string {
	out := make([]string, 0, len(s.PerCategory))
	for name := range s.PerCategory {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ExitCode maps the overall status to a process exit code.
func (s Summary) ExitCode() int {
	return ExitCodeFor(s.Overall, check.StatusFailed)
}

// ExitCodeFor returns 1 when overall is at least as severe as threshold.
func ExitCodeFor(overall, threshold check.Status) int {
	if threshold.Severity() <= check.StatusPassed.Severity() {
		threshold = check.StatusFailed
	}
	if overall.Severity() >= threshold.Severity() {
		return 1
	}
	return 0
}

// Score is the overall pass rate. See Counts.Score.
func (s Summary) Score() float64 {
	return s.Totals.Score()
}
