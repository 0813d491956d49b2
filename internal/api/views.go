package api

import (
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
)

// RunSummary is the list view of a run.
type RunSummary struct {
	ID          string         `json:"id"`
	Operator    string         `json:"operator"`
	Target      string         `json:"target"`
	Selection   string         `json:"selection"`
	Status      string         `json:"status"`
	Overall     string         `json:"overall"`
	Score       float64        `json:"score"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
	Totals      summary.Counts `json:"totals"`
}

// RunDetail adds per-category counts and every result.
type RunDetail struct {
	RunSummary
	PerCategory map[string]summary.Counts `json:"per_category"`
	Results     []check.Result            `json:"results"`
	AuditHash   string                    `json:"audit_hash,omitempty"`
}

// NewRunSummary builds the list view of rn.
func NewRunSummary(rn *run.Run) RunSummary {
	sum := rn.Summary()
	out := RunSummary{
		ID:         rn.ID(),
		Operator:   rn.Operator(),
		Target:     rn.Target(),
		Selection:  rn.Selection(),
		Status:     string(rn.Status()),
		Overall:    rn.Overall().String(),
		Score:      sum.Score(),
		StartedAt:  rn.StartedAt(),
		DurationMS: rn.Duration().Milliseconds(),
		Totals:     sum.Totals,
	}
	if completed := rn.CompletedAt(); !completed.IsZero() {
		out.CompletedAt = &completed
	}
	return out
}

// NewRunDetail builds the detail view of rn.
func NewRunDetail(rn *run.Run) RunDetail {
	return RunDetail{
		RunSummary:  NewRunSummary(rn),
		PerCategory: rn.Summary().PerCategory,
		Results:     rn.Results(),
		AuditHash:   rn.Metadata().AuditHash,
	}
}
