package run

import (
	"sort"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

// Transition describes how one check's status moved between two runs.
type Transition string

const (
	TransitionFixed     Transition = "fixed"
	TransitionRegressed Transition = "regressed"
	TransitionNew       Transition = "new"
	TransitionRemoved   Transition = "removed"
	TransitionUnchanged Transition = "unchanged"
	// TransitionChanged covers moves into or out of skipped, which are
	// neither better nor worse.
	TransitionChanged Transition = "changed"
)

// Trend labels the overall direction between two runs.
type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendSame      Trend = "SAME"
	TrendFirstRun  Trend = "FIRST_RUN"
)

// Change is one row of a comparison.
type Change struct {
	ID         string       `json:"id"`
	Category   string       `json:"category"`
	Previous   check.Status `json:"previous,omitempty"`
	Current    check.Status `json:"current,omitempty"`
	Transition Transition   `json:"transition"`
}

// Comparison is the result of Compare.
type Comparison struct {
	PreviousID    string             `json:"previous_id,omitempty"`
	CurrentID     string             `json:"current_id"`
	PreviousScore float64            `json:"previous_score"`
	CurrentScore  float64            `json:"current_score"`
	Trend         Trend              `json:"trend"`
	Changes       []Change           `json:"changes"`
	Counts        map[Transition]int `json:"counts"`
}

// Compare lines up the results of prev and cur by check id. prev may be nil,
// in which case every check is new and the trend is FIRST_RUN.
func Compare(prev, cur *Run) Comparison {
	cmp := Comparison{
		CurrentID:    cur.ID(),
		CurrentScore: cur.Summary().Score(),
		Counts:       make(map[Transition]int),
	}

	before := map[string]check.Result{}
	if prev != nil {
		cmp.PreviousID = prev.ID()
		cmp.PreviousScore = prev.Summary().Score()
		for _, r := range prev.Results() {
			before[r.ID] = r
		}
	}

	seen := make(map[string]bool, len(before))
	for _, r := range cur.Results() {
		seen[r.ID] = true
		c := Change{ID: r.ID, Category: r.Category, Current: r.Status}
		if p, ok := before[r.ID]; ok {
			c.Previous = p.Status
			c.Transition = transition(p.Status, r.Status)
		} else {
			c.Transition = TransitionNew
		}
		cmp.Changes = append(cmp.Changes, c)
	}
	for id, p := range before {
		if !seen[id] {
			cmp.Changes = append(cmp.Changes, Change{ID: id, Category: p.Category, Previous: p.Status, Transition: TransitionRemoved})
		}
	}
	sort.Slice(cmp.Changes, func(i, j int) bool { return cmp.Changes[i].ID < cmp.Changes[j].ID })
	for _, c := range cmp.Changes {
		cmp.Counts[c.Transition]++
	}

	switch {
	case prev == nil:
		cmp.Trend = TrendFirstRun
	case cmp.CurrentScore > cmp.PreviousScore:
		cmp.Trend = TrendImproving
	case cmp.CurrentScore < cmp.PreviousScore:
		cmp.Trend = TrendDeclining
	default:
		cmp.Trend = TrendSame
	}
	return cmp
}

func transition(prev, cur check.Status) Transition {
	switch {
	case prev == cur:
		return TransitionUnchanged
	case prev == check.StatusSkipped || cur == check.StatusSkipped:
		return TransitionChanged
	case cur.Severity() < prev.Severity():
		return TransitionFixed
	default:
		return TransitionRegressed
	}
}
