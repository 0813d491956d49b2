package run

import (
	"testing"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
)

func completedRun(t *testing.T, results ...check.Result) *Run {
	t.Helper()
	r := newRunning(t)
	for _, res := range results {
		if err := r.Record(res); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if err := r.Complete(summary.Aggregate(results)); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	return r
}

func res(id string, s check.Status) check.Result {
	return check.Result{ID: id, Category: "timesync", Status: s}
}

func TestCompareTransitions(t *testing.T) {
	prev := completedRun(t,
		res("a", check.StatusFailed),
		res("b", check.StatusPassed),
		res("c", check.StatusWarning),
		res("d", check.StatusPassed),
		res("e", check.StatusSkipped),
	)
	cur := completedRun(t,
		res("a", check.StatusPassed),
		res("b", check.StatusError),
		res("c", check.StatusWarning),
		res("e", check.StatusPassed),
		res("f", check.StatusPassed),
	)

	cmp := Compare(prev, cur)
	want := map[string]Transition{
		"a": TransitionFixed,
		"b": TransitionRegressed,
		"c": TransitionUnchanged,
		"d": TransitionRemoved,
		"e": TransitionChanged,
		"f": TransitionNew,
	}
	if len(cmp.Changes) != len(want) {
		t.Fatalf("got %d changes, want %d", len(cmp.Changes), len(want))
	}
	for i, c := range cmp.Changes {
		if i > 0 && cmp.Changes[i-1].ID > c.ID {
			t.Errorf("changes not sorted: %s before %s", cmp.Changes[i-1].ID, c.ID)
		}
		if c.Transition != want[c.ID] {
			t.Errorf("%s: transition = %s, want %s", c.ID, c.Transition, want[c.ID])
		}
	}
	if cmp.Counts[TransitionFixed] != 1 || cmp.Counts[TransitionNew] != 1 {
		t.Errorf("Counts = %v", cmp.Counts)
	}
	// prev: 2 of 4 evaluated passed; cur: 3 of 5.
	if cmp.Trend != TrendImproving {
		t.Errorf("Trend = %s, want IMPROVING (prev %.1f, cur %.1f)", cmp.Trend, cmp.PreviousScore, cmp.CurrentScore)
	}
}

func TestCompareTrend(t *testing.T) {
	good := completedRun(t, res("a", check.StatusPassed), res("b", check.StatusPassed))
	bad := completedRun(t, res("a", check.StatusPassed), res("b", check.StatusFailed))

	tests := []struct {
		name      string
		prev, cur *Run
		want      Trend
	}{
		{"first run", nil, good, TrendFirstRun},
		{"declining", good, bad, TrendDeclining},
		{"improving", bad, good, TrendImproving},
		{"same", good, good, TrendSame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.prev, tt.cur).Trend; got != tt.want {
				t.Errorf("Trend = %s, want %s", got, tt.want)
			}
		})
	}

	first := Compare(nil, good)
	if first.Counts[TransitionNew] != 2 || first.PreviousID != "" {
		t.Errorf("first run comparison = %+v", first)
	}
}
