package check

import (
	"context"
	"errors"
	"strings"
	"testing"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

func stub(id, category string) Check {
	return Func{
		Meta: Info{ID: id, Name: id, Category: category},
		Fn: func(context.Context, target.Target) (Verdict, error) {
			return Verdict{Status: StatusPassed}, nil
		},
	}
}

func ids(checks []Check) string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.Info().ID
	}
	return strings.Join(out, ",")
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	err := r.Register(
		stub("timesync_001", "timesync"),
		stub("timesync_002", "timesync"),
		stub("certificate_001", "certificate"),
		stub("certificate_002", "certificate"),
		stub("container_001", "container"),
	)
	if err != nil {
		t.Fatalf("Register error = %v", err)
	}
	return r
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(stub("timesync_001", "timesync"))
	if !errors.Is(err, sharederrors.ErrDuplicateCheck) {
		t.Fatalf("expected ErrDuplicateCheck, got %v", err)
	}
	if err := r.Register(stub("", "x")); !errors.Is(err, sharederrors.ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for empty id, got %v", err)
	}
	if err := r.Register(stub("orphan", "")); !errors.Is(err, sharederrors.ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition for empty category, got %v", err)
	}
}

func TestRegistryCategoriesAndLookup(t *testing.T) {
	r := newTestRegistry(t)

	if got := strings.Join(r.Categories(), ","); got != "certificate,container,timesync" {
		t.Errorf("Categories() = %s", got)
	}
	if r.Len() != 5 {
		t.Errorf("Len() = %d, want 5", r.Len())
	}
	if _, err := r.Lookup("container_001"); err != nil {
		t.Errorf("Lookup error = %v", err)
	}
	if _, err := r.Lookup("nope"); !errors.Is(err, sharederrors.ErrCheckNotFound) {
		t.Errorf("expected ErrCheckNotFound, got %v", err)
	}
}

func TestRegistrySelect(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name string
		sel  Selection
		want string
	}{
		{name: "all", sel: Selection{}, want: "certificate_001,certificate_002,container_001,timesync_001,timesync_002"},
		{name: "one category", sel: Selection{Categories: []string{"timesync"}}, want: "timesync_001,timesync_002"},
		{name: "ids after categories", sel: Selection{Categories: []string{"container"}, IDs: []string{"timesync_002"}}, want: "container_001,timesync_002"},
		{name: "dedup", sel: Selection{Categories: []string{"timesync"}, IDs: []string{"timesync_001"}}, want: "timesync_001,timesync_002"},
		{name: "exclude from all", sel: Selection{Exclude: []string{"certificate_002", "timesync_001"}}, want: "certificate_001,container_001,timesync_002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Select(tt.sel)
			if err != nil {
				t.Fatalf("Select error = %v", err)
			}
			if ids(got) != tt.want {
				t.Errorf("Select = %s, want %s", ids(got), tt.want)
			}
		})
	}
}

func TestRegistrySelectUnknown(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Select(Selection{Categories: []string{"kernel"}, IDs: []string{"timesync_099"}})
	if !errors.Is(err, sharederrors.ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection, got %v", err)
	}
	for _, want := range []string{"category kernel", "check timesync_099"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %q", err.Error(), want)
		}
	}
	if !errors.Is(err, sharederrors.ErrCategoryNotFound) || !errors.Is(err, sharederrors.ErrCheckNotFound) {
		t.Errorf("error should match both not-found sentinels: %v", err)
	}

	_, err = r.Select(Selection{IDs: []string{"timesync_099"}})
	if errors.Is(err, sharederrors.ErrCategoryNotFound) {
		t.Error("unknown id alone should not match ErrCategoryNotFound")
	}
	var selErr *SelectionError
	if !errors.As(err, &selErr) || len(selErr.IDs) != 1 {
		t.Errorf("expected *SelectionError naming one id, got %v", err)
	}
}

func TestSelectionString(t *testing.T) {
	if got := (Selection{}).String(); got != "all" {
		t.Errorf("String() = %q", got)
	}
	sel := Selection{Categories: []string{"a", "b"}, Exclude: []string{"a_001"}}
	if got := sel.String(); got != "categories=a,b exclude=a_001" {
		t.Errorf("String() = %q", got)
	}
}
