package security

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name    string
		elems   []string
		want    string
		wantErr bool
	}{
		{name: "run file", elems: []string{"runs", "abc.json"}, want: filepath.Join(base, "runs", "abc.json")},
		{name: "report inside run dir", elems: []string{"reports", "abc", "report.md"}, want: filepath.Join(base, "reports", "abc", "report.md")},
		{name: "dot dot that stays inside", elems: []string{"plugins", "..", "audit.csv"}, want: filepath.Join(base, "audit.csv")},
		{name: "base itself", elems: nil, want: base},
		{name: "parent", elems: []string{".."}, wantErr: true},
		{name: "deep traversal", elems: []string{"reports", "abc", "..", "..", "..", "etc", "passwd"}, wantErr: true},
		{name: "traversal in one element", elems: []string{"../outside"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(base, tt.elems...)
			if tt.wantErr {
				if !errors.Is(err, ErrPathEscape) {
					t.Fatalf("ResolveWithin(%v) error = %v, want ErrPathEscape", tt.elems, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveWithin(%v) error = %v", tt.elems, err)
			}
			if got != tt.want {
				t.Errorf("ResolveWithin(%v) = %s, want %s", tt.elems, got, tt.want)
			}
		})
	}
}

func TestResolveWithinRequiresBase(t *testing.T) {
	if _, err := ResolveWithin("", "runs"); err == nil {
		t.Fatal("expected an error for an empty base")
	}
}

func TestResolveWithinRelativeBase(t *testing.T) {
	got, err := ResolveWithin("results", "audit.csv")
	if err != nil {
		t.Fatalf("ResolveWithin error = %v", err)
	}
	if !filepath.IsAbs(got) {
		t.Errorf("ResolveWithin returned relative path %s", got)
	}
}

func TestValidateName(t *testing.T) {
	for _, name := range []string{"abc123", "4f9c2a1e-0d1b-4c35-9d39-1e5f0f6a7b88", "report.md"} {
		if err := ValidateName("run id", name); err != nil {
			t.Errorf("ValidateName(%q) error = %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "a/b", `a\b`, "../x"} {
		if err := ValidateName("run id", name); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) error = %v, want ErrInvalidName", name, err)
		}
	}
}
