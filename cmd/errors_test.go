package cmd

import (
	"testing"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

func TestRunNotFoundError(t *testing.T) {
	err := &RunNotFoundError{ID: "123"}
	if err.Error() != "run 123 not found" {
		t.Fatalf("unexpected error string: %s", err.Error())
	}

	for _, id := range []string{"", "latest"} {
		err = &RunNotFoundError{ID: id}
		if err.Error() != "no runs recorded yet" {
			t.Fatalf("unexpected error string for %q: %s", id, err.Error())
		}
	}
}

func TestUnknownCheckError(t *testing.T) {
	err := &UnknownCheckError{Name: "nope_001"}
	want := `unknown check "nope_001" (see 'seca-compliance list')`
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}

	err = &UnknownCheckError{Name: "dns", Kind: "category"}
	want = `unknown category "dns" (see 'seca-compliance list')`
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}
}

func TestComplianceFailureError(t *testing.T) {
	err := &ComplianceFailureError{RunID: "r1", Overall: check.StatusFailed, Code: 1}
	if err.ExitCode() != 1 {
		t.Fatalf("expected exit code 1, got %d", err.ExitCode())
	}

	err = &ComplianceFailureError{RunID: "r1", Overall: check.StatusError}
	if err.ExitCode() == 0 {
		t.Fatal("a compliance failure must never exit 0")
	}
}

func TestInvalidFlagError(t *testing.T) {
	err := &InvalidFlagError{Flag: "output", Value: "xml", Hint: "expected table, json or junit"}
	want := `invalid value "xml" for --output: expected table, json or junit`
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}

	err = &InvalidFlagError{Flag: "port", Value: "70000"}
	want = `invalid value "70000" for --port`
	if err.Error() != want {
		t.Fatalf("expected %s, got %s", want, err.Error())
	}
}
