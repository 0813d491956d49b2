package check

import (
	"encoding/json"
	"errors"
	"testing"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

func TestStatusSeverityOrder(t *testing.T) {
	order := []Status{StatusPassed, StatusWarning, StatusFailed, StatusError}
	for i := 1; i < len(order); i++ {
		if order[i-1].Severity() >= order[i].Severity() {
			t.Errorf("%s should be less severe than %s", order[i-1], order[i])
		}
	}
	if StatusSkipped.Severity() >= 0 {
		t.Errorf("skipped should be excluded from severity, got %d", StatusSkipped.Severity())
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "passed", want: StatusPassed},
		{in: "WARNING", want: StatusWarning},
		{in: " Failed ", want: StatusFailed},
		{in: "skipped", want: StatusSkipped},
		{in: "Error", want: StatusError},
		{in: "ok", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				if !errors.Is(err, sharederrors.ErrInvalidStatus) {
					t.Fatalf("ParseStatus(%q) error = %v, want ErrInvalidStatus", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseStatus(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseStatus(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestStatusJSONRejectsUnknown(t *testing.T) {
	var s Status
	if err := json.Unmarshal([]byte(`"Warning"`), &s); err != nil || s != StatusWarning {
		t.Fatalf("Unmarshal = %s, %v", s, err)
	}
	if err := json.Unmarshal([]byte(`"broken"`), &s); err == nil {
		t.Fatal("expected error for unknown status")
	}
	if _, err := json.Marshal(Status("broken")); err == nil {
		t.Fatal("expected error marshalling unknown status")
	}
}

func TestStatusLabel(t *testing.T) {
	if got := StatusWarning.Label(); got != "Warning" {
		t.Errorf("Label() = %q", got)
	}
}
