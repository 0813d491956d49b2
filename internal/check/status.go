package check

import (
	"fmt"
	"strings"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

// Status is the verdict of a single check.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusWarning Status = "warning"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Statuses lists every status in report order.
var Statuses = []Status{StatusPassed, StatusWarning, StatusFailed, StatusSkipped, StatusError}

// Severity orders statuses for aggregation: passed < warning < failed < error.
// Skipped is informational and reports -1.
func (s Status) Severity() int {
	switch s {
	case StatusPassed:
		return 0
	case StatusWarning:
		return 1
	case StatusFailed:
		return 2
	case StatusError:
		return 3
	default:
		return -1
	}
}

// Valid reports whether s is one of the five known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPassed, StatusWarning, StatusFailed, StatusSkipped, StatusError:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Label is the capitalised form used in tables.
func (s Status) Label() string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}

// ParseStatus accepts any casing ("PASSED", "Warning", "error").
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", sharederrors.ErrInvalidStatus, v)
	}
	return s, nil
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", sharederrors.ErrInvalidStatus, string(s))
	}
	return []byte(s), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
