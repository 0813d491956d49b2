package catalog

import (
	"strings"
	"sync"

	"github.com/khanhnv2901/seca-compliance/internal/target"
)

var regexCache sync.Map

// Compare holds numeric bounds. Every bound that is set must hold.
type Compare struct {
	Gt  *float64 `yaml:"gt,omitempty"`
	Gte *float64 `yaml:"gte,omitempty"`
	Lt  *float64 `yaml:"lt,omitempty"`
	Lte *float64 `yaml:"lte,omitempty"`
	Eq  *float64 `yaml:"eq,omitempty"`
}

func (c Compare) empty() bool {
	return c.Gt == nil && c.Gte == nil && c.Lt == nil && c.Lte == nil && c.Eq == nil
}

func (c Compare) holds(v float64) bool {
	switch {
	case c.Gt != nil && !(v > *c.Gt):
		return false
	case c.Gte != nil && !(v >= *c.Gte):
		return false
	case c.Lt != nil && !(v < *c.Lt):
		return false
	case c.Lte != nil && !(v <= *c.Lte):
		return false
	case c.Eq != nil && v != *c.Eq:
		return false
	}
	return true
}

// Match is a recognizer over probe output and derived vars. All tests set on
// one Match are combined with AND; use Any for OR.
//
// Text tests read Stream ("stdout" by default) of Probe. Equals, Empty and
// NotEmpty compare the trimmed text.
type Match struct {
	Probe       string   `yaml:"probe,omitempty"`
	Stream      string   `yaml:"stream,omitempty"`
	Contains    string   `yaml:"contains,omitempty"`
	NotContains string   `yaml:"not_contains,omitempty"`
	ContainsAny []string `yaml:"contains_any,omitempty"`
	Equals      *string  `yaml:"equals,omitempty"`
	Regex       string   `yaml:"regex,omitempty"`
	Empty       bool     `yaml:"empty,omitempty"`
	NotEmpty    bool     `yaml:"not_empty,omitempty"`
	ExitCode    *int     `yaml:"exit_code,omitempty"`
	Lines       *Compare `yaml:"lines,omitempty"`

	Var     string `yaml:"var,omitempty"`
	Compare `yaml:",inline"`

	All []Match `yaml:"all,omitempty"`
	Any []Match `yaml:"any,omitempty"`
	Not *Match  `yaml:"not,omitempty"`
}

func (m *Match) hasTextTests() bool {
	return m.Contains != "" || m.NotContains != "" || len(m.ContainsAny) > 0 || m.Equals != nil ||
		m.Regex != "" || m.Empty || m.NotEmpty || m.ExitCode != nil || m.Lines != nil
}

func (m *Match) empty() bool {
	return !m.hasTextTests() && m.Var == "" && m.Compare.empty() &&
		len(m.All) == 0 && len(m.Any) == 0 && m.Not == nil
}

func streamText(out target.Output, stream string) string {
	switch stream {
	case "stderr":
		return out.Stderr
	case "combined":
		return out.Combined()
	default:
		return out.Stdout
	}
}

// countLines counts lines the way a line iterator does: a trailing newline
// does not start a new line and empty text has none.
func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// eval evaluates m. When item is non-nil, text tests read item instead of a
// named probe.
func (s *state) eval(m *Match, item *target.Output) bool {
	if m.hasTextTests() {
		var out target.Output
		if item != nil {
			out = *item
		} else {
			out = s.ev.Outputs[m.Probe]
		}
		if !textHolds(m, out) {
			return false
		}
	}
	if m.Var != "" && !m.Compare.holds(s.vars[m.Var]) {
		return false
	}
	for i := range m.All {
		if !s.eval(&m.All[i], item) {
			return false
		}
	}
	if len(m.Any) > 0 {
		matched := false
		for i := range m.Any {
			if s.eval(&m.Any[i], item) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if m.Not != nil && s.eval(m.Not, item) {
		return false
	}
	return true
}

func textHolds(m *Match, out target.Output) bool {
	text := streamText(out, m.Stream)
	trimmed := strings.TrimSpace(text)

	if m.Contains != "" && !strings.Contains(text, m.Contains) {
		return false
	}
	if m.NotContains != "" && strings.Contains(text, m.NotContains) {
		return false
	}
	if len(m.ContainsAny) > 0 {
		found := false
		for _, needle := range m.ContainsAny {
			if strings.Contains(text, needle) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if m.Equals != nil && trimmed != *m.Equals {
		return false
	}
	if m.Regex != "" {
		re, err := compile(m.Regex)
		if err != nil || !re.MatchString(text) {
			return false
		}
	}
	if m.Empty && trimmed != "" {
		return false
	}
	if m.NotEmpty && trimmed == "" {
		return false
	}
	if m.ExitCode != nil && out.ExitCode != *m.ExitCode {
		return false
	}
	if m.Lines != nil && !m.Lines.holds(float64(countLines(text))) {
		return false
	}
	return true
}
