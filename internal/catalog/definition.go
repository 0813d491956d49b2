// Package catalog turns YAML check packs into runnable checks.
//
// A definition lists the commands to run on the target (probes), numbers
// derived from their output (vars), recognizers that tally features and
// issues (signals), applicability rules evaluated before scoring (skip) and
// ordered threshold rules that pick the final status (verdicts). Scoring is
// a pure function of the collected evidence, so every definition can be
// exercised without a target.
package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

// Pack is the top-level document of a check pack file.
type Pack struct {
	Category string       `yaml:"category"`
	Checks   []Definition `yaml:"checks"`
}

// Definition is one data-driven check.
type Definition struct {
	ID          string        `yaml:"id"`
	Name        string        `yaml:"name"`
	Category    string        `yaml:"category"`
	Description string        `yaml:"description"`
	Probes      []Probe       `yaml:"probes"`
	Vars        []Var         `yaml:"vars,omitempty"`
	Skip        []SkipRule    `yaml:"skip,omitempty"`
	Signals     []Signal      `yaml:"signals,omitempty"`
	Verdicts    []VerdictRule `yaml:"verdicts"`

	// Source is the file the definition was loaded from.
	Source string `yaml:"-"`
}

// Info returns the check identity.
func (d *Definition) Info() check.Info {
	return check.Info{ID: d.ID, Name: d.Name, Category: d.Category, Description: d.Description}
}

// Probe is a command run on the target. With Foreach set, the command is run
// once per item with {item} substituted.
type Probe struct {
	Name    string   `yaml:"name"`
	Label   string   `yaml:"label"`
	Command string   `yaml:"command"`
	Foreach []string `yaml:"foreach,omitempty"`
}

// Commands expands the probe into the commands it runs.
func (p Probe) Commands() []string {
	if len(p.Foreach) == 0 {
		return []string{p.Command}
	}
	out := make([]string, len(p.Foreach))
	for i, item := range p.Foreach {
		out[i] = strings.ReplaceAll(p.Command, "{item}", item)
	}
	return out
}

// VarKind selects how a derived number is computed.
type VarKind string

const (
	// VarNumber parses the trimmed output, falling back to Default.
	VarNumber VarKind = "number"
	// VarLastField parses the last whitespace-separated field.
	VarLastField VarKind = "last_field"
	// VarLines counts output lines, optionally only those matching Filter.
	VarLines VarKind = "lines"
	// VarNonblankLines counts lines that are not blank.
	VarNonblankLines VarKind = "nonblank_lines"
	// VarEpochSkew is |now - output| where output is a unix timestamp.
	VarEpochSkew VarKind = "epoch_skew"
	// VarTokens counts how many of Tokens appear in the output.
	VarTokens VarKind = "tokens"
	// VarItems counts foreach items whose output satisfies Match.
	VarItems VarKind = "items"
	// VarSum adds up the vars named in Of.
	VarSum VarKind = "sum"
)

// Var is a number derived from probe output.
type Var struct {
	Name    string   `yaml:"name"`
	Kind    VarKind  `yaml:"kind"`
	Label   string   `yaml:"label,omitempty"`
	Probe   string   `yaml:"probe,omitempty"`
	Stream  string   `yaml:"stream,omitempty"`
	Default *float64 `yaml:"default,omitempty"`
	Filter  string   `yaml:"filter,omitempty"`
	Tokens  []string `yaml:"tokens,omitempty"`
	Match   *Match   `yaml:"match,omitempty"`
	Of      []string `yaml:"of,omitempty"`
}

// SkipRule marks the check inapplicable when its condition holds.
type SkipRule struct {
	When    Match  `yaml:"when"`
	Message string `yaml:"message"`
}

// Signal adds a feature or an issue to the tally when its condition holds.
// Else is consulted when it does not.
type Signal struct {
	Feature string  `yaml:"feature,omitempty"`
	Issue   string  `yaml:"issue,omitempty"`
	When    *Match  `yaml:"when,omitempty"`
	Else    *Signal `yaml:"else,omitempty"`
	Weight  *int    `yaml:"weight,omitempty"`
}

func (s Signal) weight() int {
	if s.Weight == nil {
		return 1
	}
	return *s.Weight
}

// VerdictRule is one threshold rule. Every condition that is set must hold.
// A rule without conditions always matches and must come last.
type VerdictRule struct {
	Status      check.Status `yaml:"status"`
	Message     string       `yaml:"message"`
	MinFeatures *int         `yaml:"min_features,omitempty"`
	MaxFeatures *int         `yaml:"max_features,omitempty"`
	MinIssues   *int         `yaml:"min_issues,omitempty"`
	MaxIssues   *int         `yaml:"max_issues,omitempty"`
	MinScore    *int         `yaml:"min_score,omitempty"`
	When        *Match       `yaml:"when,omitempty"`
}

func (r VerdictRule) unconditional() bool {
	return r.MinFeatures == nil && r.MaxFeatures == nil && r.MinIssues == nil &&
		r.MaxIssues == nil && r.MinScore == nil && r.When == nil
}

var reservedNames = map[string]bool{"features": true, "issues": true, "score": true}

// Validate checks the definition for internal consistency. Regular
// expressions are compiled here so evaluation never sees a bad pattern.
func (d *Definition) Validate() error {
	fail := func(format string, args ...any) error {
		prefix := d.ID
		if prefix == "" {
			prefix = "<no id>"
		}
		return fmt.Errorf("%w: %s: %s", sharederrors.ErrInvalidDefinition, prefix, fmt.Sprintf(format, args...))
	}

	switch {
	case d.ID == "":
		return fail("id is required")
	case d.Name == "":
		return fail("name is required")
	case d.Category == "":
		return fail("category is required")
	case len(d.Probes) == 0:
		return fail("at least one probe is required")
	case len(d.Verdicts) == 0:
		return fail("at least one verdict is required")
	}

	probes := make(map[string]Probe, len(d.Probes))
	for _, p := range d.Probes {
		if p.Name == "" || strings.TrimSpace(p.Command) == "" {
			return fail("probe needs a name and a command")
		}
		if _, dup := probes[p.Name]; dup {
			return fail("duplicate probe %q", p.Name)
		}
		if len(p.Foreach) > 0 && !strings.Contains(p.Command, "{item}") {
			return fail("foreach probe %q must use {item}", p.Name)
		}
		probes[p.Name] = p
	}

	vars := make(map[string]Var, len(d.Vars))
	for _, v := range d.Vars {
		if v.Name == "" || reservedNames[v.Name] {
			return fail("invalid var name %q", v.Name)
		}
		if _, dup := vars[v.Name]; dup {
			return fail("duplicate var %q", v.Name)
		}
		if _, clash := probes[v.Name]; clash {
			return fail("var %q shadows a probe", v.Name)
		}
		if err := validateStream(v.Stream); err != nil {
			return fail("var %q: %v", v.Name, err)
		}
		switch v.Kind {
		case VarNumber, VarLastField, VarNonblankLines, VarEpochSkew:
		case VarLines:
			if v.Filter != "" {
				if _, err := compile(v.Filter); err != nil {
					return fail("var %q: %v", v.Name, err)
				}
			}
		case VarTokens:
			if len(v.Tokens) == 0 {
				return fail("var %q: tokens are required", v.Name)
			}
		case VarItems:
			if v.Match == nil {
				return fail("var %q: match is required", v.Name)
			}
			if len(probes[v.Probe].Foreach) == 0 {
				return fail("var %q: probe %q is not a foreach probe", v.Name, v.Probe)
			}
			if err := v.Match.validate(probes, vars, true); err != nil {
				return fail("var %q: %v", v.Name, err)
			}
		case VarSum:
			if len(v.Of) == 0 {
				return fail("var %q: of is required", v.Name)
			}
			for _, name := range v.Of {
				if _, ok := vars[name]; !ok {
					return fail("var %q: unknown var %q (vars must be declared before use)", v.Name, name)
				}
			}
		default:
			return fail("var %q: unknown kind %q", v.Name, v.Kind)
		}
		if v.Kind != VarSum {
			if _, ok := probes[v.Probe]; !ok {
				return fail("var %q: unknown probe %q", v.Name, v.Probe)
			}
		}
		vars[v.Name] = v
	}

	for i, s := range d.Skip {
		if s.Message == "" {
			return fail("skip rule %d: message is required", i+1)
		}
		if err := s.When.validate(probes, vars, false); err != nil {
			return fail("skip rule %d: %v", i+1, err)
		}
	}

	for i, s := range d.Signals {
		if s.When == nil {
			return fail("signal %d: when is required", i+1)
		}
		if err := validateSignal(s, probes, vars); err != nil {
			return fail("signal %d: %v", i+1, err)
		}
	}

	for i, r := range d.Verdicts {
		if !r.Status.Valid() || r.Status == check.StatusError {
			return fail("verdict %d: status must be passed, warning, failed or skipped", i+1)
		}
		if r.Message == "" {
			return fail("verdict %d: message is required", i+1)
		}
		if r.When != nil {
			if err := r.When.validate(probes, vars, false); err != nil {
				return fail("verdict %d: %v", i+1, err)
			}
		}
		last := i == len(d.Verdicts)-1
		if last && !r.unconditional() {
			return fail("last verdict must have no conditions")
		}
		if !last && r.unconditional() {
			return fail("verdict %d has no conditions and shadows the rules after it", i+1)
		}
	}
	return nil
}

func validateSignal(s Signal, probes map[string]Probe, vars map[string]Var) error {
	if (s.Feature == "") == (s.Issue == "") {
		return fmt.Errorf("exactly one of feature or issue is required")
	}
	if s.Weight != nil && *s.Weight < 0 {
		return fmt.Errorf("weight must not be negative")
	}
	if s.When != nil {
		if err := s.When.validate(probes, vars, false); err != nil {
			return err
		}
	}
	if s.Else != nil {
		return validateSignal(*s.Else, probes, vars)
	}
	return nil
}

func validateStream(s string) error {
	switch s {
	case "", "stdout", "stderr", "combined":
		return nil
	}
	return fmt.Errorf("unknown stream %q", s)
}

func (m *Match) validate(probes map[string]Probe, vars map[string]Var, itemScope bool) error {
	if m.empty() {
		return fmt.Errorf("condition has no tests")
	}
	if err := validateStream(m.Stream); err != nil {
		return err
	}
	if m.hasTextTests() && !itemScope {
		if _, ok := probes[m.Probe]; !ok {
			return fmt.Errorf("unknown probe %q", m.Probe)
		}
	}
	if m.Var != "" {
		if _, ok := vars[m.Var]; !ok {
			return fmt.Errorf("unknown var %q", m.Var)
		}
		if m.Compare.empty() {
			return fmt.Errorf("var %q needs a comparison", m.Var)
		}
	} else if !m.Compare.empty() {
		return fmt.Errorf("comparison without var")
	}
	if m.Regex != "" {
		if _, err := compile(m.Regex); err != nil {
			return err
		}
	}
	for i := range m.All {
		if err := m.All[i].validate(probes, vars, itemScope); err != nil {
			return err
		}
	}
	for i := range m.Any {
		if err := m.Any[i].validate(probes, vars, itemScope); err != nil {
			return err
		}
	}
	if m.Not != nil {
		return m.Not.validate(probes, vars, itemScope)
	}
	return nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := regexCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	regexCache.Store(pattern, re)
	return re, nil
}
