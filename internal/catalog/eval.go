package catalog

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Evidence is the probe output collected from a target.
type Evidence struct {
	// Outputs is keyed by probe name. For foreach probes it holds the
	// concatenated stdout of every item.
	Outputs map[string]target.Output
	// Items holds per-item output of foreach probes, in item order.
	Items map[string][]ItemOutput
}

// ItemOutput is the output of one foreach expansion.
type ItemOutput struct {
	Item   string
	Output target.Output
}

// Tally is the scoring state a verdict is decided from.
type Tally struct {
	Features []string
	Issues   []string
	Score    int
}

type state struct {
	def     *Definition
	ev      Evidence
	now     time.Time
	vars    map[string]float64
	matched map[string][]string
}

// Evaluate scores ev against def. It performs no I/O.
func Evaluate(def *Definition, ev Evidence, now time.Time) (check.Verdict, Tally) {
	s := &state{
		def:     def,
		ev:      ev,
		now:     now,
		vars:    make(map[string]float64, len(def.Vars)),
		matched: make(map[string][]string),
	}
	for _, v := range def.Vars {
		s.vars[v.Name] = s.derive(v)
	}

	tally := Tally{Features: []string{}, Issues: []string{}}
	for _, sig := range def.Signals {
		s.apply(sig, &tally)
	}
	evidence := s.render(tally)

	for _, rule := range def.Skip {
		if s.eval(&rule.When, nil) {
			return check.Verdict{Status: check.StatusSkipped, Message: s.expand(rule.Message, tally), Evidence: evidence}, tally
		}
	}
	for _, rule := range def.Verdicts {
		if s.ruleHolds(rule, tally) {
			return check.Verdict{Status: rule.Status, Message: s.expand(rule.Message, tally), Evidence: evidence}, tally
		}
	}
	return check.Verdict{Status: check.StatusError, Message: "no verdict rule matched", Evidence: evidence}, tally
}

func (s *state) apply(sig Signal, t *Tally) {
	if sig.When == nil || s.eval(sig.When, nil) {
		if sig.Feature != "" {
			t.Features = append(t.Features, s.expand(sig.Feature, *t))
			t.Score += sig.weight()
		} else {
			t.Issues = append(t.Issues, s.expand(sig.Issue, *t))
		}
		return
	}
	if sig.Else != nil {
		s.apply(*sig.Else, t)
	}
}

func (s *state) ruleHolds(r VerdictRule, t Tally) bool {
	features, issues := len(t.Features), len(t.Issues)
	switch {
	case r.MinFeatures != nil && features < *r.MinFeatures:
		return false
	case r.MaxFeatures != nil && features > *r.MaxFeatures:
		return false
	case r.MinIssues != nil && issues < *r.MinIssues:
		return false
	case r.MaxIssues != nil && issues > *r.MaxIssues:
		return false
	case r.MinScore != nil && t.Score < *r.MinScore:
		return false
	case r.When != nil && !s.eval(r.When, nil):
		return false
	}
	return true
}

func parseNumber(s string, def *float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return v
	}
	if def != nil {
		return *def
	}
	return 0
}

func (s *state) derive(v Var) float64 {
	text := streamText(s.ev.Outputs[v.Probe], v.Stream)

	switch v.Kind {
	case VarNumber:
		return parseNumber(text, v.Default)
	case VarLastField:
		fields := strings.Fields(text)
		if len(fields) == 0 {
			return parseNumber("", v.Default)
		}
		return parseNumber(fields[len(fields)-1], v.Default)
	case VarLines:
		if v.Filter == "" {
			return float64(countLines(text))
		}
		re, err := compile(v.Filter)
		if err != nil {
			return 0
		}
		n := 0
		for _, line := range splitLines(text) {
			if re.MatchString(line) {
				n++
			}
		}
		return float64(n)
	case VarNonblankLines:
		n := 0
		for _, line := range splitLines(text) {
			if strings.TrimSpace(line) != "" {
				n++
			}
		}
		return float64(n)
	case VarEpochSkew:
		epoch, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		if err != nil {
			epoch = 0
		}
		return math.Abs(float64(s.now.Unix() - epoch))
	case VarTokens:
		var found []string
		for _, tok := range v.Tokens {
			if strings.Contains(text, tok) {
				found = append(found, tok)
			}
		}
		s.matched[v.Name] = found
		return float64(len(found))
	case VarItems:
		var found []string
		for _, io := range s.ev.Items[v.Probe] {
			out := io.Output
			if s.eval(v.Match, &out) {
				found = append(found, io.Item)
			}
		}
		s.matched[v.Name] = found
		return float64(len(found))
	case VarSum:
		var total float64
		for _, name := range v.Of {
			total += s.vars[name]
		}
		return total
	}
	return 0
}

var placeholder = regexp.MustCompile(`\{([a-z_][a-z0-9_]*)(\.matched|\.list)?\}`)

// expand substitutes {features}, {issues}, {score}, {<var>} and
// {<var>.matched}. Unknown placeholders are left as they are.
func (s *state) expand(msg string, t Tally) string {
	if !strings.Contains(msg, "{") {
		return msg
	}
	return placeholder.ReplaceAllStringFunc(msg, func(m string) string {
		parts := placeholder.FindStringSubmatch(m)
		name, suffix := parts[1], parts[2]
		switch {
		case name == "features" && suffix == "":
			return strconv.Itoa(len(t.Features))
		case name == "features" && suffix == ".list":
			return formatList(t.Features)
		case name == "issues" && suffix == "":
			return strconv.Itoa(len(t.Issues))
		case name == "issues" && suffix == ".list":
			return formatList(t.Issues)
		case name == "score" && suffix == "":
			return strconv.Itoa(t.Score)
		}
		if v, ok := s.vars[name]; ok {
			switch suffix {
			case "":
				return formatNumber(v)
			case ".matched":
				return formatList(s.matched[name])
			}
		}
		return m
	})
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = strconv.Quote(it)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// render lays out the evidence as labelled probe outputs, labelled vars and,
// when the definition tallies signals, the feature and issue lists.
func (s *state) render(t Tally) string {
	var b strings.Builder
	for _, p := range s.def.Probes {
		label := p.Label
		if label == "" {
			label = p.Name
		}
		if len(p.Foreach) > 0 {
			fmt.Fprintf(&b, "%s:\n", label)
			for _, io := range s.ev.Items[p.Name] {
				fmt.Fprintf(&b, "  %s: %s\n", io.Item, strings.TrimSpace(io.Output.Stdout))
			}
			continue
		}
		text := strings.TrimSpace(s.ev.Outputs[p.Name].Stdout)
		if strings.Contains(text, "\n") {
			fmt.Fprintf(&b, "%s:\n%s\n", label, text)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", label, text)
		}
	}
	for _, v := range s.def.Vars {
		if v.Label == "" {
			continue
		}
		if v.Kind == VarTokens || v.Kind == VarItems {
			fmt.Fprintf(&b, "%s: %s\n", v.Label, formatList(s.matched[v.Name]))
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", v.Label, formatNumber(s.vars[v.Name]))
	}
	if len(s.def.Signals) > 0 {
		fmt.Fprintf(&b, "Features: %s\nIssues: %s\n", formatList(t.Features), formatList(t.Issues))
	}
	return strings.TrimRight(b.String(), "\n")
}
