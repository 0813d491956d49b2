package catalog

import (
	"context"
	"strings"
	"time"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// DefinitionCheck adapts a Definition to check.Check.
type DefinitionCheck struct {
	def *Definition
	now func() time.Time
}

// NewCheck wraps a validated definition.
func NewCheck(def *Definition) *DefinitionCheck {
	return &DefinitionCheck{def: def, now: time.Now}
}

func (c *DefinitionCheck) Info() check.Info {
	return c.def.Info()
}

// Definition returns the underlying definition.
func (c *DefinitionCheck) Definition() *Definition {
	return c.def
}

// Run executes the probes in order and scores the evidence. Only transport
// failures are returned as errors; a failing probe command is evidence.
func (c *DefinitionCheck) Run(ctx context.Context, t target.Target) (check.Verdict, error) {
	ev, err := Collect(ctx, c.def, t)
	if err != nil {
		return check.Verdict{}, err
	}
	v, _ := Evaluate(c.def, ev, c.now())
	return v, nil
}

// Collect runs every probe of def against t.
func Collect(ctx context.Context, def *Definition, t target.Target) (Evidence, error) {
	ev := Evidence{
		Outputs: make(map[string]target.Output, len(def.Probes)),
		Items:   make(map[string][]ItemOutput),
	}
	for _, p := range def.Probes {
		if len(p.Foreach) == 0 {
			out, err := t.Execute(ctx, p.Command)
			if err != nil {
				return Evidence{}, err
			}
			ev.Outputs[p.Name] = out
			continue
		}

		var stdout strings.Builder
		items := make([]ItemOutput, 0, len(p.Foreach))
		for i, cmd := range p.Commands() {
			out, err := t.Execute(ctx, cmd)
			if err != nil {
				return Evidence{}, err
			}
			items = append(items, ItemOutput{Item: p.Foreach[i], Output: out})
			stdout.WriteString(out.Stdout)
		}
		ev.Items[p.Name] = items
		ev.Outputs[p.Name] = target.Output{Stdout: stdout.String()}
	}
	return ev, nil
}

// Checks wraps definitions as checks, preserving order.
func Checks(defs []*Definition) []check.Check {
	out := make([]check.Check, len(defs))
	for i, d := range defs {
		out[i] = NewCheck(d)
	}
	return out
}
