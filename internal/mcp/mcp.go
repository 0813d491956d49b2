// Package mcp exposes the compliance engine as MCP tools over stdio.
package mcp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	"github.com/khanhnv2901/seca-compliance/internal/check"
	"github.com/khanhnv2901/seca-compliance/internal/domain/run"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

const instructions = `Host security-compliance probes for the machine this server runs on.

Call compliance_list to see categories and check ids, compliance_run to execute
a selection against the local host, and compliance_inspect with the returned
run id to read the evidence behind a single check.`

// Defaults applied to compliance_run.
type Defaults struct {
	Operator    string
	Concurrency int
	Target      runapp.TargetSpec
}

type handler struct {
	runs     *runapp.Service
	defaults Defaults
}

// NewServer creates an MCP server with the compliance tools registered.
func NewServer(runs *runapp.Service, version string, defaults Defaults) *mcp.Server {
	if defaults.Operator == "" {
		defaults.Operator = "mcp"
	}
	// Only the local host is reachable from MCP.
	defaults.Target.Kind = target.KindLocal
	h := &handler{runs: runs, defaults: defaults}

	s := mcp.NewServer(&mcp.Implementation{Name: "seca-compliance", Version: version}, &mcp.ServerOptions{
		Instructions: instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
	})

	mcp.AddTool(s, &mcp.Tool{
		Name:        "compliance_list",
		Description: "List check categories and the checks in each, optionally filtered to one category.",
	}, h.listHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "compliance_run",
		Description: `Run compliance checks against the local host and return the summary.

With no filters every check runs. Results are persisted; use the returned run id
with compliance_inspect to read evidence.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "compliance_inspect",
		Description: "Show a stored run, or one check of it with full evidence. run_id may be \"latest\".",
	}, h.inspectHandler)

	return s
}

// Serve runs the server over stdio until ctx is cancelled or the client
// disconnects.
func Serve(ctx context.Context, s *mcp.Server) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

type listParams struct {
	Category string `json:"category,omitempty" jsonschema:"only list checks in this category"`
}

func (h *handler) listHandler(ctx context.Context, req *mcp.CallToolRequest, params listParams) (*mcp.CallToolResult, any, error) {
	registry := h.runs.Registry()
	categories := registry.Categories()
	if params.Category != "" {
		if len(registry.Category(params.Category)) == 0 {
			return errorResult(fmt.Sprintf("Unknown category %q. Available: %s", params.Category, strings.Join(categories, ", ")))
		}
		categories = []string{params.Category}
	}

	var b strings.Builder
	for _, cat := range categories {
		checks := registry.Category(cat)
		fmt.Fprintf(&b, "%s (%d checks)\n", cat, len(checks))
		for _, c := range checks {
			info := c.Info()
			fmt.Fprintf(&b, "  %s  %s\n", info.ID, info.Name)
		}
	}
	return textResult(b.String())
}

type runParams struct {
	Categories  []string `json:"categories,omitempty" jsonschema:"categories to run, e.g. timesync or container"`
	IDs         []string `json:"ids,omitempty" jsonschema:"individual check ids to run"`
	Exclude     []string `json:"exclude,omitempty" jsonschema:"check ids to leave out"`
	Concurrency int      `json:"concurrency,omitempty" jsonschema:"parallel checks, defaults to the server setting"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	concurrency := params.Concurrency
	if concurrency <= 0 {
		concurrency = h.defaults.Concurrency
	}

	rn, err := h.runs.Execute(ctx, runapp.Request{
		Target:      h.defaults.Target,
		Selection:   check.Selection{Categories: params.Categories, IDs: params.IDs, Exclude: params.Exclude},
		Operator:    h.defaults.Operator,
		Concurrency: concurrency,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("Run failed: %v", err))
	}
	return textResult(formatRun(rn))
}

type inspectParams struct {
	RunID   string `json:"run_id" jsonschema:"run id from compliance_run, or latest"`
	CheckID string `json:"check_id,omitempty" jsonschema:"check id to show with evidence; omit for the whole run"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}
	rn, err := h.runs.Find(ctx, params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}
	if params.CheckID == "" {
		return textResult(formatRun(rn))
	}
	for _, res := range rn.Results() {
		if res.ID == params.CheckID {
			return textResult(formatResult(rn.ID(), res))
		}
	}
	return errorResult(fmt.Sprintf("Check %s is not part of run %s", params.CheckID, rn.ID()))
}

func formatRun(rn *run.Run) string {
	var b strings.Builder
	sum := rn.Summary()
	fmt.Fprintf(&b, "Run: %s (%s, %s)\n", rn.ID(), rn.Status(), rn.Target())
	fmt.Fprintf(&b, "Overall: %s  score %.0f%%\n", strings.ToUpper(rn.Overall().String()), sum.Score())
	t := sum.Totals
	fmt.Fprintf(&b, "Totals: %d passed, %d warning, %d failed, %d error, %d skipped\n\n", t.Passed, t.Warning, t.Failed, t.Error, t.Skipped)

	// Problems first so they survive truncation by the client.
	results := rn.Results()
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Status.Severity() > results[j].Status.Severity()
	})
	for _, res := range results {
		fmt.Fprintf(&b, "[%s] %s %s: %s\n", strings.ToUpper(res.Status.String()), res.ID, res.Name, res.Message)
	}
	return b.String()
}

func formatResult(runID string, res check.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run: %s\n", runID)
	fmt.Fprintf(&b, "%s %s (%s)\n", res.ID, res.Name, res.Category)
	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(res.Status.String()))
	fmt.Fprintf(&b, "Message: %s\n", res.Message)
	fmt.Fprintf(&b, "Duration: %s\n", res.Duration)
	if res.Evidence != "" {
		fmt.Fprintf(&b, "\nEvidence:\n%s\n", res.Evidence)
	}
	return b.String()
}

func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
