package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

type pluginListing struct {
	Dir     string                   `json:"dir"`
	Loaded  []check.PluginDefinition `json:"loaded"`
	Skipped map[string]string        `json:"skipped,omitempty"`
}

func listPlugins(dir string) (pluginListing, error) {
	listing := pluginListing{Dir: dir}
	checks, skipped, err := check.LoadPlugins(dir)
	if err != nil {
		return listing, fmt.Errorf("load plugins: %w", err)
	}
	for _, sc := range checks {
		listing.Loaded = append(listing.Loaded, sc.Definition())
	}
	sort.Slice(listing.Loaded, func(i, j int) bool { return listing.Loaded[i].ID < listing.Loaded[j].ID })
	if len(skipped) > 0 {
		listing.Skipped = make(map[string]string, len(skipped))
		for file, perr := range skipped {
			listing.Skipped[file] = perr.Error()
		}
	}
	return listing, nil
}

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "List script-check plugins",
	Long: `List the script-check plugins loaded from <data dir>/plugins/*.json.

A plugin definition names a shell command that runs on the target and prints
a JSON verdict: {"status": "passed|warning|failed|skipped|error", "message": "...", "evidence": "..."}.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		dir, err := getPluginsDir()
		if err != nil {
			return err
		}
		listing, err := listPlugins(dir)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			return writeJSON(out, listing)
		}

		fmt.Fprintf(out, "Plugins directory: %s\n\n", dir)
		if len(listing.Loaded) == 0 {
			fmt.Fprintf(out, "%s plugins loaded\n", colorWarn("No"))
		} else {
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCATEGORY\tNAME\tTIMEOUT")
			for _, def := range listing.Loaded {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\n", def.ID, def.Category, def.Name, def.TimeoutSeconds)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
		}

		files := make([]string, 0, len(listing.Skipped))
		for file := range listing.Skipped {
			files = append(files, file)
		}
		sort.Strings(files)
		for _, file := range files {
			fmt.Fprintf(out, "%s skipped %s: %s\n", colorWarn("!"), file, listing.Skipped[file])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pluginsCmd)
	pluginsCmd.Flags().Bool("json", false, "print JSON")
}
