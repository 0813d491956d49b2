package cmd

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show system information and data directory paths",
	Long: `Display seca-compliance configuration information including:
  - Data directory locations
  - Configuration file in use
  - Current operator
  - Loaded checks and plugins`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		out := cmd.OutOrStdout()

		exists := func(path string) string {
			if _, err := os.Stat(path); err == nil {
				return "✓ (exists)"
			}
			return "✗ (not created yet)"
		}

		configFile := appCtx.ConfigFile
		if configFile == "" {
			configFile = "~/" + configName + ".yaml ✗ (using defaults)"
		} else {
			configFile += " ✓"
		}

		pluginsDir, err := getPluginsDir()
		if err != nil {
			return err
		}

		registry := appCtx.Services.Registry

		fmt.Fprintln(out, "seca-compliance System Information")
		fmt.Fprintln(out, "==================================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Version:           %s\n", Version)
		fmt.Fprintf(out, "Platform:          %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Operator:          %s\n", appCtx.Operator)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Data Locations:")
		fmt.Fprintf(out, "  Data Directory:     %s\n", appCtx.DataDir)
		fmt.Fprintf(out, "  Results Directory:  %s %s\n", appCtx.ResultsDir, exists(appCtx.ResultsDir))
		fmt.Fprintf(out, "  Plugins Directory:  %s %s\n", pluginsDir, exists(pluginsDir))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Configuration File:   %s\n", configFile)
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Checks Loaded:        %d in %d categories\n", registry.Len(), len(registry.Categories()))
		if n := len(appCtx.Services.SkippedPlugins); n > 0 {
			fmt.Fprintf(out, "Plugins Skipped:      %d (see 'seca-compliance plugins')\n", n)
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "To override the data directory set %s or add to ~/%s.yaml:\n", dataDirEnvVar, configName)
		fmt.Fprintln(out, "  results_dir: /custom/path/to/results")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
