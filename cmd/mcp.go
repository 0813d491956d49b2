package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	runapp "github.com/khanhnv2901/seca-compliance/internal/application/run"
	compliancemcp "github.com/khanhnv2901/seca-compliance/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the compliance tools over MCP (stdio)",
	Long: `Run a Model Context Protocol server on stdin/stdout exposing
compliance_list, compliance_run and compliance_inspect. Runs always target
the local host and are recorded like CLI runs.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		cfg := appCtx.Config.Run

		server := compliancemcp.NewServer(appCtx.Services.RunService, Version, compliancemcp.Defaults{
			Operator:    appCtx.Operator,
			Concurrency: cfg.Concurrency,
			Target: runapp.TargetSpec{
				CommandTimeout: time.Duration(cfg.TimeoutSecs) * time.Second,
			},
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		appCtx.Logger.Infow("mcp_server_started", "checks", appCtx.Services.Registry.Len())
		if err := compliancemcp.Serve(ctx, server); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
