package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-compliance/internal/domain/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect and verify the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the audit trail against its recorded hash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		svc := appCtx.Services.AuditService

		trail, err := svc.GetAuditTrail(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(trail.Entries()) == 0 {
			fmt.Fprintf(out, "%s audit entries recorded yet\n", colorWarn("No"))
			return nil
		}

		valid, err := svc.VerifyIntegrity(cmd.Context())
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("audit trail integrity check failed: %d entries do not match the recorded %s hash",
				len(trail.Entries()), trail.HashAlgorithm())
		}

		fmt.Fprintf(out, "%s Audit trail verified (%d entries, %s %s)\n",
			colorSuccess("✓"), len(trail.Entries()), trail.HashAlgorithm(), trail.Hash())
		return nil
	},
}

var auditShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print audit entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		runID, _ := cmd.Flags().GetString("run")
		limit, _ := cmd.Flags().GetInt("limit")

		trail, err := appCtx.Services.AuditService.GetAuditTrail(cmd.Context())
		if err != nil {
			return err
		}

		var entries []*audit.Entry
		if runID != "" {
			if runID == "latest" {
				rn, err := findRun(cmd, runID)
				if err != nil {
					return err
				}
				runID = rn.ID()
			}
			entries = trail.ForRun(runID)
		} else {
			entries = trail.Entries()
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintf(out, "%s audit entries found\n", colorWarn("No"))
			return nil
		}
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "TIMESTAMP\tRUN\tOPERATOR\tTARGET\tCHECK\tSTATUS\tMS\tMESSAGE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), shortID(e.RunID), e.Operator, e.Target,
				e.CheckID, e.Status, e.DurationMS, e.Message)
		}
		return tw.Flush()
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditShowCmd.Flags().String("run", "", "only entries of this run id (or latest)")
	auditShowCmd.Flags().Int("limit", 50, "number of most recent entries to print (0 = all)")
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditShowCmd)
}
