package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-compliance/internal/check"
)

var (
	listCategory string
	listJSON     bool
)

type listedCategory struct {
	Name   string       `json:"name"`
	Checks []check.Info `json:"checks"`
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List check categories and checks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		registry := appCtx.Services.Registry

		categories := registry.Categories()
		if listCategory != "" {
			if len(registry.Category(listCategory)) == 0 {
				return &UnknownCheckError{Name: listCategory, Kind: "category"}
			}
			categories = []string{listCategory}
		}
		sort.Strings(categories)

		listed := make([]listedCategory, 0, len(categories))
		for _, name := range categories {
			lc := listedCategory{Name: name}
			for _, c := range registry.Category(name) {
				lc.Checks = append(lc.Checks, c.Info())
			}
			listed = append(listed, lc)
		}

		out := cmd.OutOrStdout()
		if listJSON {
			return writeJSON(out, listed)
		}

		total := 0
		for _, lc := range listed {
			fmt.Fprintf(out, "%s (%d)\n", colorBold(lc.Name), len(lc.Checks))
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, info := range lc.Checks {
				fmt.Fprintf(tw, "  %s\t%s\t%s\n", colorInfo(info.ID), info.Name, info.Description)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintln(out)
			total += len(lc.Checks)
		}
		fmt.Fprintf(out, "%d checks in %d categories\n", total, len(listed))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listCategory, "category", "c", "", "only list this category")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
}
