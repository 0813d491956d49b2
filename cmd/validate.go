package cmd

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/khanhnv2901/seca-compliance/internal/catalog"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

type packValidation struct {
	File   string
	Checks int
	Err    error
}

// validatePacks parses every file and reports ids that collide with the
// built-in catalog or with an earlier file.
func validatePacks(files []string) ([]packValidation, error) {
	builtin, err := catalog.Builtin()
	if err != nil {
		return nil, fmt.Errorf("load built-in catalog: %w", err)
	}
	seen := make(map[string]string, len(builtin))
	for _, d := range builtin {
		seen[d.ID] = "built-in catalog"
	}

	out := make([]packValidation, 0, len(files))
	for _, file := range files {
		pv := packValidation{File: file}
		defs, err := catalog.LoadFile(file)
		if err != nil {
			pv.Err = err
			out = append(out, pv)
			continue
		}
		for _, d := range defs {
			if prev, ok := seen[d.ID]; ok {
				pv.Err = fmt.Errorf("%w: %s already defined in %s", sharedErrors.ErrDuplicateCheck, d.ID, prev)
				break
			}
			seen[d.ID] = file
		}
		pv.Checks = len(defs)
		out = append(out, pv)
	}
	return out, nil
}

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate check-pack YAML files",
	Long: `Validate check-pack YAML files: schema, probes, patterns and verdict rules.
Without arguments every *.yaml file in --checks-dir is validated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files := args
		if len(files) == 0 {
			if checksDir == "" {
				return fmt.Errorf("no files given and --checks-dir is not set")
			}
			matches, err := filepath.Glob(filepath.Join(checksDir, "*.yaml"))
			if err != nil {
				return err
			}
			sort.Strings(matches)
			files = matches
		}
		if len(files) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s check packs found\n", colorWarn("No"))
			return nil
		}

		results, err := validatePacks(files)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		invalid := 0
		for _, r := range results {
			if r.Err != nil {
				invalid++
				fmt.Fprintf(out, "%s %s: %v\n", colorError("✗"), r.File, r.Err)
				continue
			}
			fmt.Fprintf(out, "%s %s (%d checks)\n", colorSuccess("✓"), r.File, r.Checks)
		}
		if invalid > 0 {
			return fmt.Errorf("%d of %d check packs are invalid", invalid, len(results))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
