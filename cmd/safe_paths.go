package cmd

import (
	"fmt"
	"os"

	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	"github.com/khanhnv2901/seca-compliance/internal/shared/security"
)

const reportsDirName = "reports"

// validateRunID ensures run identifiers can't be used for path traversal.
// IDs become directory names, so reject separators.
func validateRunID(id string) error {
	return security.ValidateName("run ID", id)
}

// resolveReportsPath returns <results>/reports/<runID>/<parts...>.
func resolveReportsPath(resultsDir, runID string, parts ...string) (string, error) {
	if err := validateRunID(runID); err != nil {
		return "", err
	}
	pathParts := append([]string{reportsDirName, runID}, parts...)
	return security.ResolveWithin(resultsDir, pathParts...)
}

func ensureReportsDir(resultsDir, runID string) (string, error) {
	path, err := resolveReportsPath(resultsDir, runID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(path, consts.DefaultDirPerm); err != nil {
		return "", fmt.Errorf("create reports directory: %w", err)
	}
	return path, nil
}
