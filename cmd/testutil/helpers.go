// Package testutil provides an isolated data directory for command tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	consts "github.com/khanhnv2901/seca-compliance/internal/shared/constants"
	"github.com/khanhnv2901/seca-compliance/internal/shared/security"
)

// DataDirEnvVar overrides the data directory of the CLI.
const DataDirEnvVar = "SECA_COMPLIANCE_DATA_DIR"

// TestEnv holds test environment configuration and cleanup functions.
type TestEnv struct {
	TmpDir       string
	DataDir      string
	ResultsDir   string
	Operator     string
	cleanupFuncs []func()
	t            *testing.T
}

// NewTestEnv creates a data directory under t.TempDir and points the CLI at
// it through SECA_COMPLIANCE_DATA_DIR.
// Usage:
//
//	env := testutil.NewTestEnv(t)
//	defer env.Cleanup()
func NewTestEnv(t *testing.T) *TestEnv {
	t.Helper()

	tmpDir := t.TempDir() // Automatically cleaned up by Go test framework
	env := &TestEnv{
		TmpDir:       tmpDir,
		DataDir:      filepath.Join(tmpDir, "data"),
		ResultsDir:   filepath.Join(tmpDir, "data", "results"),
		Operator:     "test-operator",
		t:            t,
		cleanupFuncs: []func(){},
	}

	if err := os.MkdirAll(env.ResultsDir, consts.DefaultDirPerm); err != nil {
		t.Fatalf("Failed to create test results directory: %v", err)
	}
	t.Setenv(DataDirEnvVar, env.DataDir)
	t.Setenv("USER", env.Operator)

	return env
}

// WithOperator sets a custom operator name.
func (e *TestEnv) WithOperator(operator string) *TestEnv {
	e.Operator = operator
	e.t.Setenv("USER", operator)
	return e
}

// AddCleanup adds a cleanup function to be called when Cleanup() is called.
// Cleanup functions are called in reverse order (LIFO).
func (e *TestEnv) AddCleanup(fn func()) {
	e.cleanupFuncs = append([]func(){fn}, e.cleanupFuncs...)
}

// Cleanup runs all registered cleanup functions.
// Typically called with defer: defer env.Cleanup()
func (e *TestEnv) Cleanup() {
	for _, fn := range e.cleanupFuncs {
		fn()
	}
}

// PluginsDir returns the plugin directory the CLI scans.
func (e *TestEnv) PluginsDir() string {
	return filepath.Join(e.DataDir, "plugins")
}

// CreateFile creates a file in the test environment with the given content.
// The file path is relative to the test's temporary directory.
func (e *TestEnv) CreateFile(relativePath string, content []byte) string {
	e.t.Helper()

	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	dir := filepath.Dir(fullPath)

	if err := os.MkdirAll(dir, consts.DefaultDirPerm); err != nil {
		e.t.Fatalf("Failed to create directory %s: %v", dir, err)
	}

	if err := os.WriteFile(fullPath, content, consts.DefaultFilePerm); err != nil {
		e.t.Fatalf("Failed to create file %s: %v", fullPath, err)
	}

	return fullPath
}

// WritePlugin writes a plugin definition into the plugins directory.
func (e *TestEnv) WritePlugin(name, definition string) string {
	e.t.Helper()
	return e.CreateFile(filepath.Join("data", "plugins", name), []byte(definition))
}

// ReadFile reads a file from the test environment.
// The file path is relative to the test's temporary directory.
func (e *TestEnv) ReadFile(relativePath string) []byte {
	e.t.Helper()

	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	content, err := os.ReadFile(fullPath)
	if err != nil {
		e.t.Fatalf("Failed to read file %s: %v", fullPath, err)
	}

	return content
}

// FileExists checks if a file exists in the test environment.
func (e *TestEnv) FileExists(relativePath string) bool {
	fullPath := resolveTmpPath(e.TmpDir, relativePath, e.t)
	_, err := os.Stat(fullPath)
	return err == nil
}

// MustNotExist fails the test if the file exists.
func (e *TestEnv) MustNotExist(relativePath string) {
	e.t.Helper()
	if e.FileExists(relativePath) {
		e.t.Fatalf("File %s should not exist but does", relativePath)
	}
}

// MustExist fails the test if the file does not exist.
func (e *TestEnv) MustExist(relativePath string) {
	e.t.Helper()
	if !e.FileExists(relativePath) {
		e.t.Fatalf("File %s should exist but does not", relativePath)
	}
}

func resolveTmpPath(baseDir, relativePath string, t *testing.T) string {
	t.Helper()
	path, err := security.ResolveWithin(baseDir, relativePath)
	if err != nil {
		t.Fatalf("invalid test path %s: %v", relativePath, err)
	}
	return path
}
