package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewTestEnv(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	if env.TmpDir == "" {
		t.Error("TmpDir should not be empty")
	}
	if env.Operator != "test-operator" {
		t.Errorf("Expected operator 'test-operator', got %s", env.Operator)
	}
	if _, err := os.Stat(env.ResultsDir); os.IsNotExist(err) {
		t.Error("Results directory should exist")
	}
	if got := os.Getenv(DataDirEnvVar); got != env.DataDir {
		t.Errorf("%s = %q, want %q", DataDirEnvVar, got, env.DataDir)
	}
}

func TestTestEnv_WithOperator(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	env.WithOperator("alice@example.com")
	if env.Operator != "alice@example.com" {
		t.Errorf("Expected operator alice@example.com, got %s", env.Operator)
	}
	if os.Getenv("USER") != "alice@example.com" {
		t.Error("USER should follow the operator")
	}
}

func TestTestEnv_Files(t *testing.T) {
	env := NewTestEnv(t)
	defer env.Cleanup()

	path := env.CreateFile("nested/dir/file.txt", []byte("hello"))
	if filepath.Dir(path) != filepath.Join(env.TmpDir, "nested", "dir") {
		t.Errorf("unexpected path %s", path)
	}
	env.MustExist("nested/dir/file.txt")
	env.MustNotExist("nested/other.txt")
	if got := string(env.ReadFile("nested/dir/file.txt")); got != "hello" {
		t.Errorf("ReadFile = %q", got)
	}

	plugin := env.WritePlugin("p.json", `{}`)
	if filepath.Dir(plugin) != env.PluginsDir() {
		t.Errorf("plugin written to %s, want under %s", plugin, env.PluginsDir())
	}
}

func TestTestEnv_CleanupOrder(t *testing.T) {
	env := NewTestEnv(t)

	var order []int
	env.AddCleanup(func() { order = append(order, 1) })
	env.AddCleanup(func() { order = append(order, 2) })
	env.Cleanup()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Errorf("cleanup order = %v, want [2 1]", order)
	}
}
