package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)
	if got := buf.String(); got != "seca-compliance version "+Version+"\n" {
		t.Fatalf("unexpected version output %q", got)
	}

	prev := verbose
	verbose = true
	t.Cleanup(func() { verbose = prev })

	buf.Reset()
	versionCmd.Run(versionCmd, nil)
	if !strings.Contains(buf.String(), "Git Commit: "+GitCommit) {
		t.Fatalf("verbose output should include build details:\n%s", buf.String())
	}
}
