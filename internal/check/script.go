package check

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// CurrentPluginAPIVersion is the plugin definition format this build reads.
const CurrentPluginAPIVersion = 1

// PluginDefinition describes an external check. Command runs on the target
// and must print a JSON verdict on stdout:
//
//	{"status": "passed", "message": "...", "evidence": "..."}
type PluginDefinition struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Category       string `json:"category"`
	Description    string `json:"description"`
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout"`
	APIVersion     int    `json:"api_version"`
}

// Validate fills defaults and rejects incomplete definitions.
func (d *PluginDefinition) Validate() error {
	if d.APIVersion == 0 {
		d.APIVersion = CurrentPluginAPIVersion
	}
	if d.APIVersion != CurrentPluginAPIVersion {
		return fmt.Errorf("%w: unsupported plugin API version %d (expected %d)", sharederrors.ErrInvalidDefinition, d.APIVersion, CurrentPluginAPIVersion)
	}
	if d.ID == "" || d.Command == "" {
		return fmt.Errorf("%w: plugin id and command are required", sharederrors.ErrInvalidDefinition)
	}
	if d.Category == "" {
		d.Category = "plugin"
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = 10
	}
	return nil
}

// ScriptCheck runs a plugin command on the target and reads its verdict.
type ScriptCheck struct {
	def     PluginDefinition
	timeout time.Duration
}

// NewScriptCheck validates def and wraps it as a Check.
func NewScriptCheck(def PluginDefinition) (*ScriptCheck, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &ScriptCheck{def: def, timeout: time.Duration(def.TimeoutSeconds) * time.Second}, nil
}

func (s *ScriptCheck) Info() Info {
	return Info{ID: s.def.ID, Name: s.def.Name, Category: s.def.Category, Description: s.def.Description}
}

// Definition returns the plugin definition the check was built from.
func (s *ScriptCheck) Definition() PluginDefinition {
	return s.def
}

type pluginVerdict struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Evidence string `json:"evidence"`
}

func (s *ScriptCheck) Run(ctx context.Context, t target.Target) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := t.Execute(ctx, s.def.Command)
	if err != nil {
		return Verdict{}, err
	}

	var pv pluginVerdict
	if err := json.Unmarshal([]byte(strings.TrimSpace(out.Stdout)), &pv); err != nil {
		msg := fmt.Sprintf("invalid plugin output: %v", err)
		if stderr := strings.TrimSpace(out.Stderr); stderr != "" {
			msg += " (stderr: " + stderr + ")"
		}
		return Verdict{Status: StatusError, Message: msg, Evidence: out.Combined()}, nil
	}

	status, err := ParseStatus(pv.Status)
	if err != nil {
		return Verdict{Status: StatusError, Message: fmt.Sprintf("invalid plugin output: %v", err), Evidence: out.Combined()}, nil
	}
	return Verdict{Status: status, Message: pv.Message, Evidence: pv.Evidence}, nil
}

// LoadPlugins reads every *.json definition in dir. A missing directory is
// not an error. Definitions that fail to parse or validate are returned in
// skipped, keyed by file name, so callers can warn about them.
func LoadPlugins(dir string) (checks []*ScriptCheck, skipped map[string]error, err error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	skipped = make(map[string]error)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped[entry.Name()] = err
			continue
		}
		var def PluginDefinition
		if err := json.Unmarshal(data, &def); err != nil {
			skipped[entry.Name()] = fmt.Errorf("%w: %v", sharederrors.ErrInvalidDefinition, err)
			continue
		}
		sc, err := NewScriptCheck(def)
		if err != nil {
			skipped[entry.Name()] = err
			continue
		}
		checks = append(checks, sc)
	}
	return checks, skipped, nil
}
