package catalog

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

//go:embed checks/*.yaml
var builtin embed.FS

// Parse decodes and validates one pack. Unknown keys are rejected so typos
// in a definition do not silently change its scoring.
func Parse(data []byte, source string) ([]*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pack Pack
	if err := dec.Decode(&pack); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s: %v", sharederrors.ErrInvalidDefinition, source, err)
	}

	defs := make([]*Definition, 0, len(pack.Checks))
	for i := range pack.Checks {
		d := pack.Checks[i]
		if d.Category == "" {
			d.Category = pack.Category
		}
		d.Source = source
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", source, err)
		}
		defs = append(defs, &d)
	}
	return defs, nil
}

// LoadFile parses a single pack file.
func LoadFile(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Builtin returns the packs compiled into the binary.
func Builtin() ([]*Definition, error) {
	return loadFS(builtin, "checks")
}

// LoadDir parses every *.yaml and *.yml file in dir, in name order. A
// missing directory yields no definitions.
func LoadDir(dir string) ([]*Definition, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	return loadFS(os.DirFS(dir), ".")
}

func loadFS(fsys fs.FS, root string) ([]*Definition, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []*Definition
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		path := filepath.ToSlash(filepath.Join(root, name))
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(data, name)
		if err != nil {
			return nil, err
		}
		defs = append(defs, parsed...)
	}
	return defs, nil
}

// Load returns the built-in definitions followed by those in extraDirs.
// Duplicate ids across sources are rejected.
func Load(extraDirs ...string) ([]*Definition, error) {
	defs, err := Builtin()
	if err != nil {
		return nil, fmt.Errorf("load built-in checks: %w", err)
	}
	for _, dir := range extraDirs {
		if dir == "" {
			continue
		}
		extra, err := LoadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("load checks from %s: %w", dir, err)
		}
		defs = append(defs, extra...)
	}

	seen := make(map[string]string, len(defs))
	for _, d := range defs {
		if prev, ok := seen[d.ID]; ok {
			return nil, fmt.Errorf("%w: %s defined in %s and %s", sharederrors.ErrDuplicateCheck, d.ID, prev, d.Source)
		}
		seen[d.ID] = d.Source
	}
	return defs, nil
}
