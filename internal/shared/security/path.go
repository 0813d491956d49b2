// Package security keeps paths built from run ids, report names and plugin
// files inside the data directory they belong to.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape indicates a path would leave its results, reports or
	// plugins directory.
	ErrPathEscape = errors.New("path escapes data directory")
	// ErrInvalidName indicates a name cannot be used as a single path element.
	ErrInvalidName = errors.New("invalid path element")
)

// ResolveWithin joins elems under base and fails with ErrPathEscape when the
// result lands outside base. The returned path is absolute.
func ResolveWithin(base string, elems ...string) (string, error) {
	if base == "" {
		return "", errors.New("data directory is required")
	}

	root, err := filepath.Abs(base)
	if err != nil {
		return "", fmt.Errorf("resolve data directory: %w", err)
	}

	path := filepath.Join(append([]string{root}, elems...)...)
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s is outside %s", ErrPathEscape, path, root)
	}
	return path, nil
}

// ValidateName checks that name can be used as one file or directory name,
// such as a run id that becomes <results>/runs/<id>.json.
func ValidateName(kind, name string) error {
	switch name {
	case "":
		return fmt.Errorf("%w: %s is required", ErrInvalidName, kind)
	case ".", "..":
		return fmt.Errorf("%w: %s %q is reserved", ErrInvalidName, kind, name)
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %s %q must not contain path separators", ErrInvalidName, kind, name)
	}
	return nil
}
