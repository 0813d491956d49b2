package check

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	sharederrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
)

// Registry maps categories to ordered lists of checks.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]Check
	byCategory map[string][]Check
	categories []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:       make(map[string]Check),
		byCategory: make(map[string][]Check),
	}
}

// Register adds checks in order. Registration stops at the first invalid or
// duplicate id.
func (r *Registry) Register(checks ...Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range checks {
		info := c.Info()
		if info.ID == "" {
			return fmt.Errorf("%w: check has no id", sharederrors.ErrInvalidDefinition)
		}
		if info.Category == "" {
			return fmt.Errorf("%w: check %s has no category", sharederrors.ErrInvalidDefinition, info.ID)
		}
		if _, exists := r.byID[info.ID]; exists {
			return fmt.Errorf("%w: %s", sharederrors.ErrDuplicateCheck, info.ID)
		}
		r.byID[info.ID] = c
		if _, ok := r.byCategory[info.Category]; !ok {
			r.categories = append(r.categories, info.Category)
		}
		r.byCategory[info.Category] = append(r.byCategory[info.Category], c)
	}
	return nil
}

// Categories returns category names sorted alphabetically.
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.categories...)
	sort.Strings(out)
	return out
}

// Checks returns every registered check, grouped by sorted category and in
// registration order within each category.
func (r *Registry) Checks() []Check {
	var out []Check
	for _, cat := range r.Categories() {
		out = append(out, r.Category(cat)...)
	}
	return out
}

// Category returns the checks registered under name.
func (r *Registry) Category(name string) []Check {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Check(nil), r.byCategory[name]...)
}

// Lookup finds a check by id.
func (r *Registry) Lookup(id string) (Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", sharederrors.ErrCheckNotFound, id)
	}
	return c, nil
}

// Len returns the number of registered checks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Selection narrows the registry to a subset of checks. Empty Categories and
// IDs select everything.
type Selection struct {
	Categories []string `json:"categories,omitempty"`
	IDs        []string `json:"ids,omitempty"`
	Exclude    []string `json:"exclude,omitempty"`
}

// IsEmpty reports whether the selection selects every check.
func (s Selection) IsEmpty() bool {
	return len(s.Categories) == 0 && len(s.IDs) == 0 && len(s.Exclude) == 0
}

func (s Selection) String() string {
	if s.IsEmpty() {
		return "all"
	}
	var parts []string
	if len(s.Categories) > 0 {
		parts = append(parts, "categories="+strings.Join(s.Categories, ","))
	}
	if len(s.IDs) > 0 {
		parts = append(parts, "ids="+strings.Join(s.IDs, ","))
	}
	if len(s.Exclude) > 0 {
		parts = append(parts, "exclude="+strings.Join(s.Exclude, ","))
	}
	return strings.Join(parts, " ")
}

// SelectionError names the categories and check ids a Selection referred to
// that are not registered. It matches ErrInvalidSelection, and
// ErrCategoryNotFound or ErrCheckNotFound depending on what was unknown.
type SelectionError struct {
	Categories []string
	IDs        []string
}

func (e *SelectionError) Error() string {
	var unknown []string
	for _, c := range e.Categories {
		unknown = append(unknown, "category "+c)
	}
	for _, id := range e.IDs {
		unknown = append(unknown, "check "+id)
	}
	return sharederrors.ErrInvalidSelection.Error() + ": unknown " + strings.Join(unknown, ", ")
}

func (e *SelectionError) Is(target error) bool {
	switch target {
	case sharederrors.ErrInvalidSelection:
		return true
	case sharederrors.ErrCategoryNotFound:
		return len(e.Categories) > 0
	case sharederrors.ErrCheckNotFound:
		return len(e.IDs) > 0
	}
	return false
}

// Select resolves sel into an ordered, de-duplicated list of checks. Checks
// chosen by category come first, followed by checks named by id. Unknown
// categories and ids are reported together.
func (r *Registry) Select(sel Selection) ([]Check, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var unknownCats, unknownIDs []string
	for _, cat := range sel.Categories {
		if _, ok := r.byCategory[cat]; !ok {
			unknownCats = append(unknownCats, cat)
		}
	}
	for _, id := range append(append([]string(nil), sel.IDs...), sel.Exclude...) {
		if _, ok := r.byID[id]; !ok {
			unknownIDs = append(unknownIDs, id)
		}
	}
	if len(unknownCats) > 0 || len(unknownIDs) > 0 {
		return nil, &SelectionError{Categories: unknownCats, IDs: unknownIDs}
	}

	excluded := make(map[string]bool, len(sel.Exclude))
	for _, id := range sel.Exclude {
		excluded[id] = true
	}

	seen := make(map[string]bool)
	var out []Check
	add := func(c Check) {
		id := c.Info().ID
		if seen[id] || excluded[id] {
			return
		}
		seen[id] = true
		out = append(out, c)
	}

	if len(sel.Categories) == 0 && len(sel.IDs) == 0 {
		cats := append([]string(nil), r.categories...)
		sort.Strings(cats)
		for _, cat := range cats {
			for _, c := range r.byCategory[cat] {
				add(c)
			}
		}
		return out, nil
	}

	for _, cat := range sel.Categories {
		for _, c := range r.byCategory[cat] {
			add(c)
		}
	}
	for _, id := range sel.IDs {
		add(r.byID[id])
	}
	return out, nil
}
