// internal/model/mapping.go
package model

import "fmt"

// PlaceholderMapping maps a user-chosen placeholder name, written in
// templates as {{name}}, to a source column. Distinct placeholder names may
// reference the same column in theory, but a column may be the target of at
// most one active placeholder at a time; Validate enforces the inverse
// direction the UI cares about.
type PlaceholderMapping map[string]string

// Validate rejects mappings where one source column is claimed by more than
// one placeholder name.
func (m PlaceholderMapping) Validate() error {
	seen := make(map[string]string, len(m))
	for name, column := range m {
		if name == "" {
			return fmt.Errorf("placeholder name cannot be empty")
		}
		if column == "" {
			return fmt.Errorf("placeholder %q has no source column", name)
		}
		if prev, ok := seen[column]; ok {
			return fmt.Errorf("column %q mapped by both %q and %q", column, prev, name)
		}
		seen[column] = name
	}
	return nil
}

// Clone returns an independent copy.
func (m PlaceholderMapping) Clone() PlaceholderMapping {
	out := make(PlaceholderMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
