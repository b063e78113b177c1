// Package exclusion maintains the list of entities barred from receiving
// funds. Identifiers are matched after normalization so formatting
// differences in tax ids or license numbers do not hide a hit.
package exclusion

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// List is an immutable set of excluded identifiers.
type List struct {
	entries map[string]struct{}
}

// NewList builds a list from the provided identifiers.
func NewList(identifiers []string) *List {
	entries := make(map[string]struct{}, len(identifiers))
	for _, id := range identifiers {
		key := normalizeIdentifier(id)
		if key != "" {
			entries[key] = struct{}{}
		}
	}
	return &List{entries: entries}
}

// Load reads a JSON array of identifiers from path. An empty path yields an
// empty list rather than an error.
func Load(path string) (*List, error) {
	if strings.TrimSpace(path) == "" {
		return NewList(nil), nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read exclusion list: %w", err)
	}
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal exclusion list: %w", err)
	}
	return NewList(entries), nil
}

// Contains reports whether the identifier is excluded. Empty identifiers are
// never excluded.
func (l *List) Contains(identifier string) bool {
	if l == nil {
		return false
	}
	key := normalizeIdentifier(identifier)
	if key == "" {
		return false
	}
	_, ok := l.entries[key]
	return ok
}

// Len returns the number of excluded identifiers.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

func normalizeIdentifier(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
