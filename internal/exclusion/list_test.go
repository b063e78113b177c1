package exclusion

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListContainsNormalizes(t *testing.T) {
	list := NewList([]string{"41-1234567", " 805  99 ", ""})

	tests := []struct {
		name       string
		identifier string
		expected   bool
	}{
		{"exact", "41-1234567", true},
		{"stripped dashes", "411234567", true},
		{"whitespace and case", "  411234567 ", true},
		{"spaced entry", "80599", true},
		{"miss", "999999999", false},
		{"empty never matches", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := list.Contains(tc.identifier); got != tc.expected {
				t.Fatalf("Contains(%q): expected %v got %v", tc.identifier, tc.expected, got)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "excluded.json")
	if err := os.WriteFile(path, []byte(`["41-0000001","41-0000002"]`), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	list, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if list.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", list.Len())
	}
	if !list.Contains("410000001") {
		t.Fatal("expected loaded identifier to match")
	}
}

func TestLoadEmptyPath(t *testing.T) {
	list, err := Load("")
	if err != nil {
		t.Fatalf("load empty path: %v", err)
	}
	if list.Len() != 0 {
		t.Fatalf("expected empty list, got %d entries", list.Len())
	}
	if list.Contains("anything") {
		t.Fatal("empty list must not match")
	}
}

func TestNilListNeverMatches(t *testing.T) {
	var list *List
	if list.Contains("41-1234567") {
		t.Fatal("nil list must not match")
	}
	if list.Len() != 0 {
		t.Fatal("nil list length must be 0")
	}
}
