package idgen

import (
	"regexp"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id, err := New()
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if len(id) != Length {
		t.Errorf("len(id) = %d, want %d", len(id), Length)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]+$`).MatchString(id) {
		t.Errorf("id %q contains characters outside the alphabet", id)
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id, err := New()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d generations", id, i)
		}
		seen[id] = true
	}
}
