package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	a, b := NewID("doc"), NewID("doc")
	if a == b {
		t.Fatal("ids should be random")
	}
	if !strings.HasPrefix(a, "doc_") || len(a) != len("doc_")+32 {
		t.Fatalf("unexpected id %q", a)
	}
	if id := NewID(""); len(id) != 32 {
		t.Fatalf("unprefixed id %q", id)
	}
	if !ValidID("lp", NewID("lp")) {
		t.Fatal("generated ids must validate")
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"doc_1", true},
		{"doc_release-notes", true},
		{"doc_", false},
		{"doc", false},
		{"lp_1", false},
		{"doc_..", false},
		{"doc_a/b", false},
		{"doc_" + strings.Repeat("a", 80), false},
	}
	for _, tt := range tests {
		if got := ValidID("doc", tt.id); got != tt.want {
			t.Errorf("ValidID(doc, %q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
