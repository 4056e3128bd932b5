package util

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
)

const maxIDLength = 80

// NewID returns prefix_<32 hex chars>, or just the hex when prefix is empty.
func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ValidID reports whether id carries prefix and is safe to use as a path
// segment: letters, digits, '-' and '_' only.
func ValidID(prefix, id string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok || rest == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range rest {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}
