package id

import (
	"strings"

	"github.com/google/uuid"
)

// NewID32 returns a random v4 UUID as 32 lowercase hex characters.
func NewID32() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s has the shape NewID32 produces.
func Valid(s string) bool {
	if len(s) != 32 {
		return false
	}
	u, err := uuid.Parse(s)
	return err == nil && strings.ReplaceAll(u.String(), "-", "") == s
}
