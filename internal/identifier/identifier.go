// Package identifier guards the canonical 8-4-4-4-12 hex identifiers used to
// address devices, tenants and intents.
package identifier

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalid reports a value that is not a canonical identifier.
var ErrInvalid = errors.New("identifier: invalid")

const canonicalLen = 36

// IsValid reports whether s has the canonical 8-4-4-4-12 hex-group shape.
// Case is ignored. Braced, URN and compact forms accepted by uuid.Parse are
// rejected.
func IsValid(s string) bool {
	if len(s) != canonicalLen {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Parse returns the lower-case canonical form of s.
func Parse(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !IsValid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	return strings.ToLower(s), nil
}

// MustParse is Parse for constants in tests and fixtures.
func MustParse(s string) string {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// New returns a random identifier.
func New() string {
	return uuid.NewString()
}
