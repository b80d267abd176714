// Package ids generates and checks the opaque identifiers used for every entity.
package ids

import "github.com/google/uuid"

// New returns a fresh random identifier.
func New() string {
	return uuid.New().String()
}

// Valid reports whether s is a well-formed identifier. It is checked before
// any store lookup so malformed input never reaches the database.
func Valid(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
