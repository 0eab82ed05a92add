package domain

import "github.com/google/uuid"

// ID is the 128-bit opaque identifier used for every entity in the system.
type ID = uuid.UUID

// NewID generates a new server-side identifier.
func NewID() ID {
	return uuid.New()
}

// ParseID parses a string into an ID.
func ParseID(s string) (ID, error) {
	return uuid.Parse(s)
}
