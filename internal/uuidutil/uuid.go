package uuidutil

import (
	"github.com/google/uuid"
)

// New generates a new random UUID v4.
func New() uuid.UUID {
	return uuid.New()
}

// NewString generates a new random UUID v4 as a string.
func NewString() string {
	return uuid.NewString()
}

// Parse safely parses a string into a UUID with error handling.
func Parse(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// IsValid checks if a string is a valid UUID.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
