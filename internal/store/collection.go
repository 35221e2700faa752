// Package store provides local database layout and collection naming for fieldsync.
package store

import (
	"errors"
	"regexp"
	"strings"
)

// DefaultCollection is the remote collection used when none is configured.
const DefaultCollection = "jobs"

// ErrInvalidCollection indicates the collection name format is invalid.
var ErrInvalidCollection = errors.New("invalid collection: must be lowercase alphanumeric with hyphens, 1-4 path segments")

// collectionRegex validates collection names.
// Format: <segment>[/<segment>]*
// - 1-4 path segments separated by /
// - Segments: lowercase alphanumeric and hyphens (a-z, 0-9, -)
// - Segment length: 1-64 characters
// - No leading/trailing hyphens
var collectionRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?(\/[a-z0-9]([a-z0-9-]{0,62}[a-z0-9])?){0,3}$`)

// ValidateCollection validates a collection name.
// Returns ErrInvalidCollection if the name doesn't match the required pattern.
func ValidateCollection(name string) error {
	if name == "" || len(name) > 256 {
		return ErrInvalidCollection
	}
	// Consecutive hyphens are not caught by the regex.
	if strings.Contains(name, "--") {
		return ErrInvalidCollection
	}
	if !collectionRegex.MatchString(name) {
		return ErrInvalidCollection
	}
	return nil
}
