// Package id provides unique identifier generation for episode jobs.
package id

import "github.com/google/uuid"

// Prefix starts every job ID.
const Prefix = "ep-"

// Generate creates a new unique job ID.
// Format: ep-<uuid v4>
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like an ID returned by Generate.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	return uuid.Validate(s[len(Prefix):]) == nil
}
