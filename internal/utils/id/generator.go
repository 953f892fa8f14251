// Package id centralizes identifier generation. Session and script identifiers
// share the UUIDv4 format but live in distinct namespaces: a session id never
// addresses a script directory and vice versa.
package id

import "github.com/google/uuid"

// NewSessionID generates a new session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// NewScriptID generates a new script identifier.
func NewScriptID() string {
	return uuid.NewString()
}

// IsValid reports whether s parses as a UUID. Used to reject malformed ids at
// the facade boundary before any filesystem path is derived from them.
func IsValid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
