// Package sessionid generates the opaque session identifiers a sender
// chooses at the start of a transfer, per the spec's Random/session-id
// collaborator interface. Format is deliberately left to the embedder;
// this package supplies a UUID-based default.
package sessionid

import "github.com/google/uuid"

// New returns a new opaque session identifier.
func New() string {
	return uuid.NewString()
}
