// Package id provides typed ID generation for the multiplexer.
//
// Prefixed types keep logs readable (sess_*, req_*) and prevent ID misuse at
// compile time. Backend-assigned session IDs are accepted as-is; client-side
// generation is used only when the backend does not assign one.
package id

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionID identifies one terminal session.
type SessionID string

// RequestID identifies one API request.
type RequestID string

const (
	sessionPrefix = "sess"
	requestPrefix = "req"
)

// NewSessionID generates a new client-side session ID.
func NewSessionID() SessionID {
	return SessionID(withPrefix(sessionPrefix))
}

// NewRequestID generates a new request ID.
func NewRequestID() RequestID {
	return RequestID(withPrefix(requestPrefix))
}

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }

func withPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, uuid.NewString())
}
