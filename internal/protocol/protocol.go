// Package protocol defines the wire types spoken between a termmux daemon
// and its clients: the host API consumed by remote channels, and the attach
// stream consumed by a rendering surface.
package protocol

// Message types on the host stream (daemon -> remote channel).
const (
	TypeOutput = "output"
	TypeExit   = "exit"
)

// Message types on the host stream (remote channel -> daemon) and on the
// attach stream (surface -> daemon).
const (
	TypeWrite    = "write"
	TypeResize   = "resize"
	TypeInput    = "input"
	TypeActivate = "activate"
)

// Message types on the attach stream (daemon -> surface).
const (
	TypeReset  = "reset"
	TypeExited = "exited"
	TypeError  = "error"
)

// StreamMessage is one frame on either WebSocket stream. Fields are
// populated according to Type; unused fields are omitted.
type StreamMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Data      string `json:"data,omitempty"`
	Rows      int    `json:"rows,omitempty"`
	Cols      int    `json:"cols,omitempty"`
	Code      *int   `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
}

// CreateSessionRequest is the body of POST /api/sessions.
type CreateSessionRequest struct {
	Kind string `json:"kind,omitempty"`
	Cwd  string `json:"cwd,omitempty"`
	Rows int    `json:"rows,omitempty"`
	Cols int    `json:"cols,omitempty"`
}

// CreateSessionResponse is the reply to a session create.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
}

// SessionInfo is the public representation of one session.
type SessionInfo struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	Cwd       string `json:"cwd"`
	CreatedAt string `json:"created_at"`
	Active    bool   `json:"active"`
}

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}
