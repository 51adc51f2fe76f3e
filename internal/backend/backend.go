// Package backend defines the channel to the process host that owns the
// actual PTYs. The multiplexer core consumes this interface only; the local
// implementation spawns shells in-process, the remote one talks to a
// termmux-compatible host over HTTP and WebSocket.
//
// Delivery contract: events for a single session are delivered in FIFO order
// with no reordering and no synthetic duplication. Events across sessions
// have no relative ordering guarantee.
package backend

import "context"

// EventType discriminates stream events.
type EventType int

const (
	// EventOutput carries a chunk of terminal output.
	EventOutput EventType = iota
	// EventExit reports process termination. Code is nil when the exit
	// status could not be determined (e.g. PTY EOF without a wait status).
	EventExit
)

// Event is one entry on a subscription feed.
type Event struct {
	Type      EventType
	SessionID string
	Data      string
	Code      *int
}

// SessionConfig describes a session to create.
type SessionConfig struct {
	Kind string // shell flavor: "bash", "zsh", "" for the user default
	Cwd  string
	Rows int
	Cols int
	Env  map[string]string
}

// Channel is the transport to the PTY host. Write, Resize and Close are
// fire-and-forget from the multiplexer's point of view: errors are logged by
// the caller and never block input.
type Channel interface {
	// Create spawns a new session and returns its backend-assigned ID.
	Create(ctx context.Context, cfg SessionConfig) (string, error)

	// Write forwards keystrokes to the session.
	Write(sessionID string, data []byte) error

	// Resize changes the session's negotiated terminal geometry.
	Resize(sessionID string, rows, cols int) error

	// Close terminates the session and its process.
	Close(sessionID string) error

	// Subscribe registers a listener on the event feed. The returned
	// subscription must be closed to release it; leaked subscriptions
	// accumulate across remounts and double-deliver chunks.
	Subscribe() *Subscription

	// Shutdown tears down the channel and all sessions.
	Shutdown() error
}
