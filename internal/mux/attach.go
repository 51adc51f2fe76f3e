package mux

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/monitoring"
)

// exitMarker is written inline when the active session's process terminates.
func exitMarker(code *int) string {
	if code == nil {
		return "\r\n[process exited]\r\n"
	}
	return fmt.Sprintf("\r\n[process exited with code %d]\r\n", *code)
}

// Controller binds at most one rendering surface to the active session:
// on switch it resets the surface, replays buffered history once, and
// forwards live output from then on.
//
// Exactly-once delivery: every chunk reaches the surface through exactly one
// of {replay, live forward}. The controller's mutex serializes HandleOutput
// against Activate, so a chunk arriving mid-switch is either included in the
// replay snapshot or forwarded live after the active pointer moves, never
// both and never neither.
type Controller struct {
	store   *Store
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	surface Surface
	active  string
	rebound bool // surface replaced while a session was active; replay owed
}

// NewController creates a controller over the given store.
func NewController(store *Store, logger *logging.Logger) *Controller {
	return &Controller{
		store:  store,
		logger: logger,
	}
}

// WithMetrics attaches a metrics collector.
func (c *Controller) WithMetrics(m *monitoring.Metrics) *Controller {
	c.metrics = m
	return c
}

// AttachSurface binds the rendering surface. Buffers are left intact by a
// previous detach, so history survives the remount. When a session is already
// active the fresh surface starts empty, so the next Activate for it owes a
// replay of everything buffered while detached.
func (c *Controller) AttachSurface(s Surface) {
	c.mu.Lock()
	c.surface = s
	c.rebound = c.active != ""
	c.mu.Unlock()
}

// DetachSurface releases the surface, keeping buffers and the active pointer
// so a later reattach to the same session still has history.
func (c *Controller) DetachSurface() {
	c.mu.Lock()
	c.surface = nil
	c.mu.Unlock()
}

// Activate makes sessionID the active session. The very first activation
// replays any output that arrived before a view existed; a switch resets the
// surface first and replays the target's buffered history. Re-activating the
// current session is a no-op unless the surface was rebound since, in which
// case the history buffered while detached is replayed onto the new surface.
// Chunks buffered before the switch are shown once via replay; chunks
// arriving after are delivered via live forwarding, never through both paths.
func (c *Controller) Activate(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == sessionID && !c.rebound {
		return
	}
	c.rebound = false

	first := c.active == ""
	if !first && c.surface != nil {
		c.surface.Reset()
	}

	chunks := c.store.SnapshotAndClear(sessionID)
	if c.surface != nil {
		for _, chunk := range chunks {
			c.surface.Write(chunk)
		}
		c.surface.Focus()
	}
	if c.metrics != nil && len(chunks) > 0 {
		c.metrics.ChunksReplayed.Add(float64(len(chunks)))
	}

	c.active = sessionID
	c.logger.Debug("session activated",
		zap.String("session_id", sessionID),
		zap.Int("replayed", len(chunks)),
		zap.Bool("first", first),
	)
}

// ClearActive drops the active pointer, e.g. when the active tab closes.
func (c *Controller) ClearActive() {
	c.mu.Lock()
	c.active = ""
	c.mu.Unlock()
}

// Active returns the currently active session ID, or "".
func (c *Controller) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// HandleOutput routes one output event. The chunk is always appended to the
// replay buffer, which is the durable record for future replays, and
// additionally written straight to the surface when the event's session is
// active, avoiding replay latency for the foreground session.
func (c *Controller) HandleOutput(sessionID, chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Append(sessionID, chunk)
	if sessionID == c.active && c.surface != nil {
		c.surface.Write(chunk)
	}
}

// HandleExit routes a session exit: the buffer is cleared, and if the
// session was active an inline marker tells the user what happened.
func (c *Controller) HandleExit(sessionID string, code *int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.store.Clear(sessionID)
	if sessionID == c.active && c.surface != nil {
		c.surface.Write(exitMarker(code))
	}
}
