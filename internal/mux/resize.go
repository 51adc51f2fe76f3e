package mux

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/monitoring"
)

// DefaultResizeDebounce coalesces geometry signals to one animation frame.
const DefaultResizeDebounce = 16 * time.Millisecond

type geometry struct {
	rows, cols int
}

// ResizeCoordinator deduplicates size-change signals per session so the
// backend receives a resize call only when the negotiated geometry actually
// changed. It tolerates being called on every animation frame: backend
// traffic stays proportional to actual changes, not call frequency.
//
// The per-session memo of the last geometry sent is only an optimization;
// losing it costs at most one redundant resize call.
type ResizeCoordinator struct {
	channel  backend.Channel
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	debounce *Debouncer

	mu   sync.Mutex
	last map[string]geometry
}

// NewResizeCoordinator creates a coordinator debounced by window. A zero
// window disables debouncing.
func NewResizeCoordinator(channel backend.Channel, logger *logging.Logger, window time.Duration) *ResizeCoordinator {
	return &ResizeCoordinator{
		channel:  channel,
		logger:   logger,
		debounce: NewDebouncer(window),
		last:     make(map[string]geometry),
	}
}

// WithMetrics attaches a metrics collector.
func (c *ResizeCoordinator) WithMetrics(m *monitoring.Metrics) *ResizeCoordinator {
	c.metrics = m
	return c
}

// Request notes the fitted geometry for a session. After the debounce window
// the latest geometry is compared against the memo and sent to the backend
// only on change. Fire-and-forget: failures are logged, never propagated.
func (c *ResizeCoordinator) Request(sessionID string, rows, cols int) {
	if sessionID == "" || rows <= 0 || cols <= 0 {
		return
	}
	c.debounce.Do(sessionID, func() {
		c.flush(sessionID, rows, cols)
	})
}

func (c *ResizeCoordinator) flush(sessionID string, rows, cols int) {
	g := geometry{rows: rows, cols: cols}

	c.mu.Lock()
	if prev, ok := c.last[sessionID]; ok && prev == g {
		c.mu.Unlock()
		if c.metrics != nil {
			c.metrics.ResizesSuppressed.Inc()
		}
		return
	}
	c.last[sessionID] = g
	c.mu.Unlock()

	if err := c.channel.Resize(sessionID, rows, cols); err != nil {
		c.logger.Warn("resize failed",
			zap.String("session_id", sessionID),
			zap.Int("rows", rows),
			zap.Int("cols", cols),
			zap.Error(err),
		)
		return
	}
	if c.metrics != nil {
		c.metrics.ResizesSent.Inc()
	}
}

// Forget drops the memo and any pending request for a session. Called when
// the session closes.
func (c *ResizeCoordinator) Forget(sessionID string) {
	c.debounce.Cancel(sessionID)
	c.mu.Lock()
	delete(c.last, sessionID)
	c.mu.Unlock()
}

// Close cancels all pending requests. Part of component teardown; leaked
// timers would fire into a released channel.
func (c *ResizeCoordinator) Close() {
	c.debounce.CancelAll()
}
