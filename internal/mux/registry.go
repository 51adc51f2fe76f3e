package mux

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentshell/termmux/internal/backend"
	"github.com/agentshell/termmux/internal/logging"
	"github.com/agentshell/termmux/internal/monitoring"
	"github.com/agentshell/termmux/internal/shared/id"
)

// Status is a session's lifecycle state. Disconnected and error are terminal
// for a session instance; retrying means creating a new session.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Session is one tab's identity and lifecycle state.
type Session struct {
	ID        string
	Kind      string
	Status    Status
	Cwd       string
	CreatedAt time.Time
}

// Registry orchestrates session lifecycle: the tab list, statuses, the
// active-session pointer, auto-provisioning of a first session, and garbage
// collection of buffers when tabs close. It owns the event pump that routes
// backend output and exit events through the controller, looking up the
// active session at delivery time rather than capturing it at subscription
// time.
type Registry struct {
	channel    backend.Channel
	store      *Store
	controller *Controller
	resizer    *ResizeCoordinator
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
	order    []string
	visible  bool
	creating bool // re-entrant guard for EnsureDefault

	// geometry reports the surface's current fitted size, used to
	// renegotiate immediately after a switch.
	geometry func() (rows, cols int)

	sub       *backend.Subscription
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// NewRegistry wires the orchestrator. Call Start to begin event routing.
func NewRegistry(channel backend.Channel, store *Store, controller *Controller, resizer *ResizeCoordinator, logger *logging.Logger) *Registry {
	return &Registry{
		channel:    channel,
		store:      store,
		controller: controller,
		resizer:    resizer,
		logger:     logger,
		sessions:   make(map[string]*Session),
	}
}

// WithMetrics attaches a metrics collector.
func (r *Registry) WithMetrics(m *monitoring.Metrics) *Registry {
	r.metrics = m
	return r
}

// SetGeometrySource registers an accessor for the surface's fitted geometry.
func (r *Registry) SetGeometrySource(fn func() (rows, cols int)) {
	r.mu.Lock()
	r.geometry = fn
	r.mu.Unlock()
}

// Start subscribes to the backend feed and begins routing events.
func (r *Registry) Start() {
	r.sub = r.channel.Subscribe()
	r.pumpDone = make(chan struct{})
	go r.pump()
}

// pump routes backend events until the subscription is released.
func (r *Registry) pump() {
	defer close(r.pumpDone)
	for {
		select {
		case ev := <-r.sub.C:
			switch ev.Type {
			case backend.EventOutput:
				r.controller.HandleOutput(ev.SessionID, ev.Data)
			case backend.EventExit:
				r.handleExit(ev.SessionID, ev.Code)
			}
		case <-r.sub.Done():
			return
		}
	}
}

func (r *Registry) handleExit(sessionID string, code *int) {
	r.controller.HandleExit(sessionID, code)

	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if ok && (sess.Status == StatusConnected || sess.Status == StatusConnecting) {
		sess.Status = StatusDisconnected
		if r.metrics != nil {
			r.metrics.SessionsActive.Dec()
		}
	}
	r.mu.Unlock()

	r.logger.Info("session disconnected", zap.String("session_id", sessionID))
}

// SetVisible records panel visibility. Becoming visible with no sessions
// triggers auto-provisioning.
func (r *Registry) SetVisible(ctx context.Context, visible bool) {
	r.mu.Lock()
	r.visible = visible
	r.mu.Unlock()

	if visible {
		if err := r.EnsureDefault(ctx); err != nil {
			r.logger.Warn("failed to auto-create session", zap.Error(err))
		}
	}
}

// EnsureDefault creates a first session when the panel is visible and none
// exist. Idempotent under concurrent triggers: the guard flag is set before
// the create call and cleared in a defer regardless of outcome, so a
// visibility flag flipping twice mid-create still yields one session.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	r.mu.Lock()
	if !r.visible || len(r.sessions) > 0 || r.creating {
		r.mu.Unlock()
		return nil
	}
	r.creating = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.creating = false
		r.mu.Unlock()
	}()

	_, err := r.CreateSession(ctx, backend.SessionConfig{})
	return err
}

// CreateSession opens a new tab. The session appears in the tab list as
// connecting while the backend create is in flight, under a provisional
// client-side ID that is re-keyed to the backend-assigned one on success. A
// failed create removes the tab again.
func (r *Registry) CreateSession(ctx context.Context, cfg backend.SessionConfig) (*Session, error) {
	provisional := id.NewSessionID().String()
	sess := &Session{
		ID:        provisional,
		Kind:      cfg.Kind,
		Status:    StatusConnecting,
		Cwd:       cfg.Cwd,
		CreatedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[provisional] = sess
	r.order = append(r.order, provisional)
	r.mu.Unlock()

	sid, err := r.channel.Create(ctx, cfg)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, provisional)
		for i, s := range r.order {
			if s == provisional {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r.mu.Lock()
	if sid != provisional {
		delete(r.sessions, provisional)
		r.sessions[sid] = sess
		for i, s := range r.order {
			if s == provisional {
				r.order[i] = sid
				break
			}
		}
		sess.ID = sid
	}
	sess.Status = StatusConnected
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsTotal.Inc()
		r.metrics.SessionsActive.Inc()
	}
	r.logger.Info("session registered",
		zap.String("session_id", sid),
		zap.String("kind", cfg.Kind),
	)

	r.SetActive(sid)
	return sess, nil
}

// CloseSession closes a tab: terminates the backend session, drops it from
// the tab list, clears its buffer and resize record, releases the active
// pointer if it held it, and garbage-collects buffers of closed sessions.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	wasLive := sess.Status == StatusConnected || sess.Status == StatusConnecting
	delete(r.sessions, sessionID)
	for i, sid := range r.order {
		if sid == sessionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	live := append([]string(nil), r.order...)
	r.mu.Unlock()

	if wasLive {
		if err := r.channel.Close(sessionID); err != nil {
			r.logger.Warn("failed to close backend session",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
		if r.metrics != nil {
			r.metrics.SessionsActive.Dec()
		}
	}

	r.store.Clear(sessionID)
	r.resizer.Forget(sessionID)
	if r.controller.Active() == sessionID {
		r.controller.ClearActive()
	}
	r.store.PurgeExcept(live)

	r.logger.Info("session closed", zap.String("session_id", sessionID))
}

// SetActive switches the surface to the given session and renegotiates the
// geometry right after replay, covering the case where the surface's size
// differs from what the session last negotiated.
func (r *Registry) SetActive(sessionID string) {
	r.mu.Lock()
	_, ok := r.sessions[sessionID]
	geometry := r.geometry
	r.mu.Unlock()
	if !ok {
		return
	}

	r.controller.Activate(sessionID)

	if geometry != nil {
		rows, cols := geometry()
		r.resizer.Request(sessionID, rows, cols)
	}
}

// Active returns the active session ID, or "".
func (r *Registry) Active() string {
	return r.controller.Active()
}

// HandleInput forwards keystrokes from the surface to the active session.
// Best-effort: transport failures are logged, the user can type again.
func (r *Registry) HandleInput(data []byte) {
	active := r.controller.Active()
	if active == "" {
		return
	}
	if err := r.channel.Write(active, data); err != nil {
		r.logger.Warn("write failed",
			zap.String("session_id", active),
			zap.Error(err),
		)
	}
}

// HandleResize forwards the surface's fitted geometry for the active session.
func (r *Registry) HandleResize(rows, cols int) {
	active := r.controller.Active()
	if active == "" {
		return
	}
	r.resizer.Request(active, rows, cols)
}

// Sessions returns the tab list in order.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Session, 0, len(r.order))
	for _, sid := range r.order {
		if sess, ok := r.sessions[sid]; ok {
			out = append(out, *sess)
		}
	}
	return out
}

// Get returns one session by ID.
func (r *Registry) Get(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Close releases the subscription, pending resize timers and the surface.
// Buffers survive in the store for a later registry over the same store.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		if r.sub != nil {
			r.sub.Close()
			<-r.pumpDone
		}
		r.resizer.Close()
		r.controller.DetachSurface()
	})
}
