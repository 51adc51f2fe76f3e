package mux

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentshell/termmux/internal/backend"
)

// fakeChannel records backend calls and lets tests push events.
type fakeChannel struct {
	hub *backend.Hub

	mu       sync.Mutex
	resizes  []string // "sid:rows:cols"
	writes   []string
	closed   []string
	created  int
	createFn func(backend.SessionConfig) (string, error)

	// createGate, when set, blocks Create until released. Used to hold a
	// create "in flight" while the test races other triggers against it.
	createGate chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{hub: backend.NewHub()}
}

func (f *fakeChannel) Create(ctx context.Context, cfg backend.SessionConfig) (string, error) {
	if f.createGate != nil {
		select {
		case <-f.createGate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.createFn != nil {
		return f.createFn(cfg)
	}
	return fmt.Sprintf("sess_%d", f.created), nil
}

func (f *fakeChannel) Write(sessionID string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, sessionID+":"+string(data))
	return nil
}

func (f *fakeChannel) Resize(sessionID string, rows, cols int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, fmt.Sprintf("%s:%d:%d", sessionID, rows, cols))
	return nil
}

func (f *fakeChannel) Close(sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, sessionID)
	return nil
}

func (f *fakeChannel) Subscribe() *backend.Subscription { return f.hub.Subscribe() }

func (f *fakeChannel) Shutdown() error {
	f.hub.Close()
	return nil
}

func (f *fakeChannel) resizeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.resizes...)
}

func (f *fakeChannel) createCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func (f *fakeChannel) closeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

func (f *fakeChannel) writeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// fakeSurface records everything written to the rendering surface.
type fakeSurface struct {
	mu      sync.Mutex
	writes  []string
	resets  int
	focuses int
}

func (s *fakeSurface) Write(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, data)
}

func (s *fakeSurface) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.writes = nil
}

func (s *fakeSurface) Focus() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focuses++
}

func (s *fakeSurface) written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}

func (s *fakeSurface) resetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}
