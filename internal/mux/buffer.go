package mux

import (
	"sync"

	"github.com/agentshell/termmux/internal/monitoring"
)

// DefaultBufferCapacity is the per-session replay buffer size in chunks.
const DefaultBufferCapacity = 1000

// Store keeps one bounded FIFO of output chunks per session. It outlives any
// surface attachment: detaching a surface leaves buffers intact so a later
// reattach still has history, subject to capacity.
//
// Only Store methods mutate buffers. Eviction is lossy: once a session's
// buffer is full the oldest chunk is silently dropped, bounding memory with
// no flow-control signal back to the producer.
type Store struct {
	capacity int
	metrics  *monitoring.Metrics

	mu    sync.RWMutex
	rings map[string]*ring
}

// ring is one session's buffer. Its mutex covers both Append and the
// snapshot swap, which is what makes SnapshotAndClear atomic with respect to
// concurrent appends.
type ring struct {
	mu     sync.Mutex
	chunks []string
}

// NewStore creates a store with the given per-session capacity. A
// non-positive capacity falls back to DefaultBufferCapacity.
func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &Store{
		capacity: capacity,
		rings:    make(map[string]*ring),
	}
}

// WithMetrics attaches a metrics collector.
func (s *Store) WithMetrics(m *monitoring.Metrics) *Store {
	s.metrics = m
	return s
}

// Append adds a chunk to the session's buffer, creating the buffer on first
// output. Beyond capacity the oldest chunk is evicted. Append cannot fail.
func (s *Store) Append(sessionID, chunk string) {
	r := s.ring(sessionID)

	r.mu.Lock()
	if len(r.chunks) >= s.capacity {
		n := copy(r.chunks, r.chunks[len(r.chunks)-s.capacity+1:])
		r.chunks = append(r.chunks[:n], chunk)
		if s.metrics != nil {
			s.metrics.ChunksEvicted.Inc()
		}
	} else {
		r.chunks = append(r.chunks, chunk)
	}
	r.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ChunksBuffered.Inc()
	}
}

// SnapshotAndClear atomically swaps the session's buffer for a fresh empty
// one and returns the chunks that were present, in order. A chunk appended
// concurrently lands either in the returned snapshot or in the fresh buffer,
// never in neither: the swap happens under the same lock Append takes, not
// as a separate read and clear.
func (s *Store) SnapshotAndClear(sessionID string) []string {
	s.mu.RLock()
	r, ok := s.rings[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	chunks := r.chunks
	r.chunks = nil
	r.mu.Unlock()
	return chunks
}

// Clear discards the session's buffer entirely. Used on session exit.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	delete(s.rings, sessionID)
	s.mu.Unlock()
}

// PurgeExcept drops buffers for any session not in the live set. Called
// whenever the tab list changes so closed sessions cannot pin memory.
func (s *Store) PurgeExcept(liveSessionIDs []string) {
	live := make(map[string]struct{}, len(liveSessionIDs))
	for _, sid := range liveSessionIDs {
		live[sid] = struct{}{}
	}

	s.mu.Lock()
	for sid := range s.rings {
		if _, ok := live[sid]; !ok {
			delete(s.rings, sid)
		}
	}
	s.mu.Unlock()
}

// Len reports the number of buffered chunks for a session.
func (s *Store) Len(sessionID string) int {
	s.mu.RLock()
	r, ok := s.rings[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}

func (s *Store) ring(sessionID string) *ring {
	s.mu.RLock()
	r, ok := s.rings[sessionID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok = s.rings[sessionID]; ok {
		return r
	}
	r = &ring{}
	s.rings[sessionID] = r
	return r
}
