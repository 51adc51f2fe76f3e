package mux

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls per key into one trailing invocation.
// A zero window runs functions synchronously, which also keeps tests
// deterministic. Pending timers must be cancelled on teardown; a leaked
// timer firing after unmount would deliver into a dead component.
type Debouncer struct {
	window time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDebouncer creates a debouncer with the given trailing window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		timers: make(map[string]*time.Timer),
	}
}

// Do schedules fn for the key, replacing any pending invocation so only the
// latest call in a burst fires.
func (d *Debouncer) Do(key string, fn func()) {
	if d.window <= 0 {
		fn()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
	}
	d.timers[key] = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.timers, key)
		d.mu.Unlock()
		fn()
	})
}

// Cancel drops any pending invocation for the key.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[key]; ok {
		timer.Stop()
		delete(d.timers, key)
	}
}

// CancelAll drops every pending invocation.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for key, timer := range d.timers {
		timer.Stop()
		delete(d.timers, key)
	}
}
