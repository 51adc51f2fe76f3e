// Package mux is the terminal session multiplexer core.
//
// It owns zero-or-more shell sessions backed by a PTY channel, streams their
// output into one live rendering surface, and survives surface reattachment
// and backend disconnects without losing or duplicating output.
//
// Components:
//   - Store: bounded per-session replay buffers with FIFO eviction
//   - Controller: single active attachment, replay-then-forward protocol
//   - ResizeCoordinator: debounced, deduplicated geometry negotiation
//   - Registry: tab lifecycle, auto-provisioning, event routing, buffer GC
//
// Data flow: backend output events are always appended to the Store; events
// for the active session are additionally written straight to the surface.
// Keystrokes flow the reverse path, surface to backend. Geometry changes go
// through the ResizeCoordinator so backend traffic tracks actual changes,
// not signal frequency.
//
// The Store is shared mutable state that outlives any one surface; it is
// injected by the composition root rather than held in a package-level
// singleton, so tests construct isolated instances.
package mux
