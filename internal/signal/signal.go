// Package signal implements a thread-safe one-to-many event primitive:
// connect, disconnect and emit. No other package in this module imports it.
package signal

import "sync"

// Handle identifies a connected slot. It is cheap to copy and remains
// valid (Disconnect is a safe no-op) even after the slot has already been
// disconnected or swept.
type Handle uint64

// Signal[T] is a one-to-many event carrying a single argument of type T.
type Signal[T any] struct {
	mu     sync.Mutex
	nextID Handle
	slots  map[Handle]func(T)
}

// New creates an empty Signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{slots: make(map[Handle]func(T))}
}

// Connect registers cb and returns a Handle that can later Disconnect it.
func (s *Signal[T]) Connect(cb func(T)) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := s.nextID
	s.slots[h] = cb
	return h
}

// Disconnect removes a slot. Safe to call from within a callback running
// as part of Emit (including disconnecting itself), and safe to call
// twice.
func (s *Signal[T]) Disconnect(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.slots, h)
}

// Emit takes a snapshot of connected slots under the lock, then invokes
// each without the lock held, so a callback may Connect or Disconnect
// (itself or another slot) without deadlocking against this Emit call.
// Disconnects requested during dispatch are visible to the NEXT Emit (the
// snapshot already in flight still runs); spec.md's "disconnect and sweep
// under the same lock as connect/disconnect" invariant is satisfied by
// every mutation — connect, disconnect, and the snapshot read itself — all
// taking the same s.mu, never a separate sweep lock.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]func(T), 0, len(s.slots))
	for _, cb := range s.slots {
		snapshot = append(snapshot, cb)
	}
	s.mu.Unlock()

	for _, cb := range snapshot {
		cb(v)
	}
}

// Len reports the current number of connected slots.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}
