package modulo

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// slot owns one component instance. The module holds the slot itself; every
// consumer that keeps the instance (a dependent component or a Handle) counts
// as a shared reference. Exclusive access is granted only while there are none.
type slot struct {
	key   Key
	mu    sync.RWMutex
	value any
	refs  atomic.Int64
}

func newSlot(key Key, value any) *slot {
	return &slot{key: key, value: value}
}

// load returns the instance without taking a reference.
func (s *slot) load() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.value
}

// share returns the instance and records a shared reference. References taken
// by dependent components that build successfully are never released: an
// injected component stays shared for the life of the module.
func (s *slot) share() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	s.refs.Add(1)
	return s.value
}

func (s *slot) release() {
	s.refs.Add(-1)
}

// exclusive runs fn with sole access to the instance, or fails if any shared
// reference is outstanding.
func (s *slot) exclusive(fn func(any) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := s.refs.Load(); n > 0 {
		return SharedInstanceError{Interface: s.key.t, Handles: n}
	}

	return fn(s.value)
}

// Handle is a counted shared reference to a component instance, returned by
// Resolve. While any Handle is unreleased, ResolveMut on the same interface
// fails. Release is idempotent; a Handle that becomes unreachable without
// being released is released when the garbage collector reclaims it.
type Handle[I any] struct {
	value I
	state *handleState
}

type handleState struct {
	slot     *slot
	released atomic.Bool
}

func (st *handleState) release() {
	if st.released.CompareAndSwap(false, true) {
		st.slot.release()
	}
}

func newHandle[I any](s *slot, value I) *Handle[I] {
	st := &handleState{slot: s}
	h := &Handle[I]{value: value, state: st}
	runtime.AddCleanup(h, func(st *handleState) { st.release() }, st)
	return h
}

// Get returns the shared instance.
func (h *Handle[I]) Get() I {
	return h.value
}

// Release gives up the reference.
func (h *Handle[I]) Release() {
	h.state.release()
}

// Released reports whether Release has been called.
func (h *Handle[I]) Released() bool {
	return h.state.released.Load()
}
