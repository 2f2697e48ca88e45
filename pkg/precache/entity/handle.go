// Package entity provides the in-memory runtime handle for a single
// precache entity: the synchronisation point between the HTTP handlers
// waiting on a datatype slot and the worker that is fetching it.
package entity

import (
	"context"
	"sync"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

// Handle is the live, in-process counterpart to a Tracking Index row. One
// Handle exists per upstream path for as long as any caller holds it or a
// fetch is in flight; the Precache Manager owns the map of live handles.
type Handle struct {
	UpstreamPath string

	mu       sync.Mutex
	waiters  map[model.Datatype][]chan struct{}
	fetching map[model.Datatype]bool
	cancel   map[model.Datatype]context.CancelFunc
}

// New creates a Handle for upstreamPath.
func New(upstreamPath string) *Handle {
	return &Handle{
		UpstreamPath: upstreamPath,
		waiters:      make(map[model.Datatype][]chan struct{}),
		fetching:     make(map[model.Datatype]bool),
		cancel:       make(map[model.Datatype]context.CancelFunc),
	}
}

// TryStartFetch reports whether the caller has won the right to fetch dt
// for this entity; only one caller at a time may fetch a given datatype.
// Losers should Wait() on the same datatype instead of fetching again.
func (h *Handle) TryStartFetch(dt model.Datatype) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fetching[dt] {
		return false
	}
	h.fetching[dt] = true
	return true
}

// FinishFetch releases the fetch lease for dt and wakes every waiter.
func (h *Handle) FinishFetch(dt model.Datatype) {
	h.mu.Lock()
	h.fetching[dt] = false
	waiters := h.waiters[dt]
	h.waiters[dt] = nil
	h.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// Wait returns a channel that closes the next time FinishFetch(dt) runs.
// Callers should re-check the slot's status after the channel closes,
// since FinishFetch doesn't guarantee Finished (the fetch may have failed).
func (h *Handle) Wait(dt model.Datatype) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan struct{})
	h.waiters[dt] = append(h.waiters[dt], ch)
	return ch
}

// IsFetching reports whether a fetch for dt is currently in flight on
// this handle.
func (h *Handle) IsFetching(dt model.Datatype) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fetching[dt]
}

// SetCancel records the cancellation function for dt's queued or
// in-flight fetch. Pass nil once the fetch has finished, clearing it so
// a stale cancel func for a later, unrelated fetch can't be invoked.
func (h *Handle) SetCancel(dt model.Datatype, fn context.CancelFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		delete(h.cancel, dt)
		return
	}
	h.cancel[dt] = fn
}

// Cancel cancels dt's queued or in-flight fetch, if any is currently
// tracked. A no-op otherwise.
func (h *Handle) Cancel(dt model.Datatype) {
	h.mu.Lock()
	fn := h.cancel[dt]
	h.mu.Unlock()
	if fn != nil {
		fn()
	}
}
