// Package sched provides per-link deadline timers for the encryption procedure.
package sched

import (
	"sync"
	"time"
)

// deadline is one armed timer.
type deadline struct {
	timer *time.Timer
	gen   uint64
}

// Timers holds at most one armed deadline per connection handle.
//
// An expiry fires its callback at most once and disarms itself. Re-arming or
// disarming a handle suppresses any expiry that has not yet claimed its
// entry. A callback that already claimed it may still run after the re-arm,
// so callers tag whatever the callback delivers.
//
// Thread-safe for concurrent access.
type Timers struct {
	entries map[uint16]*deadline
	gen     uint64

	mu sync.Mutex
}

// NewTimers creates an empty timer set.
func NewTimers() *Timers {
	return &Timers{
		entries: make(map[uint16]*deadline),
	}
}

// Arm schedules fire to run after d for handle, replacing any deadline
// already armed for it.
func (t *Timers) Arm(handle uint16, d time.Duration, fire func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[handle]; ok {
		e.timer.Stop()
	}

	t.gen++
	gen := t.gen
	e := &deadline{gen: gen}
	e.timer = time.AfterFunc(d, func() {
		if !t.expire(handle, gen) {
			return
		}
		if fire != nil {
			fire()
		}
	})
	t.entries[handle] = e
}

// expire removes the entry if it is still the armed generation.
func (t *Timers) expire(handle uint16, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[handle]
	if !ok || e.gen != gen {
		return false
	}
	delete(t.entries, handle)
	return true
}

// Disarm cancels the deadline of handle.
// Returns true if a deadline was armed.
func (t *Timers) Disarm(handle uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[handle]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, handle)
	return true
}

// Armed reports whether handle has a pending deadline.
func (t *Timers) Armed(handle uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[handle]
	return ok
}

// Stop disarms every deadline.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for handle, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, handle)
	}
}
