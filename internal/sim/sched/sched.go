// Package sched holds tick-polled timing helpers. Nothing here starts goroutines or
// timers; the owner calls Due on every tick with the simulation clock.
package sched

import "time"

// Debounced coalesces triggers into one action that runs after a quiet window. Only the
// latest payload is kept.
type Debounced[T any] struct {
	wait     time.Duration
	pending  bool
	value    T
	deadline time.Time
}

func NewDebounced[T any](wait time.Duration) *Debounced[T] {
	return &Debounced[T]{wait: wait}
}

// Trigger stores v and restarts the quiet window.
func (d *Debounced[T]) Trigger(v T, now time.Time) {
	d.value = v
	d.pending = true
	d.deadline = now.Add(d.wait)
}

// Due returns the payload once the quiet window has passed.
func (d *Debounced[T]) Due(now time.Time) (T, bool) {
	if !d.pending || now.Before(d.deadline) {
		var zero T
		return zero, false
	}
	return d.take()
}

// Flush returns the pending payload immediately.
func (d *Debounced[T]) Flush() (T, bool) {
	if !d.pending {
		var zero T
		return zero, false
	}
	return d.take()
}

func (d *Debounced[T]) Cancel() {
	var zero T
	d.pending = false
	d.value = zero
}

func (d *Debounced[T]) Pending() bool { return d.pending }

// Deadline is meaningful only while Pending.
func (d *Debounced[T]) Deadline() time.Time { return d.deadline }

func (d *Debounced[T]) take() (T, bool) {
	v := d.value
	d.Cancel()
	return v, true
}

// Throttle lets at most one payload through per interval. A payload offered inside the
// window is held and released by Due once the window ends, so the latest state always
// goes out.
type Throttle[T any] struct {
	interval time.Duration
	last     time.Time
	fired    bool
	pending  bool
	value    T
}

func NewThrottle[T any](interval time.Duration) *Throttle[T] {
	return &Throttle[T]{interval: interval}
}

// Offer returns v when it may be sent now. Otherwise v replaces any held payload.
func (t *Throttle[T]) Offer(v T, now time.Time) (T, bool) {
	if !t.fired || now.Sub(t.last) >= t.interval {
		t.emit(now)
		return v, true
	}
	t.value = v
	t.pending = true
	var zero T
	return zero, false
}

// Due releases the held payload once the window has elapsed.
func (t *Throttle[T]) Due(now time.Time) (T, bool) {
	if !t.pending || now.Sub(t.last) < t.interval {
		var zero T
		return zero, false
	}
	v := t.value
	t.emit(now)
	return v, true
}

func (t *Throttle[T]) Pending() bool { return t.pending }

// Reset forgets the window and any held payload.
func (t *Throttle[T]) Reset() {
	var zero T
	t.fired = false
	t.pending = false
	t.value = zero
}

func (t *Throttle[T]) emit(now time.Time) {
	var zero T
	t.last = now
	t.fired = true
	t.pending = false
	t.value = zero
}
