// Package timer provides one-shot cancelable timers over a pluggable time
// source: wall-clock for live playback, manually advanced for offline
// rendering and tests.
package timer

import (
	"sync"
	"time"
)

// Handle cancels a pending timer. Cancel reports whether the timer was
// stopped before it fired.
type Handle interface {
	Cancel() bool
}

// Source schedules callbacks after a delay.
type Source interface {
	AfterFunc(d time.Duration, f func()) Handle
}

// Wall is the real-time Source backed by time.AfterFunc.
type Wall struct{}

func (Wall) AfterFunc(d time.Duration, f func()) Handle {
	return wallHandle{time.AfterFunc(d, f)}
}

type wallHandle struct{ t *time.Timer }

func (h wallHandle) Cancel() bool { return h.t.Stop() }

// Seconds converts a duration in seconds into a time.Duration, clamping
// negatives to zero.
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

// OneShot holds at most one armed timer. Arming replaces the previous timer;
// a callback whose timer was replaced or canceled never runs, even if its
// underlying timer already fired.
type OneShot struct {
	src Source

	mu  sync.Mutex
	gen uint64
	h   Handle
}

func NewOneShot(src Source) *OneShot {
	return &OneShot{src: src}
}

// Arm cancels any pending timer and schedules f after d.
func (o *OneShot) Arm(d time.Duration, f func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.h != nil {
		o.h.Cancel()
	}
	o.gen++
	gen := o.gen
	o.h = o.src.AfterFunc(d, func() {
		o.mu.Lock()
		live := o.gen == gen
		if live {
			o.h = nil
		}
		o.mu.Unlock()
		if live {
			f()
		}
	})
}

// Cancel drops the pending timer, if any.
func (o *OneShot) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.gen++
	if o.h != nil {
		o.h.Cancel()
		o.h = nil
	}
}

// Armed reports whether a timer is pending.
func (o *OneShot) Armed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.h != nil
}

// Group is a set of independent timers canceled together.
type Group struct {
	src Source

	mu      sync.Mutex
	gen     uint64
	pending map[uint64]Handle
	next    uint64
}

func NewGroup(src Source) *Group {
	return &Group{src: src, pending: make(map[uint64]Handle)}
}

// After schedules f after d as a member of the group.
func (g *Group) After(d time.Duration, f func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gen := g.gen
	id := g.next
	g.next++
	g.pending[id] = g.src.AfterFunc(d, func() {
		g.mu.Lock()
		live := g.gen == gen
		delete(g.pending, id)
		g.mu.Unlock()
		if live {
			f()
		}
	})
}

// CancelAll drops every pending timer in the group.
func (g *Group) CancelAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	for id, h := range g.pending {
		h.Cancel()
		delete(g.pending, id)
	}
}

// Len reports how many timers are pending.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
