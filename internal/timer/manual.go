package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Manual is a Source whose time only moves when Advance or AdvanceTo is
// called. Due callbacks run synchronously on the advancing goroutine, in
// deadline order; callbacks scheduled while advancing fire in the same call
// if they fall due.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    uint64
	queue  manualQueue
	active map[*manualTimer]struct{}
}

func NewManual() *Manual {
	return &Manual{active: make(map[*manualTimer]struct{})}
}

type manualTimer struct {
	m   *Manual
	at  time.Duration
	seq uint64
	f   func()
	idx int
}

func (t *manualTimer) Cancel() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if _, ok := t.m.active[t]; !ok {
		return false
	}
	delete(t.m.active, t)
	heap.Remove(&t.m.queue, t.idx)
	return true
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, f: f}
	m.seq++
	m.active[t] = struct{}{}
	heap.Push(&m.queue, t)
	return t
}

// Now reports the current manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves time forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.AdvanceTo(m.Now() + d)
}

// AdvanceTo moves time forward to t, firing every timer due at or before t.
// Moving backwards is a no-op.
func (m *Manual) AdvanceTo(t time.Duration) {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 || m.queue[0].at > t {
			if t > m.now {
				m.now = t
			}
			m.mu.Unlock()
			return
		}
		next := heap.Pop(&m.queue).(*manualTimer)
		delete(m.active, next)
		if next.at > m.now {
			m.now = next.at
		}
		m.mu.Unlock()
		next.f()
	}
}

// Pending reports how many timers have not fired or been canceled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

type manualQueue []*manualTimer

func (q manualQueue) Len() int { return len(q) }
func (q manualQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].seq < q[j].seq
	}
	return q[i].at < q[j].at
}
func (q manualQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].idx = i
	q[j].idx = j
}
func (q *manualQueue) Push(x any) {
	t := x.(*manualTimer)
	t.idx = len(*q)
	*q = append(*q, t)
}
func (q *manualQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}
