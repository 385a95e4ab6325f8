package voice

import (
	"sort"
	"sync"
)

// Registry tracks sounding voices: a flat active set, plus a FIFO queue per
// entity so that the n-th Stop releases the n-th still-open Start.
type Registry struct {
	mu     sync.Mutex
	active map[*Voice]struct{}
	queues map[string][]*Voice
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[*Voice]struct{}),
		queues: make(map[string][]*Voice),
	}
}

// Add puts v in the active set and at the back of its entity's queue.
// Adding a voice that is already active is a no-op.
func (r *Registry) Add(entity string, v *Voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[v]; ok {
		return
	}
	r.active[v] = struct{}{}
	r.queues[entity] = append(r.queues[entity], v)
}

// TakeOldest pops the front of the entity's queue.
func (r *Registry) TakeOldest(entity string) (*Voice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.queues[entity]
	if len(q) == 0 {
		return nil, false
	}
	v := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(r.queues, entity)
	} else {
		r.queues[entity] = q[1:]
	}
	return v, true
}

// Remove drops v from the active set only. It is called when a voice's
// sound has fully ended.
func (r *Registry) Remove(v *Voice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, v)
}

// Clear empties the active set and every queue.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = make(map[*Voice]struct{})
	r.queues = make(map[string][]*Voice)
}

// Active returns the active voices ordered by ID.
func (r *Registry) Active() []*Voice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Voice, 0, len(r.active))
	for v := range r.active {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Pending reports how many unmatched Starts the entity has.
func (r *Registry) Pending(entity string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues[entity])
}
