package graph

import "sync"

// Lazy builds a Context on first use and returns the same one afterwards.
// A failed build is remembered; later calls return the same error.
type Lazy struct {
	mu    sync.Mutex
	build func() (*Context, error)
	done  bool
	ctx   *Context
	err   error
}

func NewLazy(build func() (*Context, error)) *Lazy {
	return &Lazy{build: build}
}

// Shared wraps an already built Context.
func Shared(ctx *Context) *Lazy {
	return &Lazy{done: true, ctx: ctx}
}

func (l *Lazy) Get() (*Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.done {
		l.done = true
		l.ctx, l.err = l.build()
	}
	return l.ctx, l.err
}

// Peek returns the Context if it has been built, without building it.
func (l *Lazy) Peek() *Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ctx
}
