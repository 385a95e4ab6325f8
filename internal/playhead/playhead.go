package playhead

import (
	"context"
	"sync"
	"time"
)

// Clock is the visual playhead. It is anchored to wall-clock time and only
// advances when Frame is called, once per display refresh. It is not locked
// to the audio clock; callers re-anchor it with Restart at each loop
// boundary.
type Clock struct {
	now func() time.Time

	mu       sync.Mutex
	anchor   time.Time
	anchored bool
	loop     float64
	pos      float64
	running  bool
}

// New returns a stopped clock. A nil now uses time.Now.
func New(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start anchors the clock at the current instant, zeroes the position and
// starts following frames for a loop of the given length in seconds.
func (c *Clock) Start(loopDuration float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loop = max(loopDuration, 0)
	c.anchor = c.now()
	c.anchored = true
	c.pos = 0
	c.running = true
}

// Restart re-anchors a new pass of the same loop at the current instant.
func (c *Clock) Restart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anchor = c.now()
	c.anchored = true
	c.pos = 0
	c.running = true
}

// Frame updates the position from the elapsed wall time and returns it.
// A paused or reset clock returns its position unchanged.
func (c *Clock) Frame() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running || !c.anchored {
		return c.pos
	}
	elapsed := c.now().Sub(c.anchor).Seconds()
	c.pos = min(max(elapsed, 0), c.loop)
	return c.pos
}

// Pause stops following frames and keeps the position.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
}

// Reset stops following frames, zeroes the position and drops the anchor.
func (c *Clock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	c.anchored = false
	c.anchor = time.Time{}
	c.pos = 0
}

func (c *Clock) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pos
}

// Fraction is the position as a share of the loop, in [0, 1].
func (c *Clock) Fraction() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loop <= 0 {
		return 0
	}
	return c.pos / c.loop
}

func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Clock) LoopDuration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loop
}

// Drive calls Frame every interval until ctx is done, passing each new
// position to onFrame when it is non-nil. It stands in for a display refresh
// callback in headless programs.
func Drive(ctx context.Context, c *Clock, interval time.Duration, onFrame func(pos float64)) error {
	if interval <= 0 {
		interval = time.Second / 60
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			pos := c.Frame()
			if onFrame != nil {
				onFrame(pos)
			}
		}
	}
}
