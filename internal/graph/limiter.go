package graph

import "math"

// Limiter is a feed-forward peak limiter with an envelope follower. Signal
// above threshold is compressed by ratio; the output is hard-clipped to
// [-1, 1] as a last resort.
type Limiter struct {
	threshold float64
	ratio     float64
	attack    float64 // coefficient
	release   float64 // coefficient
	env       float64
}

// NewLimiter creates a limiter.
// thresholdDB: threshold in dB (e.g., -3)
// ratio: compression ratio above threshold (e.g., 20)
// attackSec, releaseSec: envelope follower time constants
func NewLimiter(sampleRate int, thresholdDB, ratio, attackSec, releaseSec float64) *Limiter {
	sr := float64(sampleRate)
	if ratio < 1 {
		ratio = 1
	}
	return &Limiter{
		threshold: math.Pow(10, thresholdDB/20),
		ratio:     ratio,
		attack:    1.0 - math.Exp(-1.0/(math.Max(attackSec, 1e-5)*sr)),
		release:   1.0 - math.Exp(-1.0/(math.Max(releaseSec, 1e-5)*sr)),
	}
}

func (l *Limiter) Process(x float64) float64 {
	a := math.Abs(x)
	if a > l.env {
		l.env += l.attack * (a - l.env)
	} else {
		l.env += l.release * (a - l.env)
	}
	y := x * l.gain()
	if y > 1 {
		return 1
	}
	if y < -1 {
		return -1
	}
	return y
}

// Reduction reports the current gain factor (1 = no reduction).
func (l *Limiter) Reduction() float64 { return l.gain() }

func (l *Limiter) gain() float64 {
	if l.env <= l.threshold || l.threshold <= 0 {
		return 1.0
	}
	over := l.env / l.threshold
	return math.Pow(over, 1.0/l.ratio-1)
}

func (l *Limiter) Reset() { l.env = 0 }
