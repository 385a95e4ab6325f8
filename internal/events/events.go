// Package events defines the timed instructions consumed by the scheduler
// and decodes them from the backend's JSON payloads.
package events

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/cbegin/orrery-go/internal/curve"
)

// DefaultVelocity is used when a Start carries no velocity.
const DefaultVelocity = 100

var (
	ErrMissingPitch   = errors.New("start event without pitch")
	ErrPitchRange     = errors.New("pitch outside 0..127")
	ErrMissingEntity  = errors.New("event without entity")
	ErrNegativeOffset = errors.New("negative event offset")
	ErrUnknownKind    = errors.New("unknown event type")
	ErrLoopDuration   = errors.New("loop duration must be positive and finite")
)

// Event is either a Start or a Stop.
type Event interface {
	Offset() float64
	Entity() string
	isEvent()
}

// Start begins one voice for an entity.
type Start struct {
	At       float64
	EntityID string
	Pitch    int
	// Velocity is 0..127 and applies only when HasVelocity is set;
	// otherwise the note plays at DefaultVelocity.
	Velocity    int
	HasVelocity bool
	Timbre      string
	ReverbSend  float64
	Sustained   bool
	Modulation  []curve.Point
	ShapeFactor float64
}

// Stop releases the oldest open voice of an entity.
type Stop struct {
	At       float64
	EntityID string
}

func (s Start) Offset() float64 { return s.At }
func (s Start) Entity() string   { return s.EntityID }
func (Start) isEvent()           {}

func (s Stop) Offset() float64 { return s.At }
func (s Stop) Entity() string   { return s.EntityID }
func (Stop) isEvent()           {}

// VelocityNorm maps the velocity into [0, 1].
func (s Start) VelocityNorm() float64 {
	v := DefaultVelocity
	if s.HasVelocity {
		v = s.Velocity
	}
	return math.Min(math.Max(float64(v), 0), 127) / 127
}

// Validate reports why an event cannot be scheduled.
func Validate(ev Event) error {
	if ev.Entity() == "" {
		return ErrMissingEntity
	}
	if ev.Offset() < 0 || math.IsNaN(ev.Offset()) {
		return ErrNegativeOffset
	}
	if s, ok := ev.(Start); ok && (s.Pitch < 0 || s.Pitch > 127) {
		return fmt.Errorf("%w: %d", ErrPitchRange, s.Pitch)
	}
	return nil
}

// SortStable orders events by offset, keeping input order for equal offsets.
func SortStable(evs []Event) []Event {
	out := make([]Event, len(evs))
	copy(out, evs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset() < out[j].Offset() })
	return out
}

// LoopDuration is max(sampleCount*interval, minimum).
func LoopDuration(sampleCount int, interval, minimum float64) float64 {
	return math.Max(float64(sampleCount)*interval, minimum)
}

// CheckLoopDuration rejects loop lengths that would restart playback
// immediately or never.
func CheckLoopDuration(d float64) error {
	if !(d > 0) || math.IsInf(d, 1) {
		return fmt.Errorf("%w, got %v", ErrLoopDuration, d)
	}
	return nil
}

// EccentricityToReverb maps orbital eccentricity onto a reverb send:
// circular orbits stay dry, elongated ones get wetter.
func EccentricityToReverb(e float64) float64 {
	const lo, hi = 0.1, 0.8
	e = math.Min(math.Max(e, 0), 1)
	return lo + e*(hi-lo)
}

// Batch is one loop's worth of events.
type Batch struct {
	Events       []Event
	LoopDuration float64
}

// Span is the latest event offset in the batch.
func (b Batch) Span() float64 {
	var m float64
	for _, ev := range b.Events {
		m = math.Max(m, ev.Offset())
	}
	return m
}
