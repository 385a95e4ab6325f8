package graph

import (
	"math"
	"sort"
)

type automationKind int

const (
	setValue automationKind = iota
	linearRamp
	setTarget
)

type automation struct {
	kind     automationKind
	time     float64
	value    float64 // set/ramp value, or target for setTarget
	constant float64 // time constant for setTarget
	start    float64 // value just before time; filled by settle
}

// Param is a sample-accurate automatable value driven by the audio clock.
// Events are kept sorted by time; events sharing a time keep insertion order.
// A Param is only touched with the owning Context's lock held.
type Param struct {
	def    float64
	events []automation
	dirty  bool
}

func newParam(v float64) *Param {
	return &Param{def: v}
}

func (p *Param) insert(a automation) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > a.time })
	p.events = append(p.events, automation{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = a
	p.dirty = true
}

// SetValueAtTime jumps to v at time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.insert(automation{kind: setValue, time: t, value: v})
}

// LinearRampToValueAtTime ramps linearly from the previous event's value so
// that the param reaches v exactly at t.
func (p *Param) LinearRampToValueAtTime(v, t float64) {
	p.insert(automation{kind: linearRamp, time: t, value: v})
}

// SetTargetAtTime starts an exponential approach toward target at t with the
// given time constant.
func (p *Param) SetTargetAtTime(target, t, timeConstant float64) {
	if timeConstant <= 0 {
		p.SetValueAtTime(target, t)
		return
	}
	p.insert(automation{kind: setTarget, time: t, value: target, constant: timeConstant})
}

// CancelScheduledValues drops every event at or after t.
func (p *Param) CancelScheduledValues(t float64) {
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time >= t })
	if i < len(p.events) {
		p.events = p.events[:i]
		p.dirty = true
	}
}

// Set replaces the whole schedule with a constant.
func (p *Param) Set(v float64) {
	p.def = v
	p.events = p.events[:0]
	p.dirty = false
}

// Events reports how many automation events are pending.
func (p *Param) Events() int { return len(p.events) }

// ValueAt evaluates the schedule at time t.
func (p *Param) ValueAt(t float64) float64 {
	if len(p.events) == 0 {
		return p.def
	}
	p.settle()
	// last event with time <= t
	i := sort.Search(len(p.events), func(i int) bool { return p.events[i].time > t }) - 1
	if i < 0 {
		return p.def
	}
	return p.valueFrom(i, t)
}

// valueFrom evaluates the segment that starts at event i, for t >= events[i].time.
func (p *Param) valueFrom(i int, t float64) float64 {
	e := p.events[i]
	if i+1 < len(p.events) {
		next := p.events[i+1]
		if next.kind == linearRamp {
			from := p.endValue(i)
			if next.time <= e.time {
				return next.value
			}
			return from + (next.value-from)*(t-e.time)/(next.time-e.time)
		}
	}
	switch e.kind {
	case setTarget:
		return e.value + (e.start-e.value)*math.Exp(-(t-e.time)/e.constant)
	default:
		return e.value
	}
}

// endValue is the value right at events[i].time.
func (p *Param) endValue(i int) float64 {
	e := p.events[i]
	if e.kind == setTarget {
		return e.start
	}
	return e.value
}

func (p *Param) settle() {
	if !p.dirty {
		return
	}
	prev := p.def
	for i := range p.events {
		e := &p.events[i]
		if i > 0 && e.kind == setTarget {
			prev = p.valueFrom(i-1, e.time)
		} else if i > 0 {
			prev = p.endValue(i - 1)
		}
		e.start = prev
	}
	p.dirty = false
}
