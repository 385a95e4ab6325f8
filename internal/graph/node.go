package graph

import (
	"errors"
	"math"
	"strings"
)

const twoPi = 2 * math.Pi

var (
	// ErrInvalidState is returned when an oscillator is started twice or
	// stopped after it has already ended.
	ErrInvalidState = errors.New("graph: invalid node state")
	// ErrClosed is returned by operations on a closed Context.
	ErrClosed = errors.New("graph: context closed")
)

type Waveform int

const (
	WaveSine Waveform = iota
	WaveTriangle
	WaveSawtooth
	WaveSquare
)

// ParseWaveform maps a timbre tag onto a waveform family. Unknown or empty
// tags return ok=false.
func ParseWaveform(tag string) (Waveform, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "sine":
		return WaveSine, true
	case "triangle", "mallet":
		return WaveTriangle, true
	case "sawtooth", "saw", "pad":
		return WaveSawtooth, true
	case "square":
		return WaveSquare, true
	}
	return WaveSine, false
}

// Rich reports whether the waveform carries enough upper harmonics to need a
// tone-shaping stage.
func (w Waveform) Rich() bool { return w != WaveSine }

func (w Waveform) String() string {
	switch w {
	case WaveTriangle:
		return "triangle"
	case WaveSawtooth:
		return "sawtooth"
	case WaveSquare:
		return "square"
	}
	return "sine"
}

func (w Waveform) sample(phase float64) float64 {
	switch w {
	case WaveTriangle:
		return 2.0*math.Abs(2.0*phase/twoPi-1.0) - 1.0
	case WaveSawtooth:
		return 1.0 - 2.0*phase/twoPi
	case WaveSquare:
		if phase < math.Pi {
			return 1.0
		}
		return -1.0
	default:
		return math.Sin(phase)
	}
}

type oscState int

const (
	oscIdle oscState = iota
	oscScheduled
	oscEnded
)

// Oscillator is a one-shot periodic source. It may be started once and
// stopped any number of times until it ends; the latest stop wins.
type Oscillator struct {
	Frequency *Param
	// Detune is in cents.
	Detune *Param
	Wave   Waveform

	state     oscState
	phase     float64
	startTime float64
	stopTime  float64 // +Inf until stopped
}

func newOscillator(freq float64, wave Waveform) *Oscillator {
	return &Oscillator{
		Frequency: newParam(freq),
		Detune:    newParam(0),
		Wave:      wave,
		stopTime:  math.Inf(1),
	}
}

func (o *Oscillator) start(t float64) error {
	if o.state != oscIdle {
		return ErrInvalidState
	}
	o.state = oscScheduled
	o.startTime = t
	return nil
}

func (o *Oscillator) stop(t float64) error {
	if o.state != oscScheduled {
		return ErrInvalidState
	}
	o.stopTime = t
	return nil
}

// StopTime reports the scheduled stop deadline, +Inf when none.
func (o *Oscillator) StopTime() float64 { return o.stopTime }

// StartTime reports the scheduled start time.
func (o *Oscillator) StartTime() float64 { return o.startTime }

// Ended reports whether the oscillator passed its stop deadline.
func (o *Oscillator) Ended() bool { return o.state == oscEnded }

func (o *Oscillator) next(t, sampleRate float64) float64 {
	if o.state != oscScheduled || t < o.startTime {
		return 0
	}
	s := o.Wave.sample(o.phase)
	f := o.Frequency.ValueAt(t)
	if d := o.Detune.ValueAt(t); d != 0 {
		f *= math.Pow(2, d/1200)
	}
	o.phase += twoPi * f / sampleRate
	for o.phase >= twoPi {
		o.phase -= twoPi
	}
	return s
}

// Gain scales its input by an automatable factor.
type Gain struct {
	Gain *Param
}

func newGain(v float64) *Gain {
	return &Gain{Gain: newParam(v)}
}

// Shaper is an optional per-voice tone-shaping stage.
type Shaper interface {
	Shape(x, t float64) float64
}

// Lowpass is a two-pole resonant lowpass (RBJ biquad) with an automatable
// cutoff.
type Lowpass struct {
	Cutoff *Param
	Q      float64

	sampleRate     float64
	lastCutoff     float64
	b0, b1, b2     float64
	a1, a2         float64
	x1, x2, y1, y2 float64
}

func newLowpass(sampleRate, cutoff, q float64) *Lowpass {
	if q <= 0 {
		q = math.Sqrt2 / 2
	}
	return &Lowpass{Cutoff: newParam(cutoff), Q: q, sampleRate: sampleRate}
}

func (f *Lowpass) Shape(x, t float64) float64 {
	fc := f.Cutoff.ValueAt(t)
	if fc != f.lastCutoff {
		f.design(fc)
	}
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

func (f *Lowpass) design(fc float64) {
	f.lastCutoff = fc
	nyq := f.sampleRate / 2
	if fc < 10 {
		fc = 10
	}
	if fc > nyq*0.99 {
		fc = nyq * 0.99
	}
	w0 := twoPi * fc / f.sampleRate
	alpha := math.Sin(w0) / (2 * f.Q)
	cos := math.Cos(w0)
	a0 := 1 + alpha
	f.b0 = (1 - cos) / 2 / a0
	f.b1 = (1 - cos) / a0
	f.b2 = f.b0
	f.a1 = -2 * cos / a0
	f.a2 = (1 - alpha) / a0
}
