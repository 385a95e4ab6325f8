package voice

import (
	"errors"
	"math"

	"github.com/cbegin/orrery-go/internal/curve"
	"github.com/cbegin/orrery-go/internal/graph"
)

type EnvelopeParams struct {
	DiscreteAttack   float64 `yaml:"discrete_attack"`  // seconds
	SustainedAttack  float64 `yaml:"sustained_attack"` // seconds
	Silence          float64 `yaml:"silence"`          // near-zero floor for ramps and releases
	DiscreteRelease  float64 `yaml:"discrete_release"` // release time constant, seconds
	SustainedRelease float64 `yaml:"sustained_release"`
	StopMargin       float64 `yaml:"stop_margin"`     // added after six release constants
	ModulationStep   float64 `yaml:"modulation_step"` // spacing of modulation set-points, seconds
	CurveRate        float64 `yaml:"curve_rate"`      // dense curve samples per second
	MinDepth         float64 `yaml:"min_depth"`
	DepthPerShape    float64 `yaml:"depth_per_shape"`
	MaxDepth         float64 `yaml:"max_depth"`
}

func DefaultEnvelopeParams() EnvelopeParams {
	return EnvelopeParams{
		DiscreteAttack:   0.01,
		SustainedAttack:  0.8,
		Silence:          curve.Floor,
		DiscreteRelease:  0.12,
		SustainedRelease: 0.6,
		StopMargin:       0.05,
		ModulationStep:   0.05,
		CurveRate:        20,
		MinDepth:         0.25,
		DepthPerShape:    0.6,
		MaxDepth:         0.9,
	}
}

// StartOptions carries the modulation inputs of a sustained voice. The
// modulation curve spans the whole loop, so LoopOffset locates the voice's
// start inside it.
type StartOptions struct {
	Modulation   []curve.Point
	ShapeFactor  float64
	LoopDuration float64
	LoopOffset   float64
}

// Envelopes drives voice amplitudes on the audio clock.
type Envelopes struct {
	ctx *graph.Context
	p   EnvelopeParams
}

func NewEnvelopes(ctx *graph.Context, p EnvelopeParams) *Envelopes {
	return &Envelopes{ctx: ctx, p: p}
}

// Depth maps a shape factor (orbital eccentricity) to a modulation depth in
// [MinDepth, MaxDepth].
func (e *Envelopes) Depth(shape float64) float64 {
	return clamp(e.p.MinDepth+math.Max(shape, 0)*e.p.DepthPerShape, e.p.MinDepth, e.p.MaxDepth)
}

// Release is the release time constant for the voice kind.
func (e *Envelopes) Release(sustained bool) float64 {
	if sustained {
		return e.p.SustainedRelease
	}
	return e.p.DiscreteRelease
}

// StopDeadline is when the oscillator is hard-stopped after a release
// starting at stopTime.
func (e *Envelopes) StopDeadline(v *Voice, stopTime float64) float64 {
	return stopTime + e.Release(v.Sustained)*6 + e.p.StopMargin
}

// ApplyStart schedules the attack (and, for modulated drones, the whole
// loop's amplitude course) beginning at startTime.
func (e *Envelopes) ApplyStart(v *Voice, startTime float64, o StartOptions) {
	v.StartTime = startTime
	peak := v.PeakLevel
	gain := v.Strip.Amp.Gain

	if !v.Sustained {
		e.ctx.Automate(func() {
			gain.SetValueAtTime(0, startTime)
			gain.LinearRampToValueAtTime(peak, startTime+e.p.DiscreteAttack)
		})
		return
	}

	attackEnd := startTime + e.p.SustainedAttack
	if len(o.Modulation) < 2 || o.LoopDuration <= 0 {
		e.ctx.Automate(func() {
			gain.SetValueAtTime(e.p.Silence, startTime)
			gain.LinearRampToValueAtTime(peak, attackEnd)
		})
		return
	}

	depth := e.Depth(o.ShapeFactor)
	loop := o.LoopDuration
	c := curve.Build(o.Modulation, loop, peak*(1-depth), peak, e.p.CurveRate)
	v.Curve = c
	loopStart := startTime - o.LoopOffset
	first := o.LoopOffset + e.p.SustainedAttack

	e.ctx.Automate(func() {
		gain.SetValueAtTime(e.p.Silence, startTime)
		gain.LinearRampToValueAtTime(c[0], attackEnd)
		if first >= loop || e.p.ModulationStep <= 0 {
			return
		}
		for k := 1; ; k++ {
			t := first + float64(k)*e.p.ModulationStep
			if t >= loop {
				break
			}
			gain.SetValueAtTime(curve.At(c, loop, t), loopStart+t)
		}
		gain.SetValueAtTime(c[len(c)-1], loopStart+loop)
	})
}

// ApplyStop cancels automation from stopTime on, decays toward silence with
// the kind's release constant and sets the oscillator's hard stop once the
// decay is negligible. An oscillator that already ended is left alone.
func (e *Envelopes) ApplyStop(v *Voice, stopTime float64) error {
	gain := v.Strip.Amp.Gain
	release := e.Release(v.Sustained)
	e.ctx.Automate(func() {
		cur := gain.ValueAt(stopTime)
		gain.CancelScheduledValues(stopTime)
		gain.SetValueAtTime(cur, stopTime)
		gain.SetTargetAtTime(e.p.Silence, stopTime, release)
	})
	return e.stop(v, e.StopDeadline(v, stopTime))
}

// Silence fades v linearly to zero over fade seconds from now and stops it
// at the end of the fade.
func (e *Envelopes) Silence(v *Voice, now, fade float64) error {
	gain := v.Strip.Amp.Gain
	e.ctx.Automate(func() {
		cur := gain.ValueAt(now)
		gain.CancelScheduledValues(now)
		gain.SetValueAtTime(cur, now)
		gain.LinearRampToValueAtTime(0, now+fade)
	})
	return e.stop(v, now+fade)
}

func (e *Envelopes) stop(v *Voice, deadline float64) error {
	err := e.ctx.Stop(v.Strip, deadline)
	if errors.Is(err, graph.ErrInvalidState) || errors.Is(err, graph.ErrClosed) {
		// already ended, or the graph is gone
		return nil
	}
	return err
}
