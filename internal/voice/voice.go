package voice

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/cbegin/orrery-go/internal/graph"
)

type Params struct {
	DiscreteLevel     float64 `yaml:"discrete_level"`
	SustainedLevel    float64 `yaml:"sustained_level"`
	ReferencePitch    int     `yaml:"reference_pitch"`
	CompensationSlope float64 `yaml:"compensation_slope"` // gain lost per semitone above ReferencePitch
	MinCompensation   float64 `yaml:"min_compensation"`
	DetuneCents       float64 `yaml:"detune_cents"` // sustained voices detune uniformly within ±DetuneCents
	ToneCutoff        float64 `yaml:"tone_cutoff"`  // Hz
	ToneQ             float64 `yaml:"tone_q"`
	DiscreteTimbre    string  `yaml:"discrete_timbre"`
	SustainedTimbre   string  `yaml:"sustained_timbre"`
}

func DefaultParams() Params {
	return Params{
		DiscreteLevel:     0.3,
		SustainedLevel:    0.14,
		ReferencePitch:    60,
		CompensationSlope: 0.012,
		MinCompensation:   0.4,
		DetuneCents:       4,
		ToneCutoff:        2400,
		ToneQ:             0.7,
		DiscreteTimbre:    "mallet",
		SustainedTimbre:   "pad",
	}
}

// Spec is what the factory needs to build one voice.
type Spec struct {
	Entity       string
	Pitch        int
	VelocityNorm float64
	Sustained    bool
	ReverbSend   float64
	Timbre       string
}

// Voice is one live note. It is never reused: every Start event produces a
// new Voice, and the strip's stop deadline is the only authority on when it
// is torn down.
type Voice struct {
	ID        uint64
	Entity    string
	Pitch     int
	Strip     *graph.Strip
	PeakLevel float64
	StartTime float64
	Sustained bool

	// Curve is the dense modulation curve for modulated sustained voices.
	Curve []float64
}

// Tone returns the voice's tone-shaping stage, if it has one.
func (v *Voice) Tone() (*graph.Lowpass, bool) { return v.Strip.Tone() }

func (v *Voice) String() string {
	kind := "note"
	if v.Sustained {
		kind = "pad"
	}
	return fmt.Sprintf("%s#%d(%s %d)", v.Entity, v.ID, kind, v.Pitch)
}

// Frequency converts a pitch number to Hz (A4 = 69 = 440 Hz).
func Frequency(pitch int) float64 {
	return 440 * math.Pow(2, float64(pitch-69)/12)
}

// PeakLevel scales the velocity by the per-kind base level and attenuates
// pitches above the reference linearly to keep perceived loudness even.
func PeakLevel(p Params, pitch int, velocityNorm float64, sustained bool) float64 {
	base := p.DiscreteLevel
	if sustained {
		base = p.SustainedLevel
	}
	comp := 1.0
	if over := pitch - p.ReferencePitch; over > 0 {
		comp = math.Max(p.MinCompensation, 1-float64(over)*p.CompensationSlope)
	}
	return base * clamp(velocityNorm, 0, 1) * comp
}

// Factory builds voices and wires them into the shared graph. It does not
// start oscillators or register voices.
type Factory struct {
	ctx    *graph.Context
	params Params

	mu     sync.Mutex
	rng    *rand.Rand
	nextID uint64
}

func NewFactory(ctx *graph.Context, params Params, seed int64) *Factory {
	return &Factory{ctx: ctx, params: params, rng: rand.New(rand.NewSource(seed))}
}

func (f *Factory) New(s Spec) (*Voice, error) {
	tag := s.Timbre
	if tag == "" {
		tag = f.params.DiscreteTimbre
		if s.Sustained {
			tag = f.params.SustainedTimbre
		}
	}
	wave, _ := graph.ParseWaveform(tag)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	var detune float64
	if s.Sustained && f.params.DetuneCents > 0 {
		detune = (f.rng.Float64()*2 - 1) * f.params.DetuneCents
	}
	f.mu.Unlock()

	bus := graph.BusNotes
	if s.Sustained {
		bus = graph.BusPads
	}
	send := clamp(s.ReverbSend, 0, 1)
	strip, err := f.ctx.NewStrip(graph.StripSpec{
		Frequency: Frequency(s.Pitch),
		Detune:    detune,
		Wave:      wave,
		Tone:      wave.Rich(),
		Cutoff:    f.params.ToneCutoff,
		Q:         f.params.ToneQ,
		Dry:       1 - send*0.5,
		Wet:       send,
		Bus:       bus,
	})
	if err != nil {
		return nil, err
	}
	if err := f.ctx.Attach(strip); err != nil {
		return nil, err
	}
	return &Voice{
		ID:        id,
		Entity:    s.Entity,
		Pitch:     s.Pitch,
		Strip:     strip,
		PeakLevel: PeakLevel(f.params, s.Pitch, s.VelocityNorm, s.Sustained),
		Sustained: s.Sustained,
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
