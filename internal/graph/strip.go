package graph

// Bus selects one of the two persistent summing buses.
type Bus int

const (
	// BusNotes carries discrete notes.
	BusNotes Bus = iota
	// BusPads carries sustained drones.
	BusPads
)

func (b Bus) String() string {
	if b == BusPads {
		return "pads"
	}
	return "notes"
}

// StripSpec describes one voice chain:
// oscillator -> amp -> [tone] -> {dry -> bus, wet -> reverb}.
type StripSpec struct {
	Frequency float64
	Detune    float64 // cents
	Wave      Waveform
	// Tone enables the lowpass stage; Cutoff and Q configure it.
	Tone   bool
	Cutoff float64
	Q      float64
	Dry    float64
	Wet    float64
	Bus    Bus
}

// Strip owns the nodes of one voice. It is attached to the graph once and
// detached automatically when its oscillator ends.
type Strip struct {
	Osc *Oscillator
	Amp *Gain
	Dry *Gain
	Wet *Gain

	tone     Shaper
	bus      Bus
	attached bool
	onEnded  func()
}

// Tone returns the tone-shaping stage when the strip has one.
func (s *Strip) Tone() (*Lowpass, bool) {
	lp, ok := s.tone.(*Lowpass)
	return lp, ok
}

// Bus reports which bus the dry path feeds.
func (s *Strip) Bus() Bus { return s.bus }

// OnEnded registers a callback run once, outside the graph lock, after the
// oscillator passes its stop deadline and the strip has been detached.
func (s *Strip) OnEnded(f func()) { s.onEnded = f }

func (s *Strip) render(t, sampleRate float64) (dry, wet float64) {
	x := s.Osc.next(t, sampleRate)
	if x == 0 && s.tone == nil {
		return 0, 0
	}
	x *= s.Amp.Gain.ValueAt(t)
	if s.tone != nil {
		x = s.tone.Shape(x, t)
	}
	return x * s.Dry.Gain.ValueAt(t), x * s.Wet.Gain.ValueAt(t)
}
