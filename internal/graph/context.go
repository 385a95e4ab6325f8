package graph

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
)

// State is the lifecycle state of a Context.
type State int

const (
	// StateSuspended renders silence and does not advance the clock.
	StateSuspended State = iota
	StateRunning
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosed:
		return "closed"
	}
	return "suspended"
}

// Config shapes the shared graph. It is fixed at construction.
type Config struct {
	SampleRate int     `yaml:"sample_rate"`
	MasterGain float64 `yaml:"master_gain"`
	NotesGain  float64 `yaml:"notes_gain"`
	PadsGain   float64 `yaml:"pads_gain"`

	ReverbSeconds float64 `yaml:"reverb_seconds"`
	ReverbDecay   float64 `yaml:"reverb_decay"`
	ReverbReturn  float64 `yaml:"reverb_return"`
	ReverbBlock   int     `yaml:"reverb_block"`
	ReverbSeed    int64   `yaml:"reverb_seed"`

	LimiterThresholdDB float64 `yaml:"limiter_threshold_db"`
	LimiterRatio       float64 `yaml:"limiter_ratio"`
	LimiterAttack      float64 `yaml:"limiter_attack"`
	LimiterRelease     float64 `yaml:"limiter_release"`

	// EQCrossovers are the ascending band edges of the master EQ in Hz.
	EQCrossovers []float64 `yaml:"eq_crossovers"`
}

// DefaultConfig returns the graph settings used when none are given.
func DefaultConfig(sampleRate int) Config {
	return Config{
		SampleRate:         sampleRate,
		MasterGain:         0.8,
		NotesGain:          1,
		PadsGain:           1,
		ReverbSeconds:      2.5,
		ReverbDecay:        3,
		ReverbReturn:       0.5,
		ReverbBlock:        1024,
		ReverbSeed:         1,
		LimiterThresholdDB: -3,
		LimiterRatio:       20,
		LimiterAttack:      0.003,
		LimiterRelease:     0.25,
		EQCrossovers:       crossoversBelow(float64(sampleRate) / 2),
	}
}

func crossoversBelow(nyquist float64) []float64 {
	var out []float64
	for _, f := range DefaultCrossovers {
		if f < nyquist {
			out = append(out, f)
		}
	}
	return out
}

// Context is the shared audio graph of one session: one output, a master
// gain feeding an equalizer and a limiter, two summing buses and a
// convolution reverb with its own return gain. The topology never changes
// after New; only voice strips are attached and detached.
//
// The audio clock advances only while the context is running, by exactly
// the number of frames pulled through Process.
type Context struct {
	mu         sync.Mutex
	sampleRate float64
	frame      int64
	state      State

	master *Gain
	buses  [2]*Gain
	ret    *Gain
	reverb *Convolver
	eq     *BandEQ
	lim    *Limiter

	strips []*Strip
	ended  []func()
}

// New builds the graph. It fails only when the configuration cannot produce
// a working graph.
func New(cfg Config) (*Context, error) {
	if cfg.SampleRate <= 0 {
		return nil, errors.New("graph: sample rate must be positive")
	}
	for i, f := range cfg.EQCrossovers {
		if f <= 0 || f >= float64(cfg.SampleRate)/2 || i > 0 && f <= cfg.EQCrossovers[i-1] {
			return nil, fmt.Errorf("graph: eq crossovers must ascend within (0, %d) Hz", cfg.SampleRate/2)
		}
	}
	block := cfg.ReverbBlock
	if block <= 0 {
		block = 1024
	}
	// round up to a power of two
	block = 1 << bits.Len(uint(block-1))
	ir := SyntheticImpulse(cfg.SampleRate, cfg.ReverbSeconds, cfg.ReverbDecay, cfg.ReverbSeed)
	rev, err := NewConvolver(ir, block)
	if err != nil {
		return nil, fmt.Errorf("graph: reverb: %w", err)
	}
	return &Context{
		sampleRate: float64(cfg.SampleRate),
		master:     newGain(cfg.MasterGain),
		buses:      [2]*Gain{newGain(cfg.NotesGain), newGain(cfg.PadsGain)},
		ret:        newGain(cfg.ReverbReturn),
		reverb:     rev,
		eq:         NewBandEQ(cfg.SampleRate, cfg.EQCrossovers),
		lim:        NewLimiter(cfg.SampleRate, cfg.LimiterThresholdDB, cfg.LimiterRatio, cfg.LimiterAttack, cfg.LimiterRelease),
	}, nil
}

// SampleRate reports the rendering rate in Hz.
func (c *Context) SampleRate() int { return int(c.sampleRate) }

// CurrentTime is the audio clock in seconds.
func (c *Context) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return float64(c.frame) / c.sampleRate
}

func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Resume starts the audio clock. Resuming a running context is a no-op.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateRunning
	return nil
}

func (c *Context) Suspend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	c.state = StateSuspended
	return nil
}

// Close detaches every strip and stops rendering for good.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateClosed
	c.strips = nil
	c.ended = nil
	return nil
}

// NewStrip builds an unattached voice chain.
func (c *Context) NewStrip(spec StripSpec) (*Strip, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil, ErrClosed
	}
	osc := newOscillator(spec.Frequency, spec.Wave)
	osc.Detune.def = spec.Detune
	s := &Strip{
		Osc: osc,
		Amp: newGain(0),
		Dry: newGain(spec.Dry),
		Wet: newGain(spec.Wet),
		bus: spec.Bus,
	}
	if spec.Tone {
		s.tone = newLowpass(c.sampleRate, spec.Cutoff, spec.Q)
	}
	return s, nil
}

// Attach connects a strip's dry path to its bus and its wet path to the
// reverb. Attaching twice is a no-op.
func (c *Context) Attach(s *Strip) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	if s.attached {
		return nil
	}
	s.attached = true
	c.strips = append(c.strips, s)
	return nil
}

// Start schedules the strip's oscillator to begin at audio time t.
func (c *Context) Start(s *Strip, t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	return s.Osc.start(t)
}

// Stop sets the oscillator's hard stop deadline. It fails with
// ErrInvalidState once the oscillator has ended.
func (c *Context) Stop(s *Strip, t float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return ErrClosed
	}
	return s.Osc.stop(t)
}

// Automate runs f with the graph locked. All Param edits go through here.
func (c *Context) Automate(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f()
}

// Master is the master gain. Edit it through Automate.
func (c *Context) Master() *Gain { return c.master }

// EQ is the master equalizer. Its gains may be changed at any time.
func (c *Context) EQ() *BandEQ { return c.eq }

// Attached reports how many strips are currently connected.
func (c *Context) Attached() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.strips)
}

// Process renders interleaved stereo frames into dst. A suspended or closed
// context writes silence and leaves the clock untouched.
func (c *Context) Process(dst []float32) {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	for i := 0; i+1 < len(dst); i += 2 {
		v := float32(c.renderFrame())
		dst[i], dst[i+1] = v, v
	}
	ended := c.ended
	c.ended = nil
	c.mu.Unlock()

	for _, f := range ended {
		f()
	}
}

func (c *Context) renderFrame() float64 {
	t := float64(c.frame) / c.sampleRate
	var bus [2]float64
	var send float64
	live := c.strips[:0]
	for _, s := range c.strips {
		if t >= s.Osc.stopTime {
			s.Osc.state = oscEnded
			s.attached = false
			if s.onEnded != nil {
				c.ended = append(c.ended, s.onEnded)
			}
			continue
		}
		dry, wet := s.render(t, c.sampleRate)
		bus[s.bus] += dry
		send += wet
		live = append(live, s)
	}
	for i := len(live); i < len(c.strips); i++ {
		c.strips[i] = nil
	}
	c.strips = live

	mix := bus[BusNotes]*c.buses[BusNotes].Gain.ValueAt(t) +
		bus[BusPads]*c.buses[BusPads].Gain.ValueAt(t) +
		c.reverb.Process(send)*c.ret.Gain.ValueAt(t)
	c.frame++
	return c.lim.Process(c.eq.Process(mix * c.master.Gain.ValueAt(t)))
}
