package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cbegin/orrery-go/internal/graph"
	"github.com/cbegin/orrery-go/internal/scheduler"
	"github.com/cbegin/orrery-go/internal/voice"
)

const DefaultSampleRate = 48000

// Playback holds session-level settings that are not part of the graph.
type Playback struct {
	MinLoopSeconds float64 `yaml:"min_loop_seconds"`
	HardStop       float64 `yaml:"hard_stop"` // fade applied to the previous batch on replay, seconds
	StopFade       float64 `yaml:"stop_fade"` // fade applied by stop, seconds
	BufferMillis   int     `yaml:"buffer_ms"` // device buffer, 0 keeps the driver default
	Seed           int64   `yaml:"seed"`
}

// Engine is the full tuning of one engine session.
type Engine struct {
	Graph    graph.Config         `yaml:"graph"`
	Voice    voice.Params         `yaml:"voice"`
	Envelope voice.EnvelopeParams `yaml:"envelope"`
	Playback Playback             `yaml:"playback"`
}

func Default() Engine {
	return Engine{
		Graph:    graph.DefaultConfig(DefaultSampleRate),
		Voice:    voice.DefaultParams(),
		Envelope: voice.DefaultEnvelopeParams(),
		Playback: Playback{
			MinLoopSeconds: 10,
			HardStop:       scheduler.DefaultHardStop,
			StopFade:       scheduler.DefaultStopFade,
			BufferMillis:   50,
			Seed:           1,
		},
	}
}

// Load reads a YAML file over the defaults; keys missing from the file keep
// their default values. The result is validated.
func Load(path string) (Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Engine{}, fmt.Errorf("can't read config: %w", err)
	}
	return Parse(data)
}

// Parse is Load for an in-memory document.
func Parse(data []byte) (Engine, error) {
	e := Default()
	if err := yaml.Unmarshal(data, &e); err != nil {
		return Engine{}, fmt.Errorf("unmarshalling: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Engine{}, err
	}
	return e, nil
}

// Validate reports every setting that would make the engine misbehave.
func (e Engine) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	g, v, env, pb := e.Graph, e.Voice, e.Envelope, e.Playback

	check(g.SampleRate > 0, "graph.sample_rate must be positive, got %d", g.SampleRate)
	check(g.MasterGain >= 0, "graph.master_gain must not be negative")
	check(g.ReverbSeconds >= 0, "graph.reverb_seconds must not be negative")
	check(g.ReverbBlock > 0, "graph.reverb_block must be positive, got %d", g.ReverbBlock)
	check(g.LimiterRatio >= 1, "graph.limiter_ratio must be at least 1, got %v", g.LimiterRatio)
	check(g.LimiterAttack > 0 && g.LimiterRelease > 0, "graph.limiter_attack and limiter_release must be positive")

	check(v.DiscreteLevel >= 0 && v.DiscreteLevel <= 1, "voice.discrete_level must be in [0,1], got %v", v.DiscreteLevel)
	check(v.SustainedLevel >= 0 && v.SustainedLevel <= 1, "voice.sustained_level must be in [0,1], got %v", v.SustainedLevel)
	check(v.MinCompensation > 0 && v.MinCompensation <= 1, "voice.min_compensation must be in (0,1], got %v", v.MinCompensation)
	check(v.DetuneCents >= 0, "voice.detune_cents must not be negative")
	check(v.ToneCutoff > 0, "voice.tone_cutoff must be positive")

	check(env.DiscreteAttack > 0 && env.SustainedAttack > 0, "envelope attacks must be positive")
	check(env.DiscreteRelease > 0 && env.SustainedRelease > 0, "envelope releases must be positive")
	check(env.Silence > 0, "envelope.silence must be positive, got %v", env.Silence)
	check(env.StopMargin >= 0, "envelope.stop_margin must not be negative")
	check(env.ModulationStep > 0, "envelope.modulation_step must be positive")
	check(env.CurveRate > 0, "envelope.curve_rate must be positive")
	check(env.MinDepth >= 0 && env.MinDepth <= env.MaxDepth && env.MaxDepth <= 1,
		"envelope depths need 0 <= min_depth <= max_depth <= 1, got %v..%v", env.MinDepth, env.MaxDepth)

	check(pb.MinLoopSeconds > 0, "playback.min_loop_seconds must be positive, got %v", pb.MinLoopSeconds)
	check(pb.HardStop >= 0 && pb.StopFade >= 0, "playback fades must not be negative")
	check(pb.BufferMillis >= 0, "playback.buffer_ms must not be negative")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
