package orrery

import (
	"fmt"
	"io"
	"sync"
	"time"

	intaudio "github.com/cbegin/orrery-go/internal/audio"
	"github.com/cbegin/orrery-go/internal/config"
	"github.com/cbegin/orrery-go/internal/curve"
	"github.com/cbegin/orrery-go/internal/events"
	"github.com/cbegin/orrery-go/internal/graph"
	"github.com/cbegin/orrery-go/internal/playhead"
	"github.com/cbegin/orrery-go/internal/scheduler"
	"github.com/cbegin/orrery-go/internal/timer"
)

type (
	Event           = events.Event
	Start           = events.Start
	Stop            = events.Stop
	Batch           = events.Batch
	ModulationPoint = curve.Point
	EngineConfig    = config.Engine

	// TimerSource schedules the end-of-loop and blink callbacks.
	TimerSource = timer.Source
	TimerHandle = timer.Handle
)

// PlaybackEvent carries playback and blink events from Watch().
type PlaybackEvent struct {
	Kind   int    // EventLoopCompleted, EventPlaybackEnded, EventBlink or EventAudioUnavailable
	Entity string // EventBlink
	Loop   int    // EventLoopCompleted: passes completed so far
	Err    error  // EventAudioUnavailable
}

// ErrLoopDuration is returned by Play for a non-empty batch whose loop
// duration is not positive.
var ErrLoopDuration = events.ErrLoopDuration

const (
	EventLoopCompleted int = iota
	EventPlaybackEnded
	EventBlink
	EventAudioUnavailable
)

type PlayerOption func(*playerConfig)

type playerConfig struct {
	engine       config.Engine
	loopPlayback bool
	sampleTap    func([]float32)
	timers       timer.Source
	device       bool
	seed         *int64
	logf         func(format string, args ...any)
}

func defaultPlayerConfig() playerConfig {
	return playerConfig{
		engine:       config.Default(),
		loopPlayback: true,
		timers:       timer.Wall{},
		device:       true,
	}
}

func WithLoopPlayback(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.loopPlayback = enabled
	}
}

// WithSampleTap installs a callback invoked with each generated stereo buffer.
// The callback runs on the audio thread; keep work brief and non-blocking.
func WithSampleTap(tap func([]float32)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.sampleTap = tap
	}
}

// WithEngineConfig replaces the default engine tuning.
func WithEngineConfig(e EngineConfig) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.engine = e
	}
}

// WithTimerSource replaces wall-clock timers, e.g. with one driven by the
// audio clock for offline rendering.
func WithTimerSource(src TimerSource) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.timers = src
	}
}

// WithDeviceOutput controls whether the graph is streamed to the sound
// device. Without it the caller pulls audio itself.
func WithDeviceOutput(enabled bool) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.device = enabled
	}
}

// WithSeed overrides the engine config's detune seed.
func WithSeed(seed int64) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.seed = &seed
	}
}

func WithLogf(logf func(format string, args ...any)) PlayerOption {
	return func(cfg *playerConfig) {
		cfg.logf = logf
	}
}

// Player plays one batch of events at a time, restarting it at each loop
// boundary while looping is enabled. The audio graph and the sound device
// are opened on the first non-empty Play.
type Player struct {
	mu      sync.Mutex
	cfg     playerConfig
	lazy    *graph.Lazy
	sched   *scheduler.Scheduler
	clock   *playhead.Clock
	out     *intaudio.Output
	batch   Batch
	run     uint64
	playing bool
	loops   int
	volume  float64
	eq      []float64
	done    chan struct{}

	eventCh   chan PlaybackEvent
	eventChMu sync.Mutex
}

func NewPlayer(opts ...PlayerOption) (*Player, error) {
	cfg := defaultPlayerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.seed != nil {
		cfg.engine.Playback.Seed = *cfg.seed
	}
	if err := cfg.engine.Validate(); err != nil {
		return nil, err
	}
	graphCfg := cfg.engine.Graph
	p := &Player{
		cfg:    cfg,
		lazy:   graph.NewLazy(func() (*graph.Context, error) { return graph.New(graphCfg) }),
		clock:  playhead.New(nil),
		volume: 1,
	}
	pb := cfg.engine.Playback
	p.sched = scheduler.New(p.lazy, cfg.timers,
		scheduler.WithVoiceParams(cfg.engine.Voice),
		scheduler.WithEnvelopeParams(cfg.engine.Envelope),
		scheduler.WithSeed(pb.Seed),
		scheduler.WithFades(pb.HardStop, pb.StopFade),
		scheduler.WithLogf(cfg.logf),
		scheduler.WithOnDegraded(func(err error) {
			p.sendEvent(PlaybackEvent{Kind: EventAudioUnavailable, Err: err})
		}),
	)
	return p, nil
}

// DecodeBatch reads backend events or a compute response, using the
// player's minimum loop length. Malformed events are skipped and logged.
func (p *Player) DecodeBatch(r io.Reader) (Batch, error) {
	return events.DecodeBatch(r, p.cfg.engine.Playback.MinLoopSeconds, func(err error) {
		p.logf("orrery: skipping event: %v", err)
	})
}

func (p *Player) SampleRate() int { return p.cfg.engine.Graph.SampleRate }

// Play replaces whatever is playing with b. Playback restarts at each loop
// boundary while looping is enabled; otherwise it ends after one pass. An
// empty batch ends immediately. A non-empty batch needs a positive loop
// duration; otherwise Play fails and the current playback continues.
func (p *Player) Play(b Batch) error {
	if len(b.Events) > 0 {
		if err := events.CheckLoopDuration(b.LoopDuration); err != nil {
			return fmt.Errorf("orrery: %w", err)
		}
	}
	p.mu.Lock()
	// Signal any existing Wait() that the previous playback was replaced
	if p.done != nil {
		close(p.done)
	}
	p.done = make(chan struct{})
	p.run++
	p.batch = b
	p.loops = 0

	if len(b.Events) == 0 {
		p.playing = false
		p.sched.StopAll()
		p.clock.Reset()
		done := p.done
		p.done = nil
		p.mu.Unlock()
		p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
		close(done)
		return nil
	}

	ctx, err := p.lazy.Get()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("orrery: audio graph: %w", err)
	}
	p.applyMix(ctx)
	unavailable := p.ensureOutput(ctx)
	p.playing = true
	err = p.startLocked(p.run)
	p.mu.Unlock()

	if unavailable != nil {
		p.sendEvent(PlaybackEvent{Kind: EventAudioUnavailable, Err: unavailable})
	}
	return err
}

// startLocked schedules the current batch and re-anchors the playhead.
// p.mu must be held.
func (p *Player) startLocked(run uint64) error {
	b := p.batch
	p.clock.Start(b.LoopDuration)
	return p.sched.Play(b.Events, b.LoopDuration, p.blink, func() { p.loopDone(run) })
}

func (p *Player) loopDone(run uint64) {
	p.mu.Lock()
	if run != p.run || !p.playing {
		p.mu.Unlock()
		return
	}
	p.loops++
	n := p.loops
	if p.cfg.loopPlayback {
		err := p.startLocked(run)
		p.mu.Unlock()
		p.sendEvent(PlaybackEvent{Kind: EventLoopCompleted, Loop: n})
		if err != nil {
			p.logf("orrery: restart loop: %v", err)
		}
		return
	}
	p.playing = false
	p.clock.Pause()
	done := p.done
	p.done = nil
	p.mu.Unlock()
	p.sendEvent(PlaybackEvent{Kind: EventLoopCompleted, Loop: n})
	p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	if done != nil {
		close(done)
	}
}

func (p *Player) blink(entity string) {
	p.sendEvent(PlaybackEvent{Kind: EventBlink, Entity: entity})
}

// ensureOutput opens the sound device once per session. A device that cannot
// be opened leaves playback silent rather than failing it. p.mu must be held.
func (p *Player) ensureOutput(ctx *graph.Context) error {
	if !p.cfg.device || p.out != nil {
		return nil
	}
	buffer := time.Duration(p.cfg.engine.Playback.BufferMillis) * time.Millisecond
	out, err := intaudio.Open(ctx.SampleRate(), ctx, p.cfg.sampleTap, buffer)
	if err != nil {
		p.logf("orrery: audio output unavailable: %v", err)
		return err
	}
	p.out = out
	p.out.Start()
	return nil
}

// applyMix pushes the stored volume and EQ gains into the graph. p.mu must
// be held.
func (p *Player) applyMix(ctx *graph.Context) {
	level := p.cfg.engine.Graph.MasterGain * p.volume
	ctx.Automate(func() { ctx.Master().Gain.Set(level) })
	for band, g := range p.eq {
		ctx.EQ().SetGain(band, g)
	}
}

func (p *Player) sendEvent(ev PlaybackEvent) {
	p.eventChMu.Lock()
	ch := p.eventCh
	p.eventChMu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
			// Channel full or closed; drop event
		}
	}
}

func (p *Player) logf(format string, args ...any) {
	if p.cfg.logf != nil {
		p.cfg.logf(format, args...)
	}
}

// Pause fades out the sounding batch and freezes the playhead where it is.
// Play starts the batch over.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run++
	p.playing = false
	p.sched.StopAll()
	p.clock.Pause()
}

// Reset is Pause with the playhead returned to zero.
func (p *Player) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.run++
	p.playing = false
	p.sched.StopAll()
	p.clock.Reset()
}

// Stop ends playback, closes the sound device and releases Wait.
func (p *Player) Stop() error {
	p.mu.Lock()
	p.run++
	p.playing = false
	p.sched.StopAll()
	p.clock.Reset()
	var err error
	if p.out != nil {
		err = p.out.Close()
		p.out = nil
	}
	done := p.done
	p.done = nil
	p.mu.Unlock()
	p.sendEvent(PlaybackEvent{Kind: EventPlaybackEnded})
	if done != nil {
		close(done)
	}
	return err
}

// Wait blocks until the current playback ends. When loop playback is enabled,
// Wait blocks until Stop or another Play (use Watch for loop-counting instead).
// Wait returns immediately if no playback is active.
func (p *Player) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Watch returns a channel that receives playback events. Events are sent when:
//   - EventLoopCompleted: a loop pass finished (Loop counts passes)
//   - EventPlaybackEnded: playback finished, was stopped or got an empty batch
//   - EventBlink: a discrete note of Entity began
//   - EventAudioUnavailable: the sound device or graph could not run (Err set)
//
// The channel is buffered (cap 32); receive in a goroutine to avoid drops.
// Only the most recent Watch() channel receives events; call Watch before Play.
func (p *Player) Watch() <-chan PlaybackEvent {
	ch := make(chan PlaybackEvent, 32)
	p.eventChMu.Lock()
	p.eventCh = ch
	p.eventChMu.Unlock()
	return ch
}

// Frame advances the playhead to the current instant and returns its
// position in seconds. Call it once per display refresh.
func (p *Player) Frame() float64 { return p.clock.Frame() }

// Position is the playhead position as of the last Frame.
func (p *Player) Position() float64 { return p.clock.Position() }

// Progress is the playhead position as a share of the loop.
func (p *Player) Progress() float64 { return p.clock.Fraction() }

// Playhead exposes the clock for callers that drive it themselves.
func (p *Player) Playhead() *playhead.Clock { return p.clock }

// Degraded reports whether the last Play found the audio graph unusable.
func (p *Player) Degraded() bool { return p.sched.Status() == scheduler.StatusDegraded }

// Voices reports how many voices are still sounding.
func (p *Player) Voices() int { return len(p.sched.Active()) }

// SetMasterVolume sets runtime volume scalar. 1.0 is default.
func (p *Player) SetMasterVolume(volume float64) {
	if volume < 0 {
		volume = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = volume
	if ctx := p.lazy.Peek(); ctx != nil {
		p.applyMix(ctx)
	}
}

func (p *Player) MasterVolume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SetEQBand sets the gain for a master EQ band. 1.0 = unity.
// Bands split at the configured crossovers, lowest first.
func (p *Player) SetEQBand(band int, gain float64) {
	if band < 0 || band > len(p.cfg.engine.Graph.EQCrossovers) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.eq) <= band {
		p.eq = append(p.eq, 1)
	}
	p.eq[band] = gain
	if ctx := p.lazy.Peek(); ctx != nil {
		ctx.EQ().SetGain(band, gain)
	}
}

// EQBand returns the current gain for a master EQ band.
func (p *Player) EQBand(band int) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if band < 0 || band >= len(p.eq) {
		return 1
	}
	return p.eq[band]
}
