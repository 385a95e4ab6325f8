package scheduler

import (
	"fmt"
	"sync"

	"github.com/cbegin/orrery-go/internal/events"
	"github.com/cbegin/orrery-go/internal/graph"
	"github.com/cbegin/orrery-go/internal/timer"
	"github.com/cbegin/orrery-go/internal/voice"
)

// Status is the scheduler's externally observable state.
type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	// StatusDegraded means the audio graph could not be resumed. Batches are
	// accepted and timed but produce no sound.
	StatusDegraded
)

func (s Status) String() string {
	switch s {
	case StatusPlaying:
		return "playing"
	case StatusDegraded:
		return "degraded"
	}
	return "idle"
}

const (
	// DefaultHardStop is the fade applied to the previous batch when Play is
	// called again.
	DefaultHardStop = 0.01
	// DefaultStopFade is the fade used by StopAll.
	DefaultStopFade = 0.3
)

type Option func(*options)

type options struct {
	voice      voice.Params
	envelope   voice.EnvelopeParams
	seed       int64
	hardStop   float64
	stopFade   float64
	logf       func(format string, args ...any)
	onDegraded func(error)
}

func defaultOptions() options {
	return options{
		voice:    voice.DefaultParams(),
		envelope: voice.DefaultEnvelopeParams(),
		seed:     1,
		hardStop: DefaultHardStop,
		stopFade: DefaultStopFade,
	}
}

func WithVoiceParams(p voice.Params) Option {
	return func(o *options) { o.voice = p }
}

func WithEnvelopeParams(p voice.EnvelopeParams) Option {
	return func(o *options) { o.envelope = p }
}

// WithSeed seeds the detune randomizer.
func WithSeed(seed int64) Option {
	return func(o *options) { o.seed = seed }
}

// WithFades overrides the teardown fade lengths in seconds.
func WithFades(hardStop, stopFade float64) Option {
	return func(o *options) {
		o.hardStop = hardStop
		o.stopFade = stopFade
	}
}

// WithLogf installs a logger for skipped events and degraded audio.
func WithLogf(logf func(format string, args ...any)) Option {
	return func(o *options) { o.logf = logf }
}

// WithOnDegraded installs a callback run, outside any scheduler lock, each
// time Play finds the audio graph unusable.
func WithOnDegraded(f func(error)) Option {
	return func(o *options) { o.onDegraded = f }
}

// Scheduler turns event batches into voices on the shared graph. One
// Scheduler owns one voice registry; the graph itself is built on the first
// non-empty Play and reused afterwards.
type Scheduler struct {
	lazy *graph.Lazy
	opts options

	mu      sync.Mutex
	ctx     *graph.Context
	factory *voice.Factory
	env     *voice.Envelopes
	reg     *voice.Registry
	blinks  *timer.Group
	loop    *timer.OneShot
	status  Status
}

func New(lazy *graph.Lazy, src timer.Source, opts ...Option) *Scheduler {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Scheduler{
		lazy:   lazy,
		opts:   cfg,
		reg:    voice.NewRegistry(),
		blinks: timer.NewGroup(src),
		loop:   timer.NewOneShot(src),
	}
}

// Play tears down whatever is sounding and schedules evs relative to the
// current audio clock. onBlink fires for each discrete note as it begins;
// onDone fires once loopDuration seconds have passed. An empty batch calls
// onDone immediately and builds nothing.
//
// Play fails when a non-empty batch has no positive loop duration or when
// the audio graph cannot be constructed; the previous batch keeps playing.
// Malformed events are skipped and unmatched stops are ignored. An unusable
// graph leaves the scheduler in StatusDegraded.
func (s *Scheduler) Play(evs []events.Event, loopDuration float64, onBlink func(string), onDone func()) error {
	if len(evs) == 0 {
		if onDone != nil {
			onDone()
		}
		return nil
	}
	if err := events.CheckLoopDuration(loopDuration); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	ctx, err := s.lazy.Get()
	if err != nil {
		return fmt.Errorf("scheduler: audio graph: %w", err)
	}

	s.mu.Lock()
	s.bind(ctx)
	resumeErr := ctx.Resume()
	now := ctx.CurrentTime()
	s.teardown(now, s.opts.hardStop)

	if resumeErr != nil {
		s.status = StatusDegraded
	} else {
		s.status = StatusPlaying
		s.schedule(ctx, now, events.SortStable(evs), loopDuration, onBlink)
	}
	s.loop.Arm(timer.Seconds(loopDuration), func() {
		s.mu.Lock()
		if s.status == StatusPlaying {
			s.status = StatusIdle
		}
		s.mu.Unlock()
		if onDone != nil {
			onDone()
		}
	})
	s.mu.Unlock()

	if resumeErr != nil {
		s.degraded(resumeErr)
	}
	return nil
}

func (s *Scheduler) bind(ctx *graph.Context) {
	if s.ctx == ctx {
		return
	}
	s.ctx = ctx
	s.factory = voice.NewFactory(ctx, s.opts.voice, s.opts.seed)
	s.env = voice.NewEnvelopes(ctx, s.opts.envelope)
}

func (s *Scheduler) schedule(ctx *graph.Context, now float64, evs []events.Event, loopDuration float64, onBlink func(string)) {
	for _, ev := range evs {
		if err := events.Validate(ev); err != nil {
			s.logf("scheduler: skipping event for %q: %v", ev.Entity(), err)
			continue
		}
		at := now + ev.Offset()
		switch ev := ev.(type) {
		case events.Start:
			s.start(ctx, ev, at, loopDuration, onBlink)
		case events.Stop:
			v, ok := s.reg.TakeOldest(ev.EntityID)
			if !ok {
				continue
			}
			if err := s.env.ApplyStop(v, at); err != nil {
				s.logf("scheduler: stop %v: %v", v, err)
			}
		}
	}
}

func (s *Scheduler) start(ctx *graph.Context, ev events.Start, at, loopDuration float64, onBlink func(string)) {
	v, err := s.factory.New(voice.Spec{
		Entity:       ev.EntityID,
		Pitch:        ev.Pitch,
		VelocityNorm: ev.VelocityNorm(),
		Sustained:    ev.Sustained,
		ReverbSend:   ev.ReverbSend,
		Timbre:       ev.Timbre,
	})
	if err != nil {
		s.logf("scheduler: voice for %q: %v", ev.EntityID, err)
		return
	}
	reg := s.reg
	v.Strip.OnEnded(func() { reg.Remove(v) })
	s.env.ApplyStart(v, at, voice.StartOptions{
		Modulation:   ev.Modulation,
		ShapeFactor:  ev.ShapeFactor,
		LoopDuration: loopDuration,
		LoopOffset:   ev.At,
	})
	if err := ctx.Start(v.Strip, at); err != nil {
		s.logf("scheduler: start %v: %v", v, err)
		return
	}
	reg.Add(ev.EntityID, v)

	if !ev.Sustained && onBlink != nil {
		entity := ev.EntityID
		s.blinks.After(timer.Seconds(ev.At), func() { onBlink(entity) })
	}
}

// StopAll fades every sounding voice out over the stop fade, clears the
// registry and cancels all pending timers. It is safe to call at any time.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := 0.0
	if s.ctx != nil {
		now = s.ctx.CurrentTime()
	}
	s.teardown(now, s.opts.stopFade)
	if s.status != StatusDegraded {
		s.status = StatusIdle
	}
}

// teardown must be called with s.mu held.
func (s *Scheduler) teardown(now, fade float64) {
	s.loop.Cancel()
	s.blinks.CancelAll()
	if s.env != nil {
		for _, v := range s.reg.Active() {
			if err := s.env.Silence(v, now, fade); err != nil {
				s.logf("scheduler: silence %v: %v", v, err)
			}
		}
	}
	s.reg.Clear()
}

func (s *Scheduler) degraded(err error) {
	err = fmt.Errorf("scheduler: audio unavailable: %w", err)
	s.logf("%v", err)
	if s.opts.onDegraded != nil {
		s.opts.onDegraded(err)
	}
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Active lists the voices still sounding, including released ones whose
// tails have not finished.
func (s *Scheduler) Active() []*voice.Voice { return s.reg.Active() }

// Pending reports how many of the entity's starts have no stop yet.
func (s *Scheduler) Pending(entity string) int { return s.reg.Pending(entity) }

// LoopArmed reports whether the end-of-loop timer is pending.
func (s *Scheduler) LoopArmed() bool { return s.loop.Armed() }

func (s *Scheduler) logf(format string, args ...any) {
	if s.opts.logf != nil {
		s.opts.logf(format, args...)
	}
}
