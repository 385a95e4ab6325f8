package voice

import (
	"math"
	"testing"

	"github.com/cbegin/orrery-go/internal/curve"
	"github.com/cbegin/orrery-go/internal/graph"
)

func newTestGraph(t *testing.T) *graph.Context {
	t.Helper()
	cfg := graph.DefaultConfig(8000)
	cfg.ReverbSeconds = 0.05
	cfg.ReverbBlock = 64
	ctx, err := graph.New(cfg)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if err := ctx.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	return ctx
}

func TestRegistryFIFOPerEntity(t *testing.T) {
	r := NewRegistry()
	a1 := &Voice{ID: 1, Entity: "a"}
	a2 := &Voice{ID: 2, Entity: "a"}
	b1 := &Voice{ID: 3, Entity: "b"}
	r.Add("a", a1)
	r.Add("b", b1)
	r.Add("a", a2)
	r.Add("a", a2) // duplicate ignored

	if r.Len() != 3 || r.Pending("a") != 2 {
		t.Fatalf("len=%d pending(a)=%d", r.Len(), r.Pending("a"))
	}
	if v, ok := r.TakeOldest("a"); !ok || v != a1 {
		t.Fatalf("first take = %v, want a1", v)
	}
	if v, ok := r.TakeOldest("a"); !ok || v != a2 {
		t.Fatalf("second take = %v, want a2", v)
	}
	if _, ok := r.TakeOldest("a"); ok {
		t.Fatalf("queue should be empty")
	}
	if _, ok := r.TakeOldest("nobody"); ok {
		t.Fatalf("unknown entity should yield nothing")
	}
	// popped voices stay active until their sound ends
	if r.Len() != 3 {
		t.Fatalf("active = %d, want 3", r.Len())
	}
	r.Remove(a1)
	r.Remove(a1)
	if got := r.Active(); len(got) != 2 || got[0] != a2 || got[1] != b1 {
		t.Fatalf("active = %v", got)
	}
	r.Clear()
	if r.Len() != 0 || r.Pending("b") != 0 {
		t.Fatalf("clear left state behind")
	}
}

func TestPeakLevelCompensatesHighPitches(t *testing.T) {
	p := DefaultParams()
	low := PeakLevel(p, 48, 1, false)
	ref := PeakLevel(p, 60, 1, false)
	high := PeakLevel(p, 84, 1, false)
	if low != ref || ref != p.DiscreteLevel {
		t.Fatalf("pitches at or below reference should not be attenuated: %v %v", low, ref)
	}
	if high >= ref {
		t.Fatalf("high pitch %v not attenuated below %v", high, ref)
	}
	floor := PeakLevel(p, 127, 1, false)
	if math.Abs(floor-p.DiscreteLevel*p.MinCompensation) > 1e-12 {
		t.Fatalf("compensation floor = %v", floor)
	}
	if pad := PeakLevel(p, 60, 1, true); pad != p.SustainedLevel {
		t.Fatalf("sustained base = %v", pad)
	}
	if half := PeakLevel(p, 60, 0.5, false); half != p.DiscreteLevel*0.5 {
		t.Fatalf("velocity scaling = %v", half)
	}
}

func TestFrequency(t *testing.T) {
	if Frequency(69) != 440 {
		t.Fatalf("A4 = %v", Frequency(69))
	}
	if math.Abs(Frequency(81)-880) > 1e-9 {
		t.Fatalf("A5 = %v", Frequency(81))
	}
}

func TestFactoryWiresVoices(t *testing.T) {
	ctx := newTestGraph(t)
	f := NewFactory(ctx, DefaultParams(), 7)

	note, err := f.New(Spec{Entity: "x", Pitch: 60, VelocityNorm: 1, ReverbSend: 0.4})
	if err != nil {
		t.Fatal(err)
	}
	if note.Strip.Bus() != graph.BusNotes {
		t.Fatalf("note on %v bus", note.Strip.Bus())
	}
	if note.Strip.Osc.Wave != graph.WaveTriangle {
		t.Fatalf("default discrete wave = %v", note.Strip.Osc.Wave)
	}
	if _, ok := note.Tone(); !ok {
		t.Fatalf("triangle voice should have a tone stage")
	}
	if d := note.Strip.Osc.Detune.ValueAt(0); d != 0 {
		t.Fatalf("discrete voice detuned by %v", d)
	}
	if w := note.Strip.Wet.Gain.ValueAt(0); w != 0.4 {
		t.Fatalf("wet send = %v", w)
	}

	pad, err := f.New(Spec{Entity: "y", Pitch: 48, VelocityNorm: 0.5, Sustained: true, ReverbSend: 0.3})
	if err != nil {
		t.Fatal(err)
	}
	if pad.Strip.Bus() != graph.BusPads {
		t.Fatalf("pad on %v bus", pad.Strip.Bus())
	}
	if d := pad.Strip.Osc.Detune.ValueAt(0); d == 0 || math.Abs(d) > DefaultParams().DetuneCents {
		t.Fatalf("pad detune = %v", d)
	}
	if w := pad.Strip.Wet.Gain.ValueAt(0); w != 0.3 {
		t.Fatalf("pads should also send to reverb, got %v", w)
	}

	sine, err := f.New(Spec{Entity: "z", Pitch: 72, VelocityNorm: 1, Timbre: "sine"})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := sine.Tone(); ok {
		t.Fatalf("sine voice should not have a tone stage")
	}
	if note.ID == pad.ID || pad.ID == sine.ID {
		t.Fatalf("voice IDs must be unique")
	}
	if ctx.Attached() != 3 {
		t.Fatalf("attached = %d", ctx.Attached())
	}
	if note.Strip.Osc.Ended() || note.Strip.Osc.StopTime() != math.Inf(1) {
		t.Fatalf("factory must not schedule the oscillator")
	}
}

func TestDiscreteEnvelope(t *testing.T) {
	ctx := newTestGraph(t)
	env := NewEnvelopes(ctx, DefaultEnvelopeParams())
	v, _ := NewFactory(ctx, DefaultParams(), 1).New(Spec{Entity: "x", Pitch: 60, VelocityNorm: 1})
	env.ApplyStart(v, 1, StartOptions{})
	g := v.Strip.Amp.Gain
	if g.ValueAt(1) != 0 {
		t.Fatalf("attack should start at 0")
	}
	if got := g.ValueAt(1.01); math.Abs(got-v.PeakLevel) > 1e-12 {
		t.Fatalf("peak after attack = %v, want %v", got, v.PeakLevel)
	}
	if v.StartTime != 1 {
		t.Fatalf("start time = %v", v.StartTime)
	}
}

func TestSustainedSteadyEnvelope(t *testing.T) {
	ctx := newTestGraph(t)
	p := DefaultEnvelopeParams()
	env := NewEnvelopes(ctx, p)
	v, _ := NewFactory(ctx, DefaultParams(), 1).New(Spec{Entity: "x", Pitch: 48, VelocityNorm: 1, Sustained: true})
	env.ApplyStart(v, 0, StartOptions{Modulation: []curve.Point{{T: 0, Level: 1}}, LoopDuration: 10})
	g := v.Strip.Amp.Gain
	if got := g.ValueAt(0); got != p.Silence {
		t.Fatalf("start = %v, want silence floor", got)
	}
	if got := g.ValueAt(p.SustainedAttack); math.Abs(got-v.PeakLevel) > 1e-12 {
		t.Fatalf("after attack = %v, want peak", got)
	}
	if got := g.ValueAt(9); math.Abs(got-v.PeakLevel) > 1e-12 {
		t.Fatalf("drone should hold its peak, got %v", got)
	}
	if v.Curve != nil {
		t.Fatalf("steady drone should not build a curve")
	}
}

func TestModulatedEnvelopeFollowsLoopCurve(t *testing.T) {
	ctx := newTestGraph(t)
	p := DefaultEnvelopeParams()
	env := NewEnvelopes(ctx, p)
	v, _ := NewFactory(ctx, DefaultParams(), 1).New(Spec{Entity: "gas", Pitch: 48, VelocityNorm: 1, Sustained: true})
	pts := []curve.Point{{T: 0, Level: 0.2}, {T: 5, Level: 0.9}, {T: 10, Level: 0.3}}
	const start = 2.0
	env.ApplyStart(v, start, StartOptions{Modulation: pts, ShapeFactor: 0.5, LoopDuration: 10})

	if len(v.Curve) != 200 {
		t.Fatalf("curve samples = %d, want loop-long curve of 200", len(v.Curve))
	}
	depth := env.Depth(0.5)
	low := v.PeakLevel * (1 - depth)
	g := v.Strip.Amp.Gain

	if got := g.ValueAt(start + p.SustainedAttack); math.Abs(got-v.Curve[0]) > 1e-12 {
		t.Fatalf("attack target = %v, want first curve sample %v", got, v.Curve[0])
	}
	if math.Abs(v.Curve[0]-low) > 1e-9 {
		t.Fatalf("curve start = %v, want %v", v.Curve[0], low)
	}
	mid := g.ValueAt(start + 5)
	end := g.ValueAt(start + 10)
	if mid <= g.ValueAt(start+1) || mid <= end {
		t.Fatalf("expected rise toward midpoint then fall: mid=%v end=%v", mid, end)
	}
	if mid >= v.PeakLevel {
		t.Fatalf("modulated level %v reached the nominal peak", mid)
	}
	wantEnd := low + (0.1/0.7)*(v.PeakLevel-low)
	if math.Abs(end-wantEnd) > 1e-9 {
		t.Fatalf("loop end level = %v, want %v", end, wantEnd)
	}
	if got := g.ValueAt(start + 30); math.Abs(got-wantEnd) > 1e-9 {
		t.Fatalf("level after loop end = %v, want curve end held", got)
	}
}

func TestDepthHasFloor(t *testing.T) {
	env := NewEnvelopes(nil, DefaultEnvelopeParams())
	if d := env.Depth(0); d != 0.25 {
		t.Fatalf("depth(0) = %v", d)
	}
	if env.Depth(0.8) <= env.Depth(0.2) {
		t.Fatalf("depth should grow with shape factor")
	}
	if d := env.Depth(100); d != 0.9 {
		t.Fatalf("depth should cap, got %v", d)
	}
}

func TestStopEnvelopeReleasesAndSchedulesStop(t *testing.T) {
	ctx := newTestGraph(t)
	p := DefaultEnvelopeParams()
	env := NewEnvelopes(ctx, p)
	f := NewFactory(ctx, DefaultParams(), 1)
	for _, sustained := range []bool{false, true} {
		v, _ := f.New(Spec{Entity: "x", Pitch: 60, VelocityNorm: 1, Sustained: sustained})
		if err := ctx.Start(v.Strip, 0); err != nil {
			t.Fatal(err)
		}
		env.ApplyStart(v, 0, StartOptions{})
		const stopAt = 1.0
		if err := env.ApplyStop(v, stopAt); err != nil {
			t.Fatalf("stop: %v", err)
		}
		g := v.Strip.Amp.Gain
		if got := g.ValueAt(stopAt); got <= 0 {
			t.Fatalf("release must not jump to silence, got %v", got)
		}
		release := env.Release(sustained)
		if got := g.ValueAt(stopAt + release); got >= g.ValueAt(stopAt) {
			t.Fatalf("release did not decay: %v", got)
		}
		deadline := v.Strip.Osc.StopTime()
		if want := stopAt + release*6 + p.StopMargin; math.Abs(deadline-want) > 1e-12 {
			t.Fatalf("stop deadline = %v, want %v", deadline, want)
		}
		if residual := g.ValueAt(deadline); residual > v.PeakLevel*0.01 {
			t.Fatalf("decay not negligible at deadline: %v", residual)
		}
	}
	if env.Release(true) <= env.Release(false) {
		t.Fatalf("sustained voices should release slower")
	}
}

func TestStopAfterNaturalEndIsBenign(t *testing.T) {
	ctx := newTestGraph(t)
	env := NewEnvelopes(ctx, DefaultEnvelopeParams())
	v, _ := NewFactory(ctx, DefaultParams(), 1).New(Spec{Entity: "x", Pitch: 60, VelocityNorm: 1})
	_ = ctx.Start(v.Strip, 0)
	env.ApplyStart(v, 0, StartOptions{})
	_ = env.ApplyStop(v, 0)
	buf := make([]float32, 2*8000)
	ctx.Process(buf)
	if !v.Strip.Osc.Ended() {
		t.Fatalf("oscillator should have ended")
	}
	if err := env.ApplyStop(v, 1); err != nil {
		t.Fatalf("stop on ended voice should be swallowed, got %v", err)
	}
	if err := env.Silence(v, 1, 0.3); err != nil {
		t.Fatalf("silence on ended voice should be swallowed, got %v", err)
	}
}
