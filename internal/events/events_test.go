package events

import (
	"errors"
	"math"
	"strings"
	"testing"
)

const sampleEvents = `[
  {"t": 0, "type": "note_on", "planet": "Terra", "midi": 60, "vel": 90, "instrument": "mallet", "reverb": 0.2},
  {"t": 0.3, "type": "note_off", "planet": "Terra"},
  {"t": 0, "type": "note_on", "planet": "Jove", "midi": 48, "vel": 70, "instrument": "pad",
   "continuous": true, "eccentricity": 0.5,
   "velocityEnvelope": [{"t": 0, "velocity": 0.2}, {"t": 5, "velocity": 0.9}]},
  {"t": 1, "type": "note_on", "planet": "Broken"},
  {"t": 2, "type": "wobble", "planet": "Terra"},
  {"t": 10, "type": "note_off", "planet": "Jove"}
]`

func TestDecodeWireEvents(t *testing.T) {
	var skipped []error
	evs, err := Decode(strings.NewReader(sampleEvents), func(err error) { skipped = append(skipped, err) })
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(evs) != 4 {
		t.Fatalf("decoded %d events, want 4", len(evs))
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped %d events, want 2", len(skipped))
	}
	if !errors.Is(skipped[0], ErrMissingPitch) {
		t.Fatalf("first skip = %v, want ErrMissingPitch", skipped[0])
	}
	if !errors.Is(skipped[1], ErrUnknownKind) {
		t.Fatalf("second skip = %v, want ErrUnknownKind", skipped[1])
	}

	terra, ok := evs[0].(Start)
	if !ok || terra.Pitch != 60 || terra.Velocity != 90 || terra.Timbre != "mallet" || terra.ReverbSend != 0.2 {
		t.Fatalf("unexpected first event %+v", evs[0])
	}
	if _, ok := evs[1].(Stop); !ok {
		t.Fatalf("second event should be a Stop, got %T", evs[1])
	}
	jove := evs[2].(Start)
	if !jove.Sustained || len(jove.Modulation) != 2 || jove.ShapeFactor != 0.5 {
		t.Fatalf("unexpected pad event %+v", jove)
	}
	if want := EccentricityToReverb(0.5); jove.ReverbSend != want {
		t.Fatalf("reverb from eccentricity = %v, want %v", jove.ReverbSend, want)
	}

	quiet := `[
	  {"t": 0, "type": "note_on", "planet": "Mute", "midi": 60, "vel": 0},
	  {"t": 0, "type": "note_on", "planet": "Plain", "midi": 60}
	]`
	evs, err = Decode(strings.NewReader(quiet), nil)
	if err != nil || len(evs) != 2 {
		t.Fatalf("decode = %v, %v", evs, err)
	}
	if mute := evs[0].(Start); !mute.HasVelocity || mute.VelocityNorm() != 0 {
		t.Fatalf("explicit zero velocity decoded as %+v (norm %v)", mute, mute.VelocityNorm())
	}
	if plain := evs[1].(Start); plain.HasVelocity || plain.VelocityNorm() != DefaultVelocity/127.0 {
		t.Fatalf("absent velocity decoded as %+v (norm %v)", plain, plain.VelocityNorm())
	}
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	if _, err := Decode(strings.NewReader("{"), nil); err == nil {
		t.Fatalf("expected error")
	}
}

func TestDecodeBatchResponse(t *testing.T) {
	body := `{"samples": [{"t":0},{"t":0.5},{"t":1.0},{"t":1.5}], "events": ` + sampleEvents + `, "meta": {"dtSec": 0.5}}`
	b, err := DecodeBatch(strings.NewReader(body), 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.LoopDuration != 2 {
		t.Fatalf("loop duration = %v, want 2", b.LoopDuration)
	}
	if len(b.Events) != 4 {
		t.Fatalf("events = %d", len(b.Events))
	}
	b, err = DecodeBatch(strings.NewReader(body), 30, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.LoopDuration != 30 {
		t.Fatalf("loop duration = %v, want requested minimum 30", b.LoopDuration)
	}
}

func TestDecodeBatchBareArray(t *testing.T) {
	b, err := DecodeBatch(strings.NewReader("  "+sampleEvents), 4, nil)
	if err != nil {
		t.Fatal(err)
	}
	if b.LoopDuration != 10 {
		t.Fatalf("loop duration = %v, want latest offset 10", b.LoopDuration)
	}
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		ev   Event
		want error
	}{
		{"ok start", Start{At: 1, EntityID: "a", Pitch: 60}, nil},
		{"ok stop", Stop{At: 0, EntityID: "a"}, nil},
		{"no entity", Stop{At: 0}, ErrMissingEntity},
		{"negative", Start{At: -1, EntityID: "a", Pitch: 60}, ErrNegativeOffset},
		{"nan", Stop{At: math.NaN(), EntityID: "a"}, ErrNegativeOffset},
		{"pitch", Start{EntityID: "a", Pitch: 200}, ErrPitchRange},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.ev)
			if tc.want == nil && err != nil || tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("Validate = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestVelocityNorm(t *testing.T) {
	for _, tc := range []struct {
		name string
		ev   Start
		want float64
	}{
		{"absent", Start{}, DefaultVelocity / 127.0},
		{"absent ignores stored value", Start{Velocity: 5}, DefaultVelocity / 127.0},
		{"explicit zero", Start{Velocity: 0, HasVelocity: true}, 0},
		{"max", Start{Velocity: 127, HasVelocity: true}, 1},
		{"above range", Start{Velocity: 300, HasVelocity: true}, 1},
		{"below range", Start{Velocity: -4, HasVelocity: true}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ev.VelocityNorm(); got != tc.want {
				t.Fatalf("VelocityNorm = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSortStableKeepsInputOrderAtEqualOffsets(t *testing.T) {
	in := []Event{
		Stop{At: 1, EntityID: "b"},
		Start{At: 0, EntityID: "x", Pitch: 1},
		Start{At: 0, EntityID: "y", Pitch: 2},
		Stop{At: 1, EntityID: "a"},
	}
	out := SortStable(in)
	want := []string{"x", "y", "b", "a"}
	for i, ev := range out {
		if ev.Entity() != want[i] {
			t.Fatalf("order %d = %s, want %s", i, ev.Entity(), want[i])
		}
	}
	if in[0].Entity() != "b" {
		t.Fatalf("input mutated")
	}
}

func TestLoopDuration(t *testing.T) {
	if got := LoopDuration(100, 0.1, 5); math.Abs(got-10) > 1e-9 {
		t.Fatalf("LoopDuration = %v, want 10", got)
	}
	if got := LoopDuration(10, 0.1, 5); got != 5 {
		t.Fatalf("LoopDuration = %v, want 5", got)
	}
}

func TestCheckLoopDuration(t *testing.T) {
	for _, tc := range []struct {
		d  float64
		ok bool
	}{
		{10, true},
		{0.001, true},
		{0, false},
		{-1, false},
		{math.NaN(), false},
		{math.Inf(1), false},
	} {
		err := CheckLoopDuration(tc.d)
		if tc.ok != (err == nil) || !tc.ok && !errors.Is(err, ErrLoopDuration) {
			t.Fatalf("CheckLoopDuration(%v) = %v", tc.d, err)
		}
	}
}
