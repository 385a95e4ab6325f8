package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cbegin/orrery-go/internal/curve"
)

type wireEvent struct {
	T            *float64       `json:"t"`
	Type         string         `json:"type"`
	Planet       string         `json:"planet"`
	Midi         *int           `json:"midi"`
	Vel          *int           `json:"vel"`
	Instrument   string         `json:"instrument"`
	Reverb       *float64       `json:"reverb"`
	Continuous   bool           `json:"continuous"`
	Envelope     []wireEnvPoint `json:"velocityEnvelope"`
	Eccentricity *float64       `json:"eccentricity"`
}

type wireEnvPoint struct {
	T        float64 `json:"t"`
	Velocity float64 `json:"velocity"`
}

type wireResponse struct {
	Samples []json.RawMessage `json:"samples"`
	Events  []wireEvent       `json:"events"`
	Meta    struct {
		DtSec float64 `json:"dtSec"`
	} `json:"meta"`
}

// Decode reads a JSON array of backend events. Malformed events are skipped
// and passed to report (which may be nil); only unreadable JSON is an error.
func Decode(r io.Reader, report func(error)) ([]Event, error) {
	var wire []wireEvent
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return convert(wire, report), nil
}

// DecodeBatch reads either a compute response ({samples, events, meta}) or
// a bare event array. The loop lasts max(len(samples)*dtSec, minDuration)
// for a response, and max(latest offset, minDuration) for a bare array.
func DecodeBatch(r io.Reader, minDuration float64, report func(error)) (Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Batch{}, fmt.Errorf("read events: %w", err)
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		evs, err := Decode(bytes.NewReader(data), report)
		if err != nil {
			return Batch{}, err
		}
		b := Batch{Events: evs}
		b.LoopDuration = LoopDuration(1, b.Span(), minDuration)
		return b, nil
	}
	var resp wireResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Batch{}, fmt.Errorf("decode response: %w", err)
	}
	return Batch{
		Events:       convert(resp.Events, report),
		LoopDuration: LoopDuration(len(resp.Samples), resp.Meta.DtSec, minDuration),
	}, nil
}

func convert(wire []wireEvent, report func(error)) []Event {
	out := make([]Event, 0, len(wire))
	for i, w := range wire {
		ev, err := w.event()
		if err == nil {
			err = Validate(ev)
		}
		if err != nil {
			if report != nil {
				report(fmt.Errorf("event %d (%s %q): %w", i, w.Type, w.Planet, err))
			}
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (w wireEvent) event() (Event, error) {
	var at float64
	if w.T != nil {
		at = *w.T
	}
	switch w.Type {
	case "note_off":
		return Stop{At: at, EntityID: w.Planet}, nil
	case "note_on":
	default:
		return nil, ErrUnknownKind
	}
	if w.Midi == nil {
		return nil, ErrMissingPitch
	}
	s := Start{
		At:        at,
		EntityID:  w.Planet,
		Pitch:     *w.Midi,
		Timbre:    w.Instrument,
		Sustained: w.Continuous,
	}
	if w.Vel != nil {
		s.Velocity, s.HasVelocity = *w.Vel, true
	}
	if w.Eccentricity != nil {
		s.ShapeFactor = *w.Eccentricity
	}
	switch {
	case w.Reverb != nil:
		s.ReverbSend = *w.Reverb
	case w.Eccentricity != nil:
		s.ReverbSend = EccentricityToReverb(*w.Eccentricity)
	}
	if len(w.Envelope) > 0 {
		s.Modulation = make([]curve.Point, len(w.Envelope))
		for i, p := range w.Envelope {
			s.Modulation[i] = curve.Point{T: p.T, Level: p.Velocity}
		}
	}
	return s, nil
}
