package orrery

import (
	"encoding/binary"
	"math"

	"github.com/cbegin/orrery-go/internal/timer"
)

const renderBlock = 256

// RenderSamples plays b for the given number of seconds without a sound
// device and returns the interleaved stereo output. Timers follow the audio
// clock, so loop restarts and envelopes land exactly where they would live.
// Options are those of NewPlayer; looping is on unless disabled.
func RenderSamples(b Batch, seconds float64, opts ...PlayerOption) ([]float32, int, error) {
	clock := timer.NewManual()
	opts = append(opts, WithTimerSource(clock), WithDeviceOutput(false))
	p, err := NewPlayer(opts...)
	if err != nil {
		return nil, 0, err
	}
	rate := p.SampleRate()
	out := make([]float32, 2*int(float64(rate)*seconds))
	if err := p.Play(b); err != nil {
		return nil, 0, err
	}
	defer p.Stop()

	ctx := p.lazy.Peek()
	if ctx == nil {
		// empty batch; nothing was built
		return out, rate, nil
	}
	for off := 0; off < len(out); off += 2 * renderBlock {
		buf := out[off:min(off+2*renderBlock, len(out))]
		ctx.Process(buf)
		if p.cfg.sampleTap != nil {
			p.cfg.sampleTap(buf)
		}
		clock.AdvanceTo(timer.Seconds(ctx.CurrentTime()))
	}
	return out, rate, nil
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}
