package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// Source renders interleaved stereo float32 frames. The shared graph
// context satisfies it.
type Source interface {
	Process(dst []float32)
}

// StreamReader adapts a Source to the little-endian float32 byte stream
// ebiten's audio player pulls from. Each Read renders exactly as many frames
// as fit in p, so the source's clock advances with the device.
type StreamReader struct {
	mu     sync.Mutex
	source Source
	tap    func([]float32)
	buf    []float32
	closed bool
}

// NewStreamReader wraps source. tap, when non-nil, sees every rendered
// buffer on the audio thread.
func NewStreamReader(source Source, tap func([]float32)) *StreamReader {
	return &StreamReader{source: source, tap: tap}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, io.EOF
	}

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.buf) < need {
		r.buf = make([]float32, need)
	}
	r.buf = r.buf[:need]
	r.source.Process(r.buf)
	if r.tap != nil {
		r.tap(r.buf)
	}
	for i, v := range r.buf {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(v))
	}
	return frames * 8, nil
}

// Close makes every later Read return io.EOF.
func (r *StreamReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

var ErrSampleRate = errors.New("audio: device already opened at a different sample rate")

var (
	deviceOnce sync.Once
	device     *ebitaudio.Context
	deviceRate int
)

// sharedDevice opens the process-wide ebiten audio context on first use.
// ebiten allows only one, so later callers must ask for the same rate.
func sharedDevice(sampleRate int) (*ebitaudio.Context, error) {
	deviceOnce.Do(func() {
		deviceRate = sampleRate
		device = ebitaudio.NewContext(sampleRate)
	})
	if deviceRate != sampleRate {
		return nil, fmt.Errorf("%w: %d Hz (requested %d Hz)", ErrSampleRate, deviceRate, sampleRate)
	}
	return device, nil
}

// Output streams a Source to the sound device.
type Output struct {
	player *ebitaudio.Player
	reader *StreamReader
}

// Open connects source to the device without starting it. A positive
// bufferSize trades latency for robustness; zero keeps ebiten's default.
func Open(sampleRate int, source Source, tap func([]float32), bufferSize time.Duration) (*Output, error) {
	ctx, err := sharedDevice(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source, tap)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fmt.Errorf("audio: new player: %w", err)
	}
	if bufferSize > 0 {
		pl.SetBufferSize(bufferSize)
	}
	return &Output{player: pl, reader: reader}, nil
}

func (o *Output) Start()        { o.player.Play() }
func (o *Output) Pause()        { o.player.Pause() }
func (o *Output) Playing() bool { return o.player.IsPlaying() }

// Close stops the device stream for good.
func (o *Output) Close() error {
	o.player.Pause()
	if err := o.player.Close(); err != nil {
		return err
	}
	return o.reader.Close()
}
