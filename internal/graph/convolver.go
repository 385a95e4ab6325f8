package graph

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/ktye/fft"
)

// Convolver is a uniformly partitioned overlap-add FFT convolution. Output
// lags input by one block.
type Convolver struct {
	block   int
	fft     fft.FFT
	parts   [][]complex128
	history [][]complex128
	head    int
	in      []float64
	out     []float64
	tail    []float64
	acc     []complex128
	pos     int
	scale   float64
}

// NewConvolver partitions the impulse response into blocks of blockSize
// samples. blockSize must be a power of two.
func NewConvolver(ir []float64, blockSize int) (*Convolver, error) {
	if blockSize <= 0 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("graph: convolver block size %d is not a power of two", blockSize)
	}
	if len(ir) == 0 {
		return nil, fmt.Errorf("graph: empty impulse response")
	}
	size := 2 * blockSize
	f, err := fft.New(size)
	if err != nil {
		return nil, fmt.Errorf("graph: fft: %w", err)
	}
	c := &Convolver{
		block: blockSize,
		fft:   f,
		in:    make([]float64, blockSize),
		out:   make([]float64, blockSize),
		tail:  make([]float64, blockSize),
		acc:   make([]complex128, size),
	}
	c.scale = c.calibrate()

	n := (len(ir) + blockSize - 1) / blockSize
	c.parts = make([][]complex128, n)
	c.history = make([][]complex128, n)
	for k := 0; k < n; k++ {
		buf := make([]complex128, size)
		for i := 0; i < blockSize && k*blockSize+i < len(ir); i++ {
			buf[i] = complex(ir[k*blockSize+i], 0)
		}
		c.parts[k] = c.transform(buf)
		c.history[k] = make([]complex128, size)
	}
	return c, nil
}

// calibrate measures the round-trip gain of transform/multiply/inverse with
// unit impulses so results do not depend on the library's normalization.
func (c *Convolver) calibrate() float64 {
	probe := make([]complex128, 2*c.block)
	probe[0] = 1
	a := c.transform(probe)
	b := c.transform(probe)
	for i := range a {
		a[i] *= b[i]
	}
	r := c.fft.Inverse(a)
	if g := real(r[0]); g != 0 && !math.IsNaN(g) {
		return 1 / g
	}
	return 1
}

func (c *Convolver) transform(x []complex128) []complex128 {
	in := make([]complex128, len(x))
	copy(in, x)
	res := c.fft.Transform(in)
	out := make([]complex128, len(res))
	copy(out, res)
	return out
}

// Process pushes one input sample and returns one output sample.
func (c *Convolver) Process(x float64) float64 {
	y := c.out[c.pos]
	c.in[c.pos] = x
	c.pos++
	if c.pos == c.block {
		c.flush()
		c.pos = 0
	}
	return y
}

func (c *Convolver) flush() {
	buf := make([]complex128, 2*c.block)
	for i, v := range c.in {
		buf[i] = complex(v, 0)
	}
	n := len(c.parts)
	c.head = (c.head - 1 + n) % n
	c.history[c.head] = c.transform(buf)

	for i := range c.acc {
		c.acc[i] = 0
	}
	for k := 0; k < n; k++ {
		x := c.history[(c.head+k)%n]
		h := c.parts[k]
		for i := range c.acc {
			c.acc[i] += x[i] * h[i]
		}
	}
	acc := make([]complex128, len(c.acc))
	copy(acc, c.acc)
	y := c.fft.Inverse(acc)
	for i := 0; i < c.block; i++ {
		c.out[i] = real(y[i])*c.scale + c.tail[i]
		c.tail[i] = real(y[c.block+i]) * c.scale
	}
}

// Latency is the delay in samples between input and output.
func (c *Convolver) Latency() int { return c.block }

// Reset clears all internal state but keeps the impulse response.
func (c *Convolver) Reset() {
	for k := range c.history {
		for i := range c.history[k] {
			c.history[k][i] = 0
		}
	}
	for i := range c.in {
		c.in[i], c.out[i], c.tail[i] = 0, 0, 0
	}
	c.pos = 0
}

// SyntheticImpulse builds a decaying noise impulse response of the given
// length in seconds. decay shapes the tail as (1 - i/n)^decay. The response
// is normalized to unit energy.
func SyntheticImpulse(sampleRate int, seconds, decay float64, seed int64) []float64 {
	n := int(float64(sampleRate) * seconds)
	if n < 1 {
		n = 1
	}
	rng := rand.New(rand.NewSource(seed))
	ir := make([]float64, n)
	var energy float64
	for i := range ir {
		v := (rng.Float64()*2 - 1) * math.Pow(1-float64(i)/float64(n), decay)
		ir[i] = v
		energy += v * v
	}
	if energy > 0 {
		g := 1 / math.Sqrt(energy)
		for i := range ir {
			ir[i] *= g
		}
	}
	return ir
}
