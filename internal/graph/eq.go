package graph

import (
	"math"
	"sync/atomic"
)

// DefaultCrossovers split the master EQ into five bands.
var DefaultCrossovers = []float64{200, 800, 2500, 8000}

// BandEQ is a crossover equalizer on the master bus. Band gains are stored
// as float64 bit patterns so the UI can change them while the audio thread
// reads them without taking the graph lock.
type BandEQ struct {
	gains  []atomic.Uint64
	alphas []float64 // one-pole lowpass coefficient per crossover
	state  []float64
	bands  []float64
}

// NewBandEQ builds len(crossovers)+1 bands, all at unity. Crossovers must
// be ascending.
func NewBandEQ(sampleRate int, crossovers []float64) *BandEQ {
	eq := &BandEQ{
		gains:  make([]atomic.Uint64, len(crossovers)+1),
		alphas: make([]float64, len(crossovers)),
		state:  make([]float64, len(crossovers)),
		bands:  make([]float64, len(crossovers)+1),
	}
	dt := 1 / float64(sampleRate)
	for i, f := range crossovers {
		rc := 1 / (2 * math.Pi * f)
		eq.alphas[i] = dt / (rc + dt)
	}
	for i := range eq.gains {
		eq.gains[i].Store(math.Float64bits(1))
	}
	return eq
}

func (eq *BandEQ) Bands() int { return len(eq.gains) }

// SetGain sets a band's linear gain. Out-of-range bands are ignored.
func (eq *BandEQ) SetGain(band int, gain float64) {
	if band < 0 || band >= len(eq.gains) {
		return
	}
	eq.gains[band].Store(math.Float64bits(math.Max(gain, 0)))
}

// Gain reports a band's gain, 1 for out-of-range bands.
func (eq *BandEQ) Gain(band int) float64 {
	if band < 0 || band >= len(eq.gains) {
		return 1
	}
	return math.Float64frombits(eq.gains[band].Load())
}

// Process peels off each band with cascaded lowpasses; the remainder is the
// top band. At unity the bands sum back to the input exactly.
func (eq *BandEQ) Process(x float64) float64 {
	rem := x
	for i, a := range eq.alphas {
		eq.state[i] += a * (rem - eq.state[i])
		eq.bands[i] = eq.state[i]
		rem -= eq.state[i]
	}
	eq.bands[len(eq.alphas)] = rem

	var out float64
	for i, b := range eq.bands {
		out += b * math.Float64frombits(eq.gains[i].Load())
	}
	return out
}

func (eq *BandEQ) Reset() {
	for i := range eq.state {
		eq.state[i] = 0
	}
}
