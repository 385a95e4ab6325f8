package curve

import (
	"math"
	"sort"
)

const (
	// Floor is the smallest value Build ever emits. Exponential-style ramps
	// downstream are undefined at exactly zero.
	Floor = 1e-4

	flatRange = 1e-6
)

// Point is one sparse control point: a loop-relative time and a normalized
// level in [0, 1].
type Point struct {
	T     float64 `json:"t" yaml:"t"`
	Level float64 `json:"level" yaml:"level"`
}

// Build resamples points into a dense curve of max(2, floor(duration*sampleRate))
// samples evenly spaced over [0, duration]. Control values are interpolated
// linearly, clamped to the first/last point outside their span, normalized
// against the observed level range and mapped into [minLevel, maxLevel].
// An empty input yields a flat curve at the midpoint of the range.
func Build(points []Point, duration, minLevel, maxLevel, sampleRate float64) []float64 {
	n := int(math.Floor(duration * sampleRate))
	if n < 2 || math.IsNaN(duration*sampleRate) {
		n = 2
	}
	out := make([]float64, n)
	if len(points) == 0 {
		mid := math.Max((minLevel+maxLevel)/2, Floor)
		for i := range out {
			out[i] = mid
		}
		return out
	}

	sorted := make([]Point, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].T < sorted[j].T })

	lo, hi := sorted[0].Level, sorted[0].Level
	for _, p := range sorted[1:] {
		lo = math.Min(lo, p.Level)
		hi = math.Max(hi, p.Level)
	}
	span := hi - lo

	step := 0.0
	if n > 1 {
		step = duration / float64(n-1)
	}
	for i := range out {
		v := interpolate(sorted, float64(i)*step)
		norm := 0.5
		if span >= flatRange {
			norm = (v - lo) / span
		}
		out[i] = math.Max(minLevel+norm*(maxLevel-minLevel), Floor)
	}
	return out
}

// interpolate expects points sorted by time.
func interpolate(points []Point, t float64) float64 {
	first, last := points[0], points[len(points)-1]
	if t <= first.T {
		return first.Level
	}
	if t >= last.T {
		return last.Level
	}
	// first index whose time is >= t; equal timestamps resolve to the first match
	j := sort.Search(len(points), func(i int) bool { return points[i].T >= t })
	next := points[j]
	if next.T == t {
		return next.Level
	}
	prev := points[j-1]
	den := next.T - prev.T
	if den <= 0 {
		return prev.Level
	}
	return prev.Level + (next.Level-prev.Level)*(t-prev.T)/den
}

// At reads a dense curve built over [0, duration] at time t, using the
// nearest sample. Times outside the span clamp to the ends.
func At(samples []float64, duration, t float64) float64 {
	if len(samples) == 0 {
		return Floor
	}
	if duration <= 0 || t <= 0 {
		return samples[0]
	}
	if t >= duration {
		return samples[len(samples)-1]
	}
	i := int(math.Round(t / duration * float64(len(samples)-1)))
	return samples[i]
}
