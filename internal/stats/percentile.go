package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// ExactPercentiles computes, per cell, the requested percentiles across a
// window of same-shaped samples using linear interpolation between the two
// nearest ranks (matching numpy.percentile's default "linear" method). NaN
// values within a cell's series are excluded before interpolating; a cell
// with no finite observations reports NaN for every percentile.
func ExactPercentiles(samples [][]float32, percentiles []float64) (map[float64][]float32, error) {
	for _, p := range percentiles {
		if p <= 0 || p >= 100 {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("percentiles must be in (0, 100), got %v", p))
		}
	}

	result := make(map[float64][]float32, len(percentiles))
	if len(samples) == 0 {
		for _, p := range percentiles {
			result[p] = []float32{}
		}
		return result, nil
	}

	shape := len(samples[0])
	for _, s := range samples {
		if len(s) != shape {
			return nil, apperr.New(apperr.InvalidArgument, "shape mismatch among percentile samples")
		}
	}

	for _, p := range percentiles {
		result[p] = make([]float32, shape)
	}

	series := make([]float64, 0, len(samples))
	for cell := 0; cell < shape; cell++ {
		series = series[:0]
		for _, s := range samples {
			v := float64(s[cell])
			if !math.IsNaN(v) {
				series = append(series, v)
			}
		}
		sort.Float64s(series)

		for _, p := range percentiles {
			result[p][cell] = float32(interpolatedPercentile(series, p))
		}
	}
	return result, nil
}

func interpolatedPercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	rank := (p / 100) * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
