// Package stats implements the long-window statistics accumulator: a
// streaming count/sum/min/max tracker over a fixed grid shape, an exact
// (sort-based) percentile helper for short windows, and a constant-memory
// P² on-line percentile estimator for long windows.
package stats

import (
	"fmt"
	"math"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Accumulator tracks per-cell count/sum/min/max (and, when percentiles are
// requested, a P² estimator per cell per percentile) across repeated
// Update calls, each supplying one sample of the accumulator's shape.
type Accumulator struct {
	shape       int
	count       []int
	sum         []float64
	min         []float64
	max         []float64
	percentiles []float64
	estimators  map[float64][]*p2Estimator
}

// NewAccumulator builds an Accumulator over a flattened grid of `shape`
// cells, optionally tracking the given percentiles (each in (0, 100)) with
// a P² estimator.
func NewAccumulator(shape int, percentiles ...float64) (*Accumulator, error) {
	for _, p := range percentiles {
		if p <= 0 || p >= 100 {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("percentiles must be in (0, 100), got %v", p))
		}
	}

	a := &Accumulator{
		shape:       shape,
		count:       make([]int, shape),
		sum:         make([]float64, shape),
		min:         make([]float64, shape),
		max:         make([]float64, shape),
		percentiles: append([]float64(nil), percentiles...),
	}
	for i := range a.min {
		a.min[i] = math.Inf(1)
		a.max[i] = math.Inf(-1)
	}
	if len(percentiles) > 0 {
		a.estimators = make(map[float64][]*p2Estimator, len(percentiles))
		for _, p := range percentiles {
			ests := make([]*p2Estimator, shape)
			for i := range ests {
				ests[i] = newP2Estimator(p)
			}
			a.estimators[p] = ests
		}
	}
	return a, nil
}

// Update folds one sample (length == shape) into the accumulator. NaN
// cells are excluded from every statistic.
func (a *Accumulator) Update(sample []float32) error {
	if len(sample) != a.shape {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("shape mismatch: expected %d cells, got %d", a.shape, len(sample)))
	}
	for i, v := range sample {
		if math.IsNaN(float64(v)) {
			continue
		}
		fv := float64(v)
		a.count[i]++
		a.sum[i] += fv
		if fv < a.min[i] {
			a.min[i] = fv
		}
		if fv > a.max[i] {
			a.max[i] = fv
		}
		for _, ests := range a.estimators {
			ests[i].update(fv)
		}
	}
	return nil
}

// Result holds Accumulator.Finalize's output, one value per cell.
type Result struct {
	Count       []int
	Sum         []float32
	Mean        []float32
	Min         []float32
	Max         []float32
	Percentiles map[float64][]float32
}

// Finalize computes the summary statistics accumulated so far. Cells with
// count 0 report mean=NaN, min=+Inf, max=-Inf (mirroring "no observations
// seen" rather than silently reporting 0).
func (a *Accumulator) Finalize() Result {
	sum := make([]float32, a.shape)
	mean := make([]float32, a.shape)
	min := make([]float32, a.shape)
	max := make([]float32, a.shape)
	for i := 0; i < a.shape; i++ {
		sum[i] = float32(a.sum[i])
		if a.count[i] == 0 {
			mean[i] = float32(math.NaN())
		} else {
			mean[i] = float32(a.sum[i] / float64(a.count[i]))
		}
		min[i] = float32(a.min[i])
		max[i] = float32(a.max[i])
	}

	result := Result{Count: append([]int(nil), a.count...), Sum: sum, Mean: mean, Min: min, Max: max}
	if len(a.estimators) > 0 {
		result.Percentiles = make(map[float64][]float32, len(a.estimators))
		for p, ests := range a.estimators {
			vals := make([]float32, a.shape)
			for i, e := range ests {
				vals[i] = float32(e.estimate())
			}
			result.Percentiles[p] = vals
		}
	}
	return result
}
