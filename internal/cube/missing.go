package cube

import (
	"fmt"
	"math"
)

// sentinelKeys are the attribute/encoding keys that may carry a missing
// value sentinel.
var sentinelKeys = []string{"_FillValue", "missing_value"}

// missingMask reports, per element, whether it should be treated as
// missing: either already NaN, or equal to a sentinel recorded in Attrs or
// Encoding.
func missingMask(a *Array) []bool {
	mask := make([]bool, len(a.Data))
	var sentinels []float64
	for _, key := range sentinelKeys {
		if v, ok := a.Encoding[key]; ok {
			sentinels = append(sentinels, v)
		}
	}
	for _, key := range sentinelKeys {
		if v, ok := a.Attrs[key]; ok {
			if f, err := parseFloat(v); err == nil {
				sentinels = append(sentinels, f)
			}
		}
	}

	for i, v := range a.Data {
		if math.IsNaN(float64(v)) {
			mask[i] = true
			continue
		}
		for _, s := range sentinels {
			if float64(v) == s {
				mask[i] = true
				break
			}
		}
	}
	return mask
}

// standardizeMissing replaces sentinel-masked cells with NaN, recasts to
// float32 (a no-op since Array.Data is already float32), and drops the
// sentinel attributes/encoding keys so downstream writers never reintroduce
// a fill-value-based representation.
func standardizeMissing(a *Array) *Array {
	mask := missingMask(a)
	data := make([]float32, len(a.Data))
	for i, v := range a.Data {
		if mask[i] {
			data[i] = float32(math.NaN())
		} else {
			data[i] = v
		}
	}

	attrs := make(map[string]string, len(a.Attrs))
	for k, v := range a.Attrs {
		attrs[k] = v
	}
	encoding := make(map[string]float64, len(a.Encoding))
	for k, v := range a.Encoding {
		encoding[k] = v
	}
	for _, key := range sentinelKeys {
		delete(attrs, key)
		delete(encoding, key)
	}

	return &Array{Dims: a.Dims, Shape: append([]int(nil), a.Shape...), Data: data, Attrs: attrs, Encoding: encoding}
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscan(s, &f)
	return f, err
}
