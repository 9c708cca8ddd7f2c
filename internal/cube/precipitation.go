package cube

import (
	"math"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// PrecipitationAmountFromAccumulation converts cumulative precipitation
// along the time axis into per-interval amounts: the first element is
// accumulated[0] - initial (NaN if initial is nil), the rest are
// successive differences along time. Negative differences are clamped to
// 0 when clampNegative is set. time must be present in accumulated's dims.
func PrecipitationAmountFromAccumulation(accumulated *Array, initial *float64, clampNegative bool) (*Array, error) {
	timeAxis, ok := accumulated.axis("time")
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, "precipitation accumulation missing time dimension")
	}

	timeLen := accumulated.Shape[timeAxis]
	out := make([]float32, len(accumulated.Data))
	if timeLen == 0 {
		copy(out, accumulated.Data)
		return &Array{Dims: accumulated.Dims, Shape: append([]int(nil), accumulated.Shape...), Data: out, Attrs: copyAttrs(accumulated.Attrs), Encoding: map[string]float64{}}, nil
	}

	strides := accumulated.strides()
	timeStride := strides[timeAxis]
	total := size(accumulated.Shape)

	idx := make([]int, len(accumulated.Shape))
	for flat := 0; flat < total; flat++ {
		rem := flat
		for d := range accumulated.Shape {
			idx[d] = rem / strides[d]
			rem %= strides[d]
		}

		t := idx[timeAxis]
		var value float64
		if t == 0 {
			if initial == nil {
				value = math.NaN()
			} else {
				value = float64(accumulated.Data[flat]) - *initial
			}
		} else {
			value = float64(accumulated.Data[flat]) - float64(accumulated.Data[flat-timeStride])
		}

		if clampNegative && value < 0 {
			value = 0
		}
		out[flat] = float32(value)
	}

	return &Array{Dims: accumulated.Dims, Shape: append([]int(nil), accumulated.Shape...), Data: out, Attrs: copyAttrs(accumulated.Attrs), Encoding: map[string]float64{}}, nil
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// AddPrecipitationAmountFromTP adds precipitationAmount to ds derived from
// tpVar by differencing. Returns ds unchanged if tpVar is absent, or if
// outVar already exists and overwrite is false.
func AddPrecipitationAmountFromTP(ds *Dataset, tpVar, outVar string, initial *float64, clampNegative, overwrite bool) (*Dataset, error) {
	tp, ok := ds.Vars[tpVar]
	if !ok {
		return ds, nil
	}
	if _, exists := ds.Vars[outVar]; exists && !overwrite {
		return ds, nil
	}

	precip, err := PrecipitationAmountFromAccumulation(tp, initial, clampNegative)
	if err != nil {
		return nil, err
	}
	if precip.Attrs == nil {
		precip.Attrs = map[string]string{}
	}
	if _, ok := precip.Attrs["long_name"]; !ok {
		precip.Attrs["long_name"] = "precipitation amount over the previous interval"
	}

	out := cloneDataset(ds)
	out.Vars[outVar] = precip
	return out, nil
}
