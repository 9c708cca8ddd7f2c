package cube

import (
	"math"
	"sort"
)

var lonAliases = map[string]bool{"longitude": true, "x": true}
var latAliases = map[string]bool{"latitude": true, "y": true}

// normalizeDataset implements from_dataset's structural steps: alias
// renaming, lon wrap+sort, lat sort, level dim insertion, then per-variable
// float32/missing-value standardization.
func normalizeDataset(ds *Dataset) (*Dataset, error) {
	out := &Dataset{
		Coords: make(map[string][]float64, len(ds.Coords)),
		Vars:   make(map[string]*Array, len(ds.Vars)),
		Attrs:  ds.Attrs,
	}
	for k, v := range ds.Coords {
		name := k
		if lonAliases[k] {
			name = "lon"
		} else if latAliases[k] {
			name = "lat"
		}
		cp := make([]float64, len(v))
		copy(cp, v)
		out.Coords[name] = cp
	}
	for name, a := range ds.Vars {
		out.Vars[name] = renameArrayDims(a)
	}

	ensureLevelDim(out)

	if lon, ok := out.Coords["lon"]; ok {
		wrapped := make([]float64, len(lon))
		for i, v := range lon {
			wrapped[i] = wrapLongitude(v)
		}
		out.Coords["lon"] = wrapped
		sortAxis(out, "lon")
	}
	if _, ok := out.Coords["lat"]; ok {
		sortAxis(out, "lat")
	}

	for name, a := range out.Vars {
		out.Vars[name] = standardizeMissing(a)
		_ = name
	}

	return out, nil
}

func renameArrayDims(a *Array) *Array {
	dims := make([]string, len(a.Dims))
	for i, d := range a.Dims {
		switch {
		case lonAliases[d]:
			dims[i] = "lon"
		case latAliases[d]:
			dims[i] = "lat"
		default:
			dims[i] = d
		}
	}
	return &Array{Dims: dims, Shape: append([]int(nil), a.Shape...), Data: a.Data, Attrs: a.Attrs, Encoding: a.Encoding}
}

// ensureLevelDim adds a length-1 "level" coordinate/axis to every variable
// that doesn't already carry one, mirroring surface-only fields always
// exposing a level dimension of length 1.
func ensureLevelDim(ds *Dataset) {
	if _, ok := ds.Coords["level"]; !ok {
		ds.Coords["level"] = []float64{0}
	}
	for name, a := range ds.Vars {
		if _, ok := a.axis("level"); ok {
			continue
		}
		ds.Vars[name] = insertAxis(a, 0, "level")
	}
}

// insertAxis inserts a new length-1 axis named dimName at position pos.
func insertAxis(a *Array, pos int, dimName string) *Array {
	dims := make([]string, 0, len(a.Dims)+1)
	shape := make([]int, 0, len(a.Shape)+1)
	dims = append(dims, a.Dims[:pos]...)
	shape = append(shape, a.Shape[:pos]...)
	dims = append(dims, dimName)
	shape = append(shape, 1)
	dims = append(dims, a.Dims[pos:]...)
	shape = append(shape, a.Shape[pos:]...)
	return &Array{Dims: dims, Shape: shape, Data: a.Data, Attrs: a.Attrs, Encoding: a.Encoding}
}

// wrapLongitude maps lon into [-180, 180).
func wrapLongitude(lon float64) float64 {
	w := math.Mod(lon+180, 360)
	if w < 0 {
		w += 360
	}
	return w - 180
}

// sortAxis reorders the named coordinate ascending, permuting every
// variable's data along the matching axis to keep it consistent.
func sortAxis(ds *Dataset, axisName string) {
	coord := ds.Coords[axisName]
	order := make([]int, len(coord))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return coord[order[i]] < coord[order[j]] })

	sorted := make([]float64, len(coord))
	for newIdx, oldIdx := range order {
		sorted[newIdx] = coord[oldIdx]
	}
	ds.Coords[axisName] = sorted

	for name, a := range ds.Vars {
		axisIdx, ok := a.axis(axisName)
		if !ok {
			continue
		}
		ds.Vars[name] = permuteAxis(a, axisIdx, order)
	}
}

// permuteAxis reorders a's data along axisIdx according to order (order[i]
// is the source index that should land at destination position i).
func permuteAxis(a *Array, axisIdx int, order []int) *Array {
	strides := a.strides()
	out := make([]float32, len(a.Data))
	shape := a.Shape

	idx := make([]int, len(shape))
	total := size(shape)
	for flat := 0; flat < total; flat++ {
		// Decode flat index into per-axis indices.
		rem := flat
		for d := 0; d < len(shape); d++ {
			idx[d] = rem / strides[d]
			rem %= strides[d]
		}
		srcIdx := make([]int, len(idx))
		copy(srcIdx, idx)
		srcIdx[axisIdx] = order[idx[axisIdx]]

		srcFlat := 0
		for d := 0; d < len(shape); d++ {
			srcFlat += srcIdx[d] * strides[d]
		}
		out[flat] = a.Data[srcFlat]
	}

	return &Array{Dims: a.Dims, Shape: append([]int(nil), shape...), Data: out, Attrs: a.Attrs, Encoding: a.Encoding}
}
