package cube

import (
	"math"
	"sort"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// BiasMode selects how ComputeBias combines an aligned forecast/observation
// pair into a single bias field.
type BiasMode string

const (
	// BiasModeAbsolute is a plain forecast-minus-observation difference.
	BiasModeAbsolute BiasMode = "absolute"
	// BiasModeRelativeError expresses the difference as a percentage of
	// the observed value, masking points where the observation is too
	// close to zero for the ratio to be meaningful.
	BiasModeRelativeError BiasMode = "relative_error"
)

// NormalizeLatLon wraps a grid's lon coordinate into [-180, 180) and sorts
// both lat and lon ascending, permuting a's data to match. Bias inputs
// arrive as independent lat/lon slices rather than full cubes, so this is
// the standalone form of the wrap/sort step normalizeDataset applies when
// building a Cube.
func NormalizeLatLon(a *Array, coords map[string][]float64) (*Array, map[string][]float64, error) {
	if _, ok := a.axis("lat"); !ok {
		return nil, nil, apperr.New(apperr.CubeValidationErr, "grid missing required dims: lat")
	}
	if _, ok := a.axis("lon"); !ok {
		return nil, nil, apperr.New(apperr.CubeValidationErr, "grid missing required dims: lon")
	}

	out := &Array{
		Dims:     append([]string(nil), a.Dims...),
		Shape:    append([]int(nil), a.Shape...),
		Data:     append([]float32(nil), a.Data...),
		Attrs:    a.Attrs,
		Encoding: a.Encoding,
	}
	outCoords := make(map[string][]float64, len(coords))
	for k, v := range coords {
		outCoords[k] = append([]float64(nil), v...)
	}

	if lon, ok := outCoords["lon"]; ok {
		wrapped := make([]float64, len(lon))
		for i, v := range lon {
			wrapped[i] = wrapLongitude(v)
		}
		outCoords["lon"] = wrapped
		out, outCoords = sortGridAxis(out, outCoords, "lon")
	}
	if _, ok := outCoords["lat"]; ok {
		out, outCoords = sortGridAxis(out, outCoords, "lat")
	}
	return out, outCoords, nil
}

// sortGridAxis is sortAxis's standalone form: bias grids carry their
// coordinates alongside an Array rather than in a Dataset's Coords map.
func sortGridAxis(a *Array, coords map[string][]float64, axisName string) (*Array, map[string][]float64) {
	coord := coords[axisName]
	order := make([]int, len(coord))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return coord[order[i]] < coord[order[j]] })

	sorted := make([]float64, len(coord))
	for newIdx, oldIdx := range order {
		sorted[newIdx] = coord[oldIdx]
	}
	newCoords := make(map[string][]float64, len(coords))
	for k, v := range coords {
		newCoords[k] = v
	}
	newCoords[axisName] = sorted

	axisIdx, ok := a.axis(axisName)
	if !ok {
		return a, newCoords
	}
	return permuteAxis(a, axisIdx, order), newCoords
}

// AlignObservationToForecast regrids observation (dims time, lat, lon) onto
// forecast's lat/lon grid (dims lat, lon) at targetTime (Unix seconds UTC):
// linear interpolation along time, bilinear interpolation in space. The
// result shares forecast's lat/lon shape.
func AlignObservationToForecast(forecast *Array, forecastCoords map[string][]float64, observation *Array, obsCoords map[string][]float64, targetTime float64) (*Array, error) {
	var missing []string
	if _, ok := observation.axis("time"); !ok {
		missing = append(missing, "time")
	}
	if _, ok := observation.axis("lat"); !ok {
		missing = append(missing, "lat")
	}
	if _, ok := observation.axis("lon"); !ok {
		missing = append(missing, "lon")
	}
	if len(missing) > 0 {
		return nil, apperr.New(apperr.CubeValidationErr, "observation missing required dims: "+joinStrings(missing))
	}
	if _, ok := forecast.axis("lat"); !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast missing required dims: lat")
	}
	if _, ok := forecast.axis("lon"); !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast missing required dims: lon")
	}

	obsSlice, err := interpolateObservationTime(observation, obsCoords, targetTime)
	if err != nil {
		return nil, err
	}
	return regridLatLon(obsSlice, obsCoords, forecast, forecastCoords)
}

// interpolateObservationTime linearly interpolates observation along its
// time axis at targetTime, collapsing it to a lat/lon Array. A target
// outside the observed range clamps to the nearest edge.
func interpolateObservationTime(observation *Array, obsCoords map[string][]float64, targetTime float64) (*Array, error) {
	timeAxis, _ := observation.axis("time")
	latAxis, _ := observation.axis("lat")
	lonAxis, _ := observation.axis("lon")

	times := obsCoords["time"]
	if len(times) == 0 {
		return nil, apperr.New(apperr.CubeValidationErr, "observation time coordinate is empty")
	}
	t0, t1, weight := bracket(times, targetTime)

	latLen := observation.Shape[latAxis]
	lonLen := observation.Shape[lonAxis]
	strides := observation.strides()

	data := make([]float32, latLen*lonLen)
	idx := make([]int, len(observation.Shape))
	for li := 0; li < latLen; li++ {
		idx[latAxis] = li
		for lj := 0; lj < lonLen; lj++ {
			idx[lonAxis] = lj

			idx[timeAxis] = t0
			v0 := float64(observation.Data[flatIndex(idx, strides)])
			v1 := v0
			if t1 != t0 {
				idx[timeAxis] = t1
				v1 = float64(observation.Data[flatIndex(idx, strides)])
			}
			data[li*lonLen+lj] = float32(v0 + weight*(v1-v0))
		}
	}

	return &Array{Dims: []string{"lat", "lon"}, Shape: []int{latLen, lonLen}, Data: data}, nil
}

// regridLatLon bilinearly resamples obsSlice (on obsCoords' lat/lon) onto
// forecast's lat/lon grid.
func regridLatLon(obsSlice *Array, obsCoords map[string][]float64, forecast *Array, forecastCoords map[string][]float64) (*Array, error) {
	obsLat := obsCoords["lat"]
	obsLon := obsCoords["lon"]
	fcLatAxis, _ := forecast.axis("lat")
	fcLonAxis, _ := forecast.axis("lon")
	fcLat := forecastCoords["lat"]
	fcLon := forecastCoords["lon"]

	latLen := forecast.Shape[fcLatAxis]
	lonLen := forecast.Shape[fcLonAxis]
	data := make([]float32, latLen*lonLen)
	for li := 0; li < latLen; li++ {
		for lj := 0; lj < lonLen; lj++ {
			data[li*lonLen+lj] = float32(bilinearSample(obsSlice, obsLat, obsLon, fcLat[li], fcLon[lj]))
		}
	}
	return &Array{Dims: []string{"lat", "lon"}, Shape: []int{latLen, lonLen}, Data: data}, nil
}

func bilinearSample(grid *Array, lat, lon []float64, targetLat, targetLon float64) float64 {
	li0, li1, lw := bracket(lat, targetLat)
	lj0, lj1, lnw := bracket(lon, targetLon)
	lonLen := len(lon)

	v00 := float64(grid.Data[li0*lonLen+lj0])
	v01 := float64(grid.Data[li0*lonLen+lj1])
	v10 := float64(grid.Data[li1*lonLen+lj0])
	v11 := float64(grid.Data[li1*lonLen+lj1])

	v0 := v00 + lnw*(v01-v00)
	v1 := v10 + lnw*(v11-v10)
	return v0 + lw*(v1-v0)
}

// bracket finds the two indices into an ascending xs that bracket target,
// plus the linear interpolation weight toward the second index (0 at the
// first, 1 at the second). target outside the range clamps to the
// nearest edge. Shared by time interpolation and spatial bilinear sampling.
func bracket(xs []float64, target float64) (i0, i1 int, weight float64) {
	last := len(xs) - 1
	if target <= xs[0] {
		return 0, 0, 0
	}
	if target >= xs[last] {
		return last, last, 0
	}
	for i := 1; i <= last; i++ {
		if xs[i] >= target {
			span := xs[i] - xs[i-1]
			if span == 0 {
				return i - 1, i, 0
			}
			return i - 1, i, (target - xs[i-1]) / span
		}
	}
	return last, last, 0
}

func flatIndex(idx, strides []int) int {
	flat := 0
	for d, v := range idx {
		flat += v * strides[d]
	}
	return flat
}

// ComputeBias combines an aligned forecast/observation pair (identical
// dims and shape) into a bias field.
func ComputeBias(forecast, observation *Array, mode BiasMode, relativeEpsilon, relativeScale float64) (*Array, error) {
	if err := requireAlignedShape(forecast, observation); err != nil {
		return nil, err
	}
	data := make([]float32, len(forecast.Data))
	switch mode {
	case BiasModeRelativeError:
		for i := range data {
			obs := float64(observation.Data[i])
			if math.Abs(obs) <= relativeEpsilon {
				data[i] = float32(math.NaN())
				continue
			}
			data[i] = float32((float64(forecast.Data[i]) - obs) / obs * relativeScale)
		}
	default:
		for i := range data {
			data[i] = forecast.Data[i] - observation.Data[i]
		}
	}
	return &Array{
		Dims:     append([]string(nil), forecast.Dims...),
		Shape:    append([]int(nil), forecast.Shape...),
		Data:     data,
		Attrs:    map[string]string{"long_name": "forecast minus observation bias"},
		Encoding: map[string]float64{},
	}, nil
}

// DeriveBiasGrid normalizes both grids' lat/lon, aligns observation onto
// forecast's grid at targetTime, and returns the absolute
// forecast-minus-observation bias.
func DeriveBiasGrid(forecast *Array, forecastCoords map[string][]float64, observation *Array, obsCoords map[string][]float64, targetTime float64) (*Array, error) {
	normForecast, normForecastCoords, err := NormalizeLatLon(forecast, forecastCoords)
	if err != nil {
		return nil, err
	}
	normObservation, normObsCoords, err := NormalizeLatLon(observation, obsCoords)
	if err != nil {
		return nil, err
	}

	aligned, err := AlignObservationToForecast(normForecast, normForecastCoords, normObservation, normObsCoords, targetTime)
	if err != nil {
		return nil, err
	}
	return ComputeBias(normForecast, aligned, BiasModeAbsolute, 0, 0)
}

// AddBiasFromObservation adds outVar to ds, shaped like forecastVar (time,
// level, lat, lon): at every (time, level) slice it derives a bias grid
// against observation's obsVar, using the slice's own valid time as the
// alignment target. Returns ds unchanged if forecastVar is absent, or if
// outVar already exists and overwrite is false.
func AddBiasFromObservation(ds *Dataset, forecastVar string, observation *Dataset, obsVar string, outVar string, overwrite bool) (*Dataset, error) {
	fc, ok := ds.Vars[forecastVar]
	if !ok {
		return ds, nil
	}
	if _, exists := ds.Vars[outVar]; exists && !overwrite {
		return ds, nil
	}
	obsArray, ok := observation.Vars[obsVar]
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, "observation missing variable "+obsVar)
	}

	timeAxis, ok := fc.axis("time")
	if !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast variable missing required dims: time")
	}
	levelAxis, ok := fc.axis("level")
	if !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast variable missing required dims: level")
	}
	latAxis, ok := fc.axis("lat")
	if !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast variable missing required dims: lat")
	}
	lonAxis, ok := fc.axis("lon")
	if !ok {
		return nil, apperr.New(apperr.CubeValidationErr, "forecast variable missing required dims: lon")
	}

	times := ds.Coords["time"]
	latLen := fc.Shape[latAxis]
	lonLen := fc.Shape[lonAxis]
	timeLen := fc.Shape[timeAxis]
	levelLen := fc.Shape[levelAxis]
	strides := fc.strides()

	fcCoords := map[string][]float64{"lat": ds.Coords["lat"], "lon": ds.Coords["lon"]}

	out := make([]float32, len(fc.Data))
	idx := make([]int, len(fc.Shape))
	for ti := 0; ti < timeLen; ti++ {
		targetTime := times[ti]
		for lvi := 0; lvi < levelLen; lvi++ {
			slice := sliceLatLon(fc, strides, timeAxis, ti, levelAxis, lvi, latAxis, lonAxis, latLen, lonLen)

			bias, err := DeriveBiasGrid(slice, fcCoords, obsArray, observation.Coords, targetTime)
			if err != nil {
				return nil, err
			}

			idx[timeAxis] = ti
			idx[levelAxis] = lvi
			for li := 0; li < latLen; li++ {
				idx[latAxis] = li
				for lj := 0; lj < lonLen; lj++ {
					idx[lonAxis] = lj
					out[flatIndex(idx, strides)] = bias.Data[li*lonLen+lj]
				}
			}
		}
	}

	biasArray := &Array{
		Dims:     append([]string(nil), fc.Dims...),
		Shape:    append([]int(nil), fc.Shape...),
		Data:     out,
		Attrs:    map[string]string{"long_name": "forecast minus observation bias"},
		Encoding: map[string]float64{},
	}

	result := cloneDataset(ds)
	result.Vars[outVar] = biasArray
	return result, nil
}

// sliceLatLon extracts the lat/lon slab of a at the given time/level
// indices into its own 2-D (lat, lon) Array.
func sliceLatLon(a *Array, strides []int, timeAxis, timeIdx, levelAxis, levelIdx, latAxis, lonAxis, latLen, lonLen int) *Array {
	data := make([]float32, latLen*lonLen)
	idx := make([]int, len(a.Shape))
	idx[timeAxis] = timeIdx
	idx[levelAxis] = levelIdx
	for li := 0; li < latLen; li++ {
		idx[latAxis] = li
		for lj := 0; lj < lonLen; lj++ {
			idx[lonAxis] = lj
			data[li*lonLen+lj] = a.Data[flatIndex(idx, strides)]
		}
	}
	return &Array{Dims: []string{"lat", "lon"}, Shape: []int{latLen, lonLen}, Data: data}
}
