package cube

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dankermu/digital-earth/internal/apperr"
)

func TestNormalizeLatLonWrapsAndSortsLongitude(t *testing.T) {
	a := &Array{Dims: []string{"lat", "lon"}, Shape: []int{1, 4}, Data: []float32{0, 1, 2, 3}}
	coords := map[string][]float64{"lat": {0}, "lon": {0, 90, 180, 270}}

	normalized, normCoords, err := NormalizeLatLon(a, coords)
	require.NoError(t, err)

	assert.Equal(t, []float64{-180, -90, 0, 90}, normCoords["lon"])
	// 180 wraps to -180 and 270 wraps to -90, preserving original values.
	assert.Equal(t, []float32{2, 3, 0, 1}, normalized.Data)
}

func TestDeriveBiasGridAlignsTimeAndSpace(t *testing.T) {
	forecast := &Array{Dims: []string{"lat", "lon"}, Shape: []int{2, 2}, Data: []float32{10, 11, 11, 12}}
	forecastCoords := map[string][]float64{"lat": {0, 1}, "lon": {0, 1}}

	// obs[t][lat][lon] = lat + lon at t0, lat + lon + 2 at t1.
	observation := &Array{
		Dims:  []string{"time", "lat", "lon"},
		Shape: []int{2, 3, 3},
		Data: []float32{
			0, 0.5, 1, 0.5, 1, 1.5, 1, 1.5, 2,
			2, 2.5, 3, 2.5, 3, 3.5, 3, 3.5, 4,
		},
	}
	obsCoords := map[string][]float64{
		"time": {0, 3600},
		"lat":  {0, 0.5, 1},
		"lon":  {0, 0.5, 1},
	}

	bias, err := DeriveBiasGrid(forecast, forecastCoords, observation, obsCoords, 1800)
	require.NoError(t, err)

	for _, v := range bias.Data {
		assert.InDelta(t, 9.0, v, 1e-5)
	}
}

func TestComputeBiasRelativeErrorMasksNearZero(t *testing.T) {
	forecast := &Array{Dims: []string{"lat", "lon"}, Shape: []int{1, 1}, Data: []float32{2.0}}
	observation := &Array{Dims: []string{"lat", "lon"}, Shape: []int{1, 1}, Data: []float32{0.0}}

	out, err := ComputeBias(forecast, observation, BiasModeRelativeError, 0.1, 100.0)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(float64(out.Data[0])))
}

func TestAlignObservationRequiresLatLon(t *testing.T) {
	forecast := &Array{Dims: []string{"lat", "lon"}, Shape: []int{1, 1}, Data: []float32{1.0}}
	forecastCoords := map[string][]float64{"lat": {0}, "lon": {0}}

	observation := &Array{Dims: []string{"x", "y"}, Shape: []int{1, 1}, Data: []float32{1.0}}

	_, err := AlignObservationToForecast(forecast, forecastCoords, observation, map[string][]float64{}, 0)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.CubeValidationErr))
	assert.Contains(t, err.Error(), "missing required dims")
}

func TestAddBiasFromObservationAddsVariable(t *testing.T) {
	ds := &Dataset{
		Coords: map[string][]float64{
			"time":  {0},
			"level": {0},
			"lat":   {0, 1},
			"lon":   {0, 1},
		},
		Vars: map[string]*Array{
			"temp": {
				Dims:  []string{"time", "level", "lat", "lon"},
				Shape: []int{1, 1, 2, 2},
				Data:  []float32{10, 11, 11, 12},
			},
		},
	}

	observation := &Dataset{
		Coords: map[string][]float64{
			"time": {0},
			"lat":  {0, 1},
			"lon":  {0, 1},
		},
		Vars: map[string]*Array{
			"TMP": {
				Dims:  []string{"time", "lat", "lon"},
				Shape: []int{1, 2, 2},
				Data:  []float32{1, 2, 2, 3},
			},
		},
	}

	out, err := AddBiasFromObservation(ds, "temp", observation, "TMP", "bias", false)
	require.NoError(t, err)

	bias, ok := out.Vars["bias"]
	require.True(t, ok)
	assert.Equal(t, []float32{9, 9, 9, 9}, bias.Data)
}

func TestAddBiasFromObservationLeavesDatasetUnchangedWithoutForecastVar(t *testing.T) {
	ds := &Dataset{Coords: map[string][]float64{}, Vars: map[string]*Array{}}
	observation := &Dataset{Coords: map[string][]float64{}, Vars: map[string]*Array{}}

	out, err := AddBiasFromObservation(ds, "temp", observation, "TMP", "bias", false)
	require.NoError(t, err)
	assert.Same(t, ds, out)
}
