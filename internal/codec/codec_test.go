package codec

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dankermu/digital-earth/internal/cube"
)

func sampleCube() *cube.Cube {
	return &cube.Cube{
		Dataset: &cube.Dataset{
			Coords: map[string][]float64{
				"time":  {0, 3600},
				"level": {0},
				"lat":   {-10, 0, 10},
				"lon":   {-20, 0, 20},
			},
			Vars: map[string]*cube.Array{
				"t2m": {
					Dims:  []string{"time", "level", "lat", "lon"},
					Shape: []int{2, 1, 3, 3},
					Data: []float32{
						1, 2, 3, 4, 5, 6, 7, 8, float32(math.NaN()),
						9, 10, 11, 12, 13, 14, 15, 16, 17,
					},
					Attrs:    map[string]string{"units": "K"},
					Encoding: map[string]float64{},
				},
			},
		},
	}
}

func assertCubesEqual(t *testing.T, want, got *cube.Cube) {
	t.Helper()
	assert.Equal(t, want.Dataset.Coords, got.Dataset.Coords)
	require.Len(t, got.Dataset.Vars, len(want.Dataset.Vars))
	for name, wantVar := range want.Dataset.Vars {
		gotVar, ok := got.Dataset.Vars[name]
		require.True(t, ok, name)
		assert.Equal(t, wantVar.Dims, gotVar.Dims)
		assert.Equal(t, wantVar.Shape, gotVar.Shape)
		require.Len(t, gotVar.Data, len(wantVar.Data))
		for i := range wantVar.Data {
			if math.IsNaN(float64(wantVar.Data[i])) {
				assert.True(t, math.IsNaN(float64(gotVar.Data[i])), "index %d", i)
				continue
			}
			assert.InDelta(t, wantVar.Data[i], gotVar.Data[i], 1e-6, "index %d", i)
		}
	}
}

func TestNetCDFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube.nc")
	c := sampleCube()

	require.NoError(t, Write(c, path, FormatNetCDF, nil))

	got, err := Open(path, FormatNetCDF)
	require.NoError(t, err)
	assertCubesEqual(t, c, got)
}

func TestZarrRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cube.zarr")
	c := sampleCube()

	require.NoError(t, Write(c, path, FormatZarr, nil))

	got, err := Open(path, FormatZarr)
	require.NoError(t, err)
	assertCubesEqual(t, c, got)
}

func TestInferFormatFromSuffix(t *testing.T) {
	dir := t.TempDir()
	ncPath := filepath.Join(dir, "a.nc")
	zarrPath := filepath.Join(dir, "a.zarr")

	require.NoError(t, Write(sampleCube(), ncPath, "", nil))
	require.NoError(t, Write(sampleCube(), zarrPath, "", nil))

	_, err := Open(ncPath, "")
	require.NoError(t, err)
	_, err = Open(zarrPath, "")
	require.NoError(t, err)
}

func TestWriteRejectsUnsupportedZarrCodec(t *testing.T) {
	dir := t.TempDir()
	opts := WriteOptions{CompressionLevel: 4, ZarrCodec: "brotli"}
	err := Write(sampleCube(), filepath.Join(dir, "bad.zarr"), FormatZarr, &opts)
	require.Error(t, err)
}
