package tileworker

import (
	"encoding/json"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dankermu/digital-earth/internal/cube"
	"github.com/dankermu/digital-earth/internal/proj"
)

func sampleCube() *cube.Cube {
	return &cube.Cube{
		Dataset: &cube.Dataset{
			Coords: map[string][]float64{
				"time":  {0},
				"level": {0},
				"lat":   {-10, 0, 10},
				"lon":   {-10, 0, 10},
			},
			Vars: map[string]*cube.Array{
				"t2m": {
					Dims:  []string{"time", "level", "lat", "lon"},
					Shape: []int{1, 1, 3, 3},
					Data:  []float32{0, 10, 20, 30, 40, 50, 60, 70, 80},
				},
			},
		},
	}
}

func gradientLegend(t *testing.T) *Legend {
	t.Helper()
	legend, err := NewLegend("Temperature", "C", KindGradient, []Stop{
		{Value: 0, Color: color.RGBA{R: 0, G: 0, B: 255, A: 255}},
		{Value: 80, Color: color.RGBA{R: 255, G: 0, B: 0, A: 255}},
	}, 0.8)
	require.NoError(t, err)
	return legend
}

func TestNewLegendRejectsOpacityOutOfRange(t *testing.T) {
	_, err := NewLegend("t", "C", KindGradient, []Stop{{Value: 0}}, 1.5)
	require.Error(t, err)
}

func TestLegendValueToRGBAOutOfDomainIsTransparent(t *testing.T) {
	legend := gradientLegend(t)
	c := legend.ValueToRGBA(200)
	assert.Equal(t, uint8(0), c.A)
}

func TestLegendValueToRGBAInterpolates(t *testing.T) {
	legend := gradientLegend(t)
	c := legend.ValueToRGBA(40)
	assert.InDelta(t, 127, int(c.R), 3)
	assert.InDelta(t, 127, int(c.B), 3)
	assert.Equal(t, uint8(204), c.A) // 0.8 * 255 rounded
}

func TestLegendVersionStableAcrossCalls(t *testing.T) {
	legend := gradientLegend(t)
	v1, err := legend.Version()
	require.NoError(t, err)
	v2, err := legend.Version()
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Regexp(t, "^sha256-[0-9a-f]{64}$", v1)
}

func TestTimeKeyFormat(t *testing.T) {
	assert.Equal(t, "19700101T000000Z", TimeKey(0))
	assert.Equal(t, "19700101T010000Z", TimeKey(3600))
}

func TestLoadLegendParsesGradientFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t2m.json")
	doc := `{
		"title": "Temperature",
		"unit": "C",
		"kind": "gradient",
		"opacity": 0.8,
		"stops": [
			{"value": 0, "color": "#0000ff"},
			{"value": 80, "color": "#ff0000"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	legend, err := LoadLegend(path)
	require.NoError(t, err)
	assert.Equal(t, "Temperature", legend.Title)
	assert.Equal(t, KindGradient, legend.Kind)
	assert.Equal(t, 0.0, legend.Min())
	assert.Equal(t, 80.0, legend.Max())
}

func TestLoadLegendRejectsBadColor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	doc := `{"title":"x","unit":"C","kind":"gradient","opacity":1,"stops":[{"value":0,"color":"not-a-color"}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	_, err := LoadLegend(path)
	require.Error(t, err)
}

func TestLoadLegendMissingFile(t *testing.T) {
	_, err := LoadLegend(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestRenderUnitWritesTilesAndLegends(t *testing.T) {
	root := t.TempDir()
	legend := gradientLegend(t)
	opts := Options{
		Root:       root,
		Layer:      "t2m",
		MinZoom:    0,
		MaxZoom:    1,
		TileSize:   4,
		Projection: proj.EPSG4326{},
		Format:     FormatPNG,
		Legend:     legend,
	}

	written, err := RenderUnit(sampleCube(), "t2m", 0, 0, opts)
	require.NoError(t, err)
	assert.NotEmpty(t, written)

	for _, p := range written {
		_, statErr := os.Stat(p)
		assert.NoError(t, statErr, p)
	}

	layerLegend := filepath.Join(root, "t2m", "legend.json")
	levelLegend := filepath.Join(root, "t2m", "0", "legend.json")
	layerBytes, err := os.ReadFile(layerLegend)
	require.NoError(t, err)
	levelBytes, err := os.ReadFile(levelLegend)
	require.NoError(t, err)
	assert.JSONEq(t, string(layerBytes), string(levelBytes))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(layerBytes, &doc))
	assert.Equal(t, "Temperature", doc["title"])
	assert.Contains(t, doc, "version")
}

func TestRenderUnitRejectsMissingVariable(t *testing.T) {
	opts := Options{Root: t.TempDir(), Layer: "x", MinZoom: 0, MaxZoom: 0, TileSize: 4, Projection: proj.EPSG4326{}, Legend: gradientLegend(t)}
	_, err := RenderUnit(sampleCube(), "nope", 0, 0, opts)
	require.Error(t, err)
}

func TestRenderUnitRequiresLegend(t *testing.T) {
	opts := Options{Root: t.TempDir(), Layer: "x", MinZoom: 0, MaxZoom: 0, TileSize: 4, Projection: proj.EPSG4326{}}
	_, err := RenderUnit(sampleCube(), "t2m", 0, 0, opts)
	require.Error(t, err)
}
