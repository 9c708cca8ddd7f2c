// Package terrain renders a single (variable, level, time) elevation slice
// of a cube.Cube into a pyramid of quantized-mesh terrain tiles plus a
// layer.json tileset descriptor, the terrain analogue of internal/tileworker's
// image-tile renderer.
package terrain

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
	"github.com/dankermu/digital-earth/internal/proj"
	"github.com/dankermu/digital-earth/internal/pyramid"
	"github.com/dankermu/digital-earth/internal/qmesh"
)

// Options configures one RenderUnit call.
type Options struct {
	Root       string
	MinZoom    int
	MaxZoom    int
	GridSize   int // heights sampled per tile edge; qmesh requires >= 2
	Projection proj.Projection
	Gzip       bool
}

// elevationGrid is one (time, level) slice of an elevation variable:
// lat-major rows of longitude samples, in meters.
type elevationGrid struct {
	lat, lon []float64
	heights  [][]float64 // heights[latIdx][lonIdx]
}

func sliceElevation(a *cube.Array, coords map[string][]float64, timeIdx, levelIdx int) (*elevationGrid, error) {
	axisPos := map[string]int{}
	for i, d := range a.Dims {
		axisPos[d] = i
	}
	for _, want := range []string{"time", "level", "lat", "lon"} {
		if _, ok := axisPos[want]; !ok {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("elevation variable missing %q dimension", want))
		}
	}

	lat := coords["lat"]
	lon := coords["lon"]
	heights := make([][]float64, len(lat))

	strides := make([]int, len(a.Shape))
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= a.Shape[i]
	}

	for latI := range lat {
		row := make([]float64, len(lon))
		for lonI := range lon {
			idx := make([]int, len(a.Shape))
			idx[axisPos["time"]] = timeIdx
			idx[axisPos["level"]] = levelIdx
			idx[axisPos["lat"]] = latI
			idx[axisPos["lon"]] = lonI
			flat := 0
			for d, v := range idx {
				flat += v * strides[d]
			}
			row[lonI] = float64(a.Data[flat])
		}
		heights[latI] = row
	}
	return &elevationGrid{lat: lat, lon: lon, heights: heights}, nil
}

func nearestIndex(xs []float64, v float64) int {
	lo, hi := 0, len(xs)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if xs[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo > 0 && math.Abs(xs[lo-1]-v) <= math.Abs(xs[lo]-v) {
		return lo - 1
	}
	return lo
}

func (g *elevationGrid) sampleNearest(lon, lat float64) float64 {
	if len(g.lat) == 0 || len(g.lon) == 0 {
		return 0
	}
	latI := nearestIndex(g.lat, clamp(lat, g.lat[0], g.lat[len(g.lat)-1]))
	lonI := nearestIndex(g.lon, clamp(lon, g.lon[0], g.lon[len(g.lon)-1]))
	return g.heights[latI][lonI]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// RenderUnit renders every terrain tile in [opts.MinZoom, opts.MaxZoom]
// covering variable's grid extent at the given time/level indices. It
// returns the paths written (not including layer.json).
func RenderUnit(c *cube.Cube, variable string, levelIdx, timeIdx int, opts Options) ([]string, error) {
	if opts.GridSize < 2 {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("terrain grid_size must be >= 2, got %d", opts.GridSize))
	}

	a, ok := c.Dataset.Vars[variable]
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown variable %q", variable))
	}
	g, err := sliceElevation(a, c.Dataset.Coords, timeIdx, levelIdx)
	if err != nil {
		return nil, err
	}

	rect := pyramid.GeoRect{West: g.lon[0], East: g.lon[len(g.lon)-1], South: g.lat[0], North: g.lat[len(g.lat)-1]}
	if err := rect.Validate(); err != nil {
		return nil, err
	}

	var written []string
	err = pyramid.IterTilePyramid(opts.Projection, rect, opts.MinZoom, opts.MaxZoom, func(tile pyramid.TileID) bool {
		bounds := opts.Projection.TileBounds(tile.Z, tile.X, tile.Y)
		tr := pyramid.GeoRect{West: bounds.West, South: bounds.South, East: bounds.East, North: bounds.North}
		heights := sampleHeights(g, tr, opts.GridSize)

		payload, encErr := qmesh.Encode(tr, heights, qmesh.Options{Gzip: opts.Gzip})
		if encErr != nil {
			err = encErr
			return false
		}

		path := filepath.Join(opts.Root, fmt.Sprintf("%d", tile.Z), fmt.Sprintf("%d", tile.X), fmt.Sprintf("%d.terrain", tile.Y))
		if werr := writeTerrainTile(path, payload); werr != nil {
			err = werr
			return false
		}
		written = append(written, path)
		return true
	})
	if err != nil {
		return nil, err
	}
	return written, nil
}

func sampleHeights(g *elevationGrid, rect pyramid.GeoRect, gridSize int) [][]float64 {
	heights := make([][]float64, gridSize)
	for r := 0; r < gridSize; r++ {
		lat := rect.North - float64(r)/float64(gridSize-1)*(rect.North-rect.South)
		row := make([]float64, gridSize)
		for c := 0; c < gridSize; c++ {
			lon := rect.West + float64(c)/float64(gridSize-1)*(rect.East-rect.West)
			row[c] = g.sampleNearest(lon, lat)
		}
		heights[r] = row
	}
	return heights
}

func writeTerrainTile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create terrain directory", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write terrain tile: %s", path), err)
	}
	return nil
}

// LayerJSON is the minimal tilejson document layer.json must carry.
type LayerJSON struct {
	TileJSON      string            `json:"tilejson"`
	Scheme        string            `json:"scheme"`
	Projection    string            `json:"projection"`
	Bounds        [4]float64        `json:"bounds"`
	MinZoom       int               `json:"minzoom"`
	MaxZoom       int               `json:"maxzoom"`
	Available     [][]pyramid.Range `json:"available"`
	ExtensionList []string          `json:"extensionList,omitempty"`
}

// BuildLayerJSON assembles the layer.json descriptor for a rendered terrain
// pyramid. withNormals controls whether "octvertexnormals" is advertised.
func BuildLayerJSON(projection proj.Projection, rect pyramid.GeoRect, minZoom, maxZoom int, withNormals bool) (*LayerJSON, error) {
	available, err := pyramid.AvailableRanges(projection, rect, minZoom, maxZoom)
	if err != nil {
		return nil, err
	}
	doc := &LayerJSON{
		TileJSON:   "2.1.0",
		Scheme:     "tms",
		Projection: "EPSG:4326",
		Bounds:     [4]float64{rect.West, rect.South, rect.East, rect.North},
		MinZoom:    minZoom,
		MaxZoom:    maxZoom,
		Available:  available,
	}
	if withNormals {
		doc.ExtensionList = []string{"octvertexnormals"}
	}
	return doc, nil
}

// WriteLayerJSON marshals and writes doc to path.
func WriteLayerJSON(doc *LayerJSON, path string) error {
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.EncodeErr, "failed to marshal layer.json", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create layer.json directory", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write layer.json: %s", path), err)
	}
	return nil
}
