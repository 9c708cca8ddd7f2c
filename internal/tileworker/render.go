package tileworker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/HugoSmits86/nativewebp"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
	"github.com/dankermu/digital-earth/internal/proj"
	"github.com/dankermu/digital-earth/internal/pyramid"
)

// Format selects the tile image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatWebP Format = "webp"
)

// Options configures one RenderUnit call.
type Options struct {
	Root       string
	Layer      string
	MinZoom    int
	MaxZoom    int
	TileSize   int
	Projection proj.Projection
	Format     Format
	Legend     *Legend
}

func (ext Format) String() string { return string(ext) }

// TimeKey formats a Unix-seconds timestamp per the "YYYYMMDDTHHMMSSZ"
// convention used in tile paths and run bookkeeping.
func TimeKey(unixSeconds float64) string {
	return time.Unix(int64(unixSeconds), 0).UTC().Format("20060102T150405Z")
}

// grid is one (time, level) slice of a variable: lat-major rows of
// longitude samples, plus the coordinate values each row/column represents.
type grid struct {
	lat, lon []float64
	values   [][]float32 // values[latIdx][lonIdx]
}

func sliceGrid(a *cube.Array, coords map[string][]float64, timeIdx, levelIdx int) (*grid, error) {
	axisPos := map[string]int{}
	for i, d := range a.Dims {
		axisPos[d] = i
	}
	for _, want := range []string{"time", "level", "lat", "lon"} {
		if _, ok := axisPos[want]; !ok {
			return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("variable missing %q dimension", want))
		}
	}

	lat := coords["lat"]
	lon := coords["lon"]
	values := make([][]float32, len(lat))

	strides := make([]int, len(a.Shape))
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= a.Shape[i]
	}

	fixed := map[string]int{"time": timeIdx, "level": levelIdx}
	for latI := range lat {
		row := make([]float32, len(lon))
		for lonI := range lon {
			idx := make([]int, len(a.Shape))
			idx[axisPos["time"]] = fixed["time"]
			idx[axisPos["level"]] = fixed["level"]
			idx[axisPos["lat"]] = latI
			idx[axisPos["lon"]] = lonI
			flat := 0
			for d, v := range idx {
				flat += v * strides[d]
			}
			row[lonI] = a.Data[flat]
		}
		values[latI] = row
	}
	return &grid{lat: lat, lon: lon, values: values}, nil
}

// sampleNearest returns the grid value nearest to (lon, lat), or NaN if the
// point falls outside the grid's coverage.
func (g *grid) sampleNearest(lon, lat float64) float32 {
	if len(g.lat) == 0 || len(g.lon) == 0 {
		return float32(math.NaN())
	}
	if lat < g.lat[0] || lat > g.lat[len(g.lat)-1] || lon < g.lon[0] || lon > g.lon[len(g.lon)-1] {
		return float32(math.NaN())
	}
	latI := nearestIndex(g.lat, lat)
	lonI := nearestIndex(g.lon, lon)
	return g.values[latI][lonI]
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

// RenderUnit renders every tile in [opts.MinZoom, opts.MaxZoom] covering
// variable's grid extent at the given time/level indices, plus the layer's
// legend side-cars. It returns the paths written.
func RenderUnit(c *cube.Cube, variable string, levelIdx, timeIdx int, opts Options) ([]string, error) {
	if opts.Legend == nil {
		return nil, apperr.New(apperr.InvalidArgument, "legend is required")
	}
	if opts.TileSize <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "tile_size must be positive")
	}

	a, ok := c.Dataset.Vars[variable]
	if !ok {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown variable %q", variable))
	}
	g, err := sliceGrid(a, c.Dataset.Coords, timeIdx, levelIdx)
	if err != nil {
		return nil, err
	}

	timeVal := c.Dataset.Coords["time"][timeIdx]
	timeKey := TimeKey(timeVal)
	levelVal := c.Dataset.Coords["level"][levelIdx]

	rect := pyramid.GeoRect{West: g.lon[0], East: g.lon[len(g.lon)-1], South: g.lat[0], North: g.lat[len(g.lat)-1]}
	if err := rect.Validate(); err != nil {
		return nil, err
	}

	var written []string
	ext := opts.Format
	if ext == "" {
		ext = FormatPNG
	}

	err = pyramid.IterTilePyramid(opts.Projection, rect, opts.MinZoom, opts.MaxZoom, func(tile pyramid.TileID) bool {
		img := rasterizeTile(g, opts.Projection, opts.Legend, tile, opts.TileSize)
		path := filepath.Join(opts.Root, opts.Layer, timeKey, fmt.Sprintf("%d", int(levelVal)),
			fmt.Sprintf("%d", tile.Z), fmt.Sprintf("%d", tile.X), fmt.Sprintf("%d.%s", tile.Y, ext))
		if werr := writeTileImage(path, img, ext); werr != nil {
			err = werr
			return false
		}
		written = append(written, path)
		return true
	})
	if err != nil {
		return nil, err
	}

	layerLegendPath := filepath.Join(opts.Root, opts.Layer, "legend.json")
	levelLegendPath := filepath.Join(opts.Root, opts.Layer, fmt.Sprintf("%d", int(levelVal)), "legend.json")
	if err := writeLegendSidecars(opts.Legend, layerLegendPath, levelLegendPath); err != nil {
		return nil, err
	}
	written = append(written, layerLegendPath, levelLegendPath)

	return written, nil
}

func rasterizeTile(g *grid, p proj.Projection, legend *Legend, tile pyramid.TileID, tileSize int) *image.RGBA {
	bounds := p.TileBounds(tile.Z, tile.X, tile.Y)
	img := image.NewRGBA(image.Rect(0, 0, tileSize, tileSize))
	for py := 0; py < tileSize; py++ {
		lat := bounds.North - (float64(py)+0.5)/float64(tileSize)*(bounds.North-bounds.South)
		for px := 0; px < tileSize; px++ {
			lon := bounds.West + (float64(px)+0.5)/float64(tileSize)*(bounds.East-bounds.West)
			v := g.sampleNearest(lon, lat)
			img.Set(px, py, legend.ValueToRGBA(float64(v)))
		}
	}
	return img
}

func writeTileImage(path string, img *image.RGBA, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create tile directory", err)
	}
	var buf bytes.Buffer
	switch format {
	case FormatWebP:
		if err := nativewebp.Encode(&buf, img, nil); err != nil {
			return apperr.Wrap(apperr.EncodeErr, "failed to encode webp tile", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return apperr.Wrap(apperr.EncodeErr, "failed to encode png tile", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write tile: %s", path), err)
	}
	return nil
}

func writeLegendSidecars(legend *Legend, paths ...string) error {
	doc, err := legend.document()
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.EncodeErr, "failed to marshal legend.json", err)
	}
	for _, path := range paths {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return apperr.Wrap(apperr.StorageErr, "failed to create legend directory", err)
		}
		if err := os.WriteFile(path, payload, 0o644); err != nil {
			return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write legend: %s", path), err)
		}
	}
	return nil
}
