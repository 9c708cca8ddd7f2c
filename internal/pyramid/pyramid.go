// Package pyramid enumerates the tiles covering a geographic rectangle
// across a zoom range, and builds the per-zoom "available" rectangle list
// consumed by layer.json.
package pyramid

import (
	"github.com/paulmach/orb"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/proj"
)

// TileID identifies a single tile.
type TileID struct {
	Z, X, Y int
}

// GeoRect is a validated geographic rectangle.
type GeoRect struct {
	West, South, East, North float64
}

// Validate checks that the rectangle's edges are in range and ordered.
func (r GeoRect) Validate() error {
	if r.West < -180 || r.East > 180 {
		return apperr.New(apperr.InvalidArgument, "rectangle longitude out of [-180, 180]")
	}
	if r.South < -90 || r.North > 90 {
		return apperr.New(apperr.InvalidArgument, "rectangle latitude out of [-90, 90]")
	}
	if !(r.West < r.East) {
		return apperr.New(apperr.InvalidArgument, "rectangle west must be < east")
	}
	if !(r.South < r.North) {
		return apperr.New(apperr.InvalidArgument, "rectangle south must be < north")
	}
	return nil
}

// Bound returns rect as an orb.Bound, for interop with orb-based geometry
// code (bbox metadata, spatial indexing) elsewhere in the pipeline.
func (r GeoRect) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{r.West, r.South},
		Max: orb.Point{r.East, r.North},
	}
}

// GeoRectFromBound converts an orb.Bound back into a GeoRect.
func GeoRectFromBound(b orb.Bound) GeoRect {
	return GeoRect{West: b.Min[0], South: b.Min[1], East: b.Max[0], North: b.Max[1]}
}

// Range is an inclusive tile index rectangle at one zoom level: every tile
// with StartX <= x <= EndX and StartY <= y <= EndY is covered.
type Range struct {
	StartX, StartY, EndX, EndY int
}

func validateZoomRange(minZoom, maxZoom int) error {
	if minZoom < 0 || maxZoom < 0 {
		return apperr.New(apperr.InvalidArgument, "zoom levels must be >= 0")
	}
	if minZoom > maxZoom {
		return apperr.New(apperr.InvalidArgument, "min_zoom must be <= max_zoom")
	}
	return nil
}

// edgeEpsilon is subtracted from a rectangle's east/north edge before
// indexing it, so a rectangle edge that lands exactly on a tile boundary
// resolves to the tile it bounds rather than spilling into the next one.
const edgeEpsilon = 1e-9

// TileRangeForRectangle returns the inclusive tile index rectangle covering
// rect at zoom z. West/south and east/north are indexed independently and
// then sorted into start/end, so the result is correct regardless of
// whether the projection's row index grows from the north pole or the
// south pole.
func TileRangeForRectangle(p proj.Projection, rect GeoRect, z int) (Range, error) {
	if err := rect.Validate(); err != nil {
		return Range{}, err
	}
	if z < 0 {
		return Range{}, apperr.New(apperr.InvalidArgument, "zoom must be >= 0")
	}

	xWest := p.LonToTileX(rect.West, z)
	xEast := p.LonToTileX(rect.East-edgeEpsilon, z)
	ySouth := p.LatToTileY(rect.South, z)
	yNorth := p.LatToTileY(rect.North-edgeEpsilon, z)

	startX, endX := minMax(xWest, xEast)
	startY, endY := minMax(ySouth, yNorth)

	return Range{StartX: startX, StartY: startY, EndX: endX, EndY: endY}, nil
}

func minMax(a, b int) (int, int) {
	if a <= b {
		return a, b
	}
	return b, a
}

// IterTilePyramid lazily yields every tile covering rect across
// [minZoom, maxZoom], zoom by zoom. yield returning false stops iteration
// early.
func IterTilePyramid(p proj.Projection, rect GeoRect, minZoom, maxZoom int, yield func(TileID) bool) error {
	if err := rect.Validate(); err != nil {
		return err
	}
	if err := validateZoomRange(minZoom, maxZoom); err != nil {
		return err
	}

	for z := minZoom; z <= maxZoom; z++ {
		r, err := TileRangeForRectangle(p, rect, z)
		if err != nil {
			return err
		}
		for y := r.StartY; y <= r.EndY; y++ {
			for x := r.StartX; x <= r.EndX; x++ {
				if !yield(TileID{Z: z, X: x, Y: y}) {
					return nil
				}
			}
		}
	}
	return nil
}

// AvailableRanges returns, for each zoom in [minZoom, maxZoom], the list of
// Range rectangles suitable for layer.json's "available" field. There is
// exactly one Range per zoom (a single bounding rectangle of tile indices).
func AvailableRanges(p proj.Projection, rect GeoRect, minZoom, maxZoom int) ([][]Range, error) {
	if err := rect.Validate(); err != nil {
		return nil, err
	}
	if err := validateZoomRange(minZoom, maxZoom); err != nil {
		return nil, err
	}

	out := make([][]Range, 0, maxZoom-minZoom+1)
	for z := minZoom; z <= maxZoom; z++ {
		r, err := TileRangeForRectangle(p, rect, z)
		if err != nil {
			return nil, err
		}
		out = append(out, []Range{r})
	}
	return out, nil
}
