package pyramid

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dankermu/digital-earth/internal/proj"
)

func quadrant() GeoRect {
	return GeoRect{West: 0, South: 0, East: 90, North: 90}
}

func TestGeoRectBoundRoundTrip(t *testing.T) {
	rect := quadrant()
	b := rect.Bound()
	assert.Equal(t, orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{90, 90}}, b)
	assert.Equal(t, rect, GeoRectFromBound(b))
}

func TestTileRangeForRectangleQuadrant(t *testing.T) {
	p := proj.EPSG4326{}
	r, err := TileRangeForRectangle(p, quadrant(), 1)
	require.NoError(t, err)
	assert.Equal(t, Range{StartX: 2, StartY: 1, EndX: 2, EndY: 1}, r)
}

func TestAvailableRangesQuadrant(t *testing.T) {
	p := proj.EPSG4326{}
	ranges, err := AvailableRanges(p, quadrant(), 0, 1)
	require.NoError(t, err)
	require.Len(t, ranges, 2)
	assert.Equal(t, []Range{{StartX: 1, StartY: 0, EndX: 1, EndY: 0}}, ranges[0])
	assert.Equal(t, []Range{{StartX: 2, StartY: 1, EndX: 2, EndY: 1}}, ranges[1])
}

func TestIterTilePyramidCoversExactlyTheRange(t *testing.T) {
	p := proj.EPSG4326{}
	var got []TileID
	err := IterTilePyramid(p, quadrant(), 0, 1, func(id TileID) bool {
		got = append(got, id)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, []TileID{
		{Z: 0, X: 1, Y: 0},
		{Z: 1, X: 2, Y: 1},
	}, got)
}

func TestIterTilePyramidEarlyStop(t *testing.T) {
	p := proj.EPSG4326{}
	count := 0
	err := IterTilePyramid(p, GeoRect{West: -180, South: -90, East: 180, North: 90}, 2, 2, func(id TileID) bool {
		count++
		return count < 3
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestTileRangeForRectangleWholeWorld(t *testing.T) {
	p := proj.EPSG4326{}
	rect := GeoRect{West: -180, South: -90, East: 180, North: 90}
	for z := 0; z <= 3; z++ {
		r, err := TileRangeForRectangle(p, rect, z)
		require.NoError(t, err)
		assert.Equal(t, 0, r.StartX)
		assert.Equal(t, 0, r.StartY)
		assert.Equal(t, p.NumX(z)-1, r.EndX)
		assert.Equal(t, p.NumY(z)-1, r.EndY)
	}
}

func TestValidateRejectsBadRectangle(t *testing.T) {
	cases := []GeoRect{
		{West: 10, South: 0, East: 5, North: 10},  // west >= east
		{West: 0, South: 10, East: 10, North: 5},  // south >= north
		{West: -200, South: 0, East: 10, North: 10},
		{West: 0, South: -100, East: 10, North: 10},
	}
	for _, rect := range cases {
		assert.Error(t, rect.Validate())
	}
}

func TestValidateZoomRange(t *testing.T) {
	p := proj.EPSG4326{}
	_, err := TileRangeForRectangle(p, quadrant(), -1)
	assert.Error(t, err)

	_, err = AvailableRanges(p, quadrant(), 2, 1)
	assert.Error(t, err)
}

func TestTileRangeForRectangleWebMercator(t *testing.T) {
	p := proj.WebMercator{}
	rect := GeoRect{West: -10, South: -10, East: 10, North: 10}
	r, err := TileRangeForRectangle(p, rect, 4)
	require.NoError(t, err)
	assert.LessOrEqual(t, r.StartX, r.EndX)
	assert.LessOrEqual(t, r.StartY, r.EndY)
	// Web-Mercator row 0 is the northernmost row: the rectangle straddles
	// the equator, so its row range must include the grid's vertical
	// midpoint on both sides.
	mid := p.NumY(4) / 2
	assert.LessOrEqual(t, r.StartY, mid)
	assert.GreaterOrEqual(t, r.EndY, mid-1)
}
