package proj

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEPSG4326RootLevel(t *testing.T) {
	p := EPSG4326{}
	assert.Equal(t, 2, p.NumX(0))
	assert.Equal(t, 1, p.NumY(0))
}

func TestEPSG4326TileBoundsInvariant(t *testing.T) {
	p := EPSG4326{}
	for z := 0; z <= 3; z++ {
		nx, ny := p.NumX(z), p.NumY(z)
		for x := 0; x < nx; x++ {
			for y := 0; y < ny; y++ {
				b := p.TileBounds(z, x, y)
				require.Less(t, b.West, b.East)
				require.Less(t, b.South, b.North)
			}
		}
	}
}

func TestEPSG4326BoundaryLatLon(t *testing.T) {
	p := EPSG4326{}
	for z := 0; z <= 4; z++ {
		assert.Equal(t, p.NumX(z)-1, p.LonToTileX(180.0, z))
		assert.Equal(t, 0, p.LonToTileX(-180.0, z))
		// Row 0 is the southernmost row: y grows toward the north pole.
		assert.Equal(t, 0, p.LatToTileY(-90.0, z))
		assert.Equal(t, p.NumY(z)-1, p.LatToTileY(90.0, z))
	}
}

func TestWebMercatorClampsLatitude(t *testing.T) {
	p := WebMercator{}
	assert.Equal(t, p.LatToTileY(webMercatorMaxLat, 3), p.LatToTileY(89.9, 3))
	assert.Equal(t, p.LatToTileY(-webMercatorMaxLat, 3), p.LatToTileY(-89.9, 3))
}

func TestByCRS(t *testing.T) {
	_, ok := ByCRS("EPSG:4326")
	assert.True(t, ok)
	_, ok = ByCRS("EPSG:9999")
	assert.False(t, ok)
}
