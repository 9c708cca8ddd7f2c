// Package qmesh implements the quantized-mesh terrain tile encoder: an
// ECEF-framed binary payload (header + delta-zigzag vertex streams +
// high-water-mark triangle indices + edge lists) produced from a
// rectangular height grid, matching the format served by standard 3-D
// terrain clients.
package qmesh

import "math"

// WGS-84 ellipsoid parameters.
const (
	wgs84SemiMajorAxis  = 6378137.0
	wgs84Flattening     = 1.0 / 298.257223563
	horizontalU16Extent = 32767.0
)

// WGS84ToECEF converts a geographic coordinate (degrees, meters) to
// Earth-centered, Earth-fixed Cartesian coordinates.
func WGS84ToECEF(latDeg, lonDeg, heightM float64) (x, y, z float64) {
	lat := latDeg * math.Pi / 180
	lon := lonDeg * math.Pi / 180

	e2 := wgs84Flattening * (2 - wgs84Flattening)
	sinLat := math.Sin(lat)
	primeVertical := wgs84SemiMajorAxis / math.Sqrt(1-e2*sinLat*sinLat)

	x = (primeVertical + heightM) * math.Cos(lat) * math.Cos(lon)
	y = (primeVertical + heightM) * math.Cos(lat) * math.Sin(lon)
	z = (primeVertical*(1-e2) + heightM) * sinLat
	return x, y, z
}

// boundingSphere returns the center and radius of the smallest sphere (by
// the naive centroid-then-max-distance construction) enclosing points.
func boundingSphere(points [][3]float64) (center [3]float64, radius float64) {
	if len(points) == 0 {
		return center, 0
	}
	var sx, sy, sz float64
	for _, p := range points {
		sx += p[0]
		sy += p[1]
		sz += p[2]
	}
	n := float64(len(points))
	center = [3]float64{sx / n, sy / n, sz / n}

	for _, p := range points {
		dx, dy, dz := p[0]-center[0], p[1]-center[1], p[2]-center[2]
		d := math.Sqrt(dx*dx + dy*dy + dz*dz)
		if d > radius {
			radius = d
		}
	}
	return center, radius
}
