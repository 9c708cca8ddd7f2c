package qmesh

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/pyramid"
)

// Options configures Encode.
type Options struct {
	Gzip bool
}

const headerSize = 88

// Encode renders an N×N height grid (meters, row-major with row 0 at the
// rectangle's north edge) covering rect into a quantized-mesh payload.
func Encode(rect pyramid.GeoRect, heights [][]float64, opts Options) ([]byte, error) {
	n := len(heights)
	if n < 2 {
		return nil, apperr.New(apperr.InvalidArgument, fmt.Sprintf("quantized-mesh grid must have N >= 2, got N=%d", n))
	}
	for _, row := range heights {
		if len(row) != n {
			return nil, apperr.New(apperr.InvalidArgument, "quantized-mesh grid must be square")
		}
		for _, h := range row {
			if math.IsNaN(h) || math.IsInf(h, 0) {
				return nil, apperr.New(apperr.InvalidArgument, "quantized-mesh grid contains non-finite height values")
			}
		}
	}

	minH, maxH := heights[0][0], heights[0][0]
	for _, row := range heights {
		for _, h := range row {
			if h < minH {
				minH = h
			}
			if h > maxH {
				maxH = h
			}
		}
	}

	vertexCount := n * n
	idx := func(r, c int) int { return r*n + c }

	u := make([]int, vertexCount)
	v := make([]int, vertexCount)
	h := make([]int, vertexCount)
	ecefPoints := make([][3]float64, vertexCount)

	hRange := maxH - minH
	if hRange < 1e-6 {
		hRange = 1e-6
	}
	for r := 0; r < n; r++ {
		lat := rect.North - float64(r)/float64(n-1)*(rect.North-rect.South)
		for c := 0; c < n; c++ {
			lon := rect.West + float64(c)/float64(n-1)*(rect.East-rect.West)
			height := heights[r][c]

			i := idx(r, c)
			u[i] = clampU16(int(math.Round(float64(c) / float64(n-1) * horizontalU16Extent)))
			v[i] = clampU16(int(math.Round((1 - float64(r)/float64(n-1)) * horizontalU16Extent)))
			h[i] = clampU16(int(math.Round((height - minH) / hRange * horizontalU16Extent)))

			x, y, z := WGS84ToECEF(lat, lon, height)
			ecefPoints[i] = [3]float64{x, y, z}
		}
	}

	center, radius := boundingSphere(ecefPoints)
	centerLat := (rect.North + rect.South) / 2
	centerLon := (rect.West + rect.East) / 2
	cx, cy, cz := WGS84ToECEF(centerLat, centerLon, (minH+maxH)/2)

	var buf bytes.Buffer
	writeFloat64 := func(f float64) { binary.Write(&buf, binary.LittleEndian, f) }
	writeFloat32 := func(f float32) { binary.Write(&buf, binary.LittleEndian, f) }

	writeFloat64(cx)
	writeFloat64(cy)
	writeFloat64(cz)
	writeFloat32(float32(minH))
	writeFloat32(float32(maxH))
	writeFloat64(center[0])
	writeFloat64(center[1])
	writeFloat64(center[2])
	writeFloat64(radius)
	// Horizon-occlusion point: a conservative choice pointing along the
	// center direction, scaled past the bounding sphere.
	occScale := 1.0
	if norm := math.Sqrt(cx*cx + cy*cy + cz*cz); norm > 0 {
		occScale = (norm + radius) / norm
	}
	writeFloat64(cx * occScale)
	writeFloat64(cy * occScale)
	writeFloat64(cz * occScale)

	if buf.Len() != headerSize {
		return nil, apperr.New(apperr.EncodeErr, fmt.Sprintf("internal error: header size %d != %d", buf.Len(), headerSize))
	}

	writeUint32(&buf, uint32(vertexCount))
	writeU16DeltaZigzag(&buf, u)
	writeU16DeltaZigzag(&buf, v)
	writeU16DeltaZigzag(&buf, h)

	if buf.Len()%2 != 0 {
		buf.WriteByte(0)
	}

	triangles, err := buildTriangleIndices(n)
	if err != nil {
		return nil, err
	}
	codes, err := HighWaterMarkEncode(triangles)
	if err != nil {
		return nil, apperr.Wrap(apperr.EncodeErr, "failed to encode triangle indices", err)
	}
	writeUint32(&buf, uint32(len(triangles)/3))
	for _, code := range codes {
		writeUint16(&buf, uint16(code))
	}

	west, south, east, north := edgeIndices(n)
	for _, edge := range [][]int{west, south, east, north} {
		writeUint32(&buf, uint32(len(edge)))
		for _, i := range edge {
			writeUint16(&buf, uint16(i))
		}
	}

	if !opts.Gzip {
		return buf.Bytes(), nil
	}

	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	if _, err := zw.Write(buf.Bytes()); err != nil {
		return nil, apperr.Wrap(apperr.EncodeErr, "failed to gzip quantized-mesh payload", err)
	}
	if err := zw.Close(); err != nil {
		return nil, apperr.Wrap(apperr.EncodeErr, "failed to gzip quantized-mesh payload", err)
	}
	return gz.Bytes(), nil
}

func clampU16(v int) int {
	if v < 0 {
		return 0
	}
	if v > int(horizontalU16Extent) {
		return int(horizontalU16Extent)
	}
	return v
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU16DeltaZigzag(buf *bytes.Buffer, values []int) {
	for _, e := range DeltaZigzagEncode(values) {
		writeUint16(buf, uint16(e))
	}
}

// buildTriangleIndices tiles each grid cell with two triangles split along
// the top-left-to-bottom-right diagonal.
func buildTriangleIndices(n int) ([]int, error) {
	idx := func(r, c int) int { return r*n + c }
	indices := make([]int, 0, 2*(n-1)*(n-1)*3)
	for r := 0; r < n-1; r++ {
		for c := 0; c < n-1; c++ {
			topLeft := idx(r, c)
			topRight := idx(r, c+1)
			bottomLeft := idx(r+1, c)
			bottomRight := idx(r+1, c+1)
			indices = append(indices, topLeft, bottomLeft, bottomRight)
			indices = append(indices, topLeft, bottomRight, topRight)
		}
	}
	return indices, nil
}

// edgeIndices returns vertex indices, in row-major order, along each of the
// grid's four edges. Row 0 is the rectangle's north edge.
func edgeIndices(n int) (west, south, east, north []int) {
	idx := func(r, c int) int { return r*n + c }
	for r := 0; r < n; r++ {
		west = append(west, idx(r, 0))
		east = append(east, idx(r, n-1))
	}
	for c := 0; c < n; c++ {
		north = append(north, idx(0, c))
		south = append(south, idx(n-1, c))
	}
	return west, south, east, north
}
