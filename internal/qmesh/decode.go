package qmesh

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Header holds the decoded 88-byte quantized-mesh header.
type Header struct {
	Center              [3]float64
	MinHeight, MaxHeight float32
	BoundingSphereCenter [3]float64
	BoundingSphereRadius float64
	HorizonOcclusion    [3]float64
}

// Mesh is a fully decoded quantized-mesh payload.
type Mesh struct {
	Header         Header
	U, V, Height   []int
	TriangleIndices []int
	West, South, East, North []int
}

// Decode parses a payload previously produced by Encode, transparently
// un-gzipping it if it starts with the gzip magic bytes.
func Decode(payload []byte) (*Mesh, error) {
	if len(payload) >= 2 && payload[0] == 0x1f && payload[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to open gzip quantized-mesh payload", err)
		}
		raw, err := io.ReadAll(zr)
		if err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to read gzip quantized-mesh payload", err)
		}
		payload = raw
	}
	if len(payload) < headerSize {
		return nil, apperr.New(apperr.DecodeErr, "quantized-mesh payload shorter than header")
	}

	r := bytes.NewReader(payload)
	var header Header
	binary.Read(r, binary.LittleEndian, &header.Center)
	binary.Read(r, binary.LittleEndian, &header.MinHeight)
	binary.Read(r, binary.LittleEndian, &header.MaxHeight)
	binary.Read(r, binary.LittleEndian, &header.BoundingSphereCenter)
	binary.Read(r, binary.LittleEndian, &header.BoundingSphereRadius)
	binary.Read(r, binary.LittleEndian, &header.HorizonOcclusion)

	var vertexCount uint32
	if err := binary.Read(r, binary.LittleEndian, &vertexCount); err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, "failed to read vertex count", err)
	}

	readU16DeltaZigzag := func(count int) ([]int, error) {
		encoded := make([]int, count)
		for i := range encoded {
			var u16 uint16
			if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
				return nil, apperr.Wrap(apperr.DecodeErr, "failed to read vertex stream", err)
			}
			encoded[i] = int(u16)
		}
		return DeltaZigzagDecode(encoded), nil
	}

	u, err := readU16DeltaZigzag(int(vertexCount))
	if err != nil {
		return nil, err
	}
	v, err := readU16DeltaZigzag(int(vertexCount))
	if err != nil {
		return nil, err
	}
	h, err := readU16DeltaZigzag(int(vertexCount))
	if err != nil {
		return nil, err
	}

	consumed := headerSize + 4 + 3*int(vertexCount)*2
	if consumed%2 != 0 {
		if _, err := r.Seek(1, io.SeekCurrent); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to skip alignment padding", err)
		}
	}

	var triangleCount uint32
	if err := binary.Read(r, binary.LittleEndian, &triangleCount); err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, "failed to read triangle count", err)
	}
	codes := make([]int, triangleCount*3)
	for i := range codes {
		var u16 uint16
		if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, "failed to read triangle indices", err)
		}
		codes[i] = int(u16)
	}
	triangles := HighWaterMarkDecode(codes)

	readEdge := func(label string) ([]int, error) {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, fmt.Sprintf("failed to read %s edge count", label), err)
		}
		edge := make([]int, count)
		for i := range edge {
			var u16 uint16
			if err := binary.Read(r, binary.LittleEndian, &u16); err != nil {
				return nil, apperr.Wrap(apperr.DecodeErr, fmt.Sprintf("failed to read %s edge indices", label), err)
			}
			edge[i] = int(u16)
		}
		return edge, nil
	}

	west, err := readEdge("west")
	if err != nil {
		return nil, err
	}
	south, err := readEdge("south")
	if err != nil {
		return nil, err
	}
	east, err := readEdge("east")
	if err != nil {
		return nil, err
	}
	north, err := readEdge("north")
	if err != nil {
		return nil, err
	}

	return &Mesh{
		Header:          header,
		U:               u,
		V:               v,
		Height:          h,
		TriangleIndices: triangles,
		West:            west,
		South:           south,
		East:            east,
		North:           north,
	}, nil
}
