// Package codec implements the compressed on-disk representation of a
// cube.Cube: a NetCDF-shaped single-file container and a Zarr-shaped
// directory container. Each variable is stored as one zstd-compressed
// blob; the chunk shape from WriteOptions is recorded in the header, but
// the data is not split into chunks. The format is selected by path suffix the same way the original storage layer infers
// format from a `.zarr` directory vs a file.
package codec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
)

// Format names the on-disk container shape.
type Format string

const (
	FormatNetCDF Format = "netcdf"
	FormatZarr   Format = "zarr"
)

// ZarrCodec is the compressor name recorded in a Zarr store's metadata.
// Writing a Zarr store accepts only the names below, but every variable is
// compressed with zstd whichever name is chosen.
type ZarrCodec string

const (
	CodecZstd ZarrCodec = "zstd"
	CodecLZ4  ZarrCodec = "lz4"
	CodecZlib ZarrCodec = "zlib"
)

// WriteOptions configures chunking and compression for both formats.
type WriteOptions struct {
	CompressionLevel int
	ChunkTime        int
	ChunkLevel       int
	ChunkLat         int
	ChunkLon         int
	ZarrCodec        ZarrCodec
}

// DefaultWriteOptions matches the reference chunk/compression defaults.
func DefaultWriteOptions() WriteOptions {
	return WriteOptions{
		CompressionLevel: 4,
		ChunkTime:        1,
		ChunkLevel:       1,
		ChunkLat:         256,
		ChunkLon:         256,
		ZarrCodec:        CodecZstd,
	}
}

func inferFormat(path string) (Format, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return FormatZarr, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".zarr") {
		return FormatZarr, nil
	}
	return FormatNetCDF, nil
}

func chunkShape(shape map[string]int, opts WriteOptions) [4]int {
	clampDim := func(size, chunk int) int {
		if chunk < size {
			return chunk
		}
		return size
	}
	return [4]int{
		clampDim(shape["time"], opts.ChunkTime),
		clampDim(shape["level"], opts.ChunkLevel),
		clampDim(shape["lat"], opts.ChunkLat),
		clampDim(shape["lon"], opts.ChunkLon),
	}
}

// Write serializes c to outputPath. Format is inferred from the path
// (a directory or `.zarr` suffix => Zarr, otherwise NetCDF) unless
// explicitly given. Writes are atomic: NetCDF writes to a temp file in the
// same directory then renames over outputPath; Zarr writes its chunk store
// to a temp directory then renames it into place.
func Write(c *cube.Cube, outputPath string, format Format, opts *WriteOptions) error {
	resolved := format
	if resolved == "" {
		inferred, err := inferFormat(outputPath)
		if err != nil {
			return err
		}
		resolved = inferred
	}
	options := DefaultWriteOptions()
	if opts != nil {
		options = *opts
	}

	switch resolved {
	case FormatNetCDF:
		return writeNetCDF(c, outputPath, options)
	case FormatZarr:
		return writeZarr(c, outputPath, options)
	default:
		return apperr.New(apperr.StorageErr, fmt.Sprintf("unsupported cube format: %q", resolved))
	}
}

// Open reads a cube previously written by Write. Both formats are
// decompressed and decoded fully into memory when opened; nothing is read
// lazily.
func Open(path string, format Format) (*cube.Cube, error) {
	resolved := format
	if resolved == "" {
		inferred, err := inferFormat(path)
		if err != nil {
			return nil, err
		}
		resolved = inferred
	}

	switch resolved {
	case FormatNetCDF:
		return openNetCDF(path)
	case FormatZarr:
		return openZarr(path)
	default:
		return nil, apperr.New(apperr.StorageErr, fmt.Sprintf("unsupported cube format: %q", resolved))
	}
}

// containerHeader is the shared on-disk envelope (header + per-variable
// compressed chunk blobs) used by both writeNetCDF/openNetCDF and
// writeZarr/openZarr; the two formats differ only in directory layout.
type containerHeader struct {
	Dims       map[string]int      `json:"dims"`
	Coords     map[string][]float64 `json:"coords"`
	Variables  map[string]varMeta  `json:"variables"`
	ChunkShape [4]int              `json:"chunk_shape"`
	ZarrCodec  ZarrCodec           `json:"zarr_codec,omitempty"`
}

type varMeta struct {
	Dims     []string          `json:"dims"`
	Shape    []int             `json:"shape"`
	Attrs    map[string]string `json:"attrs"`
	Encoding map[string]float64 `json:"encoding"`
}

func buildHeader(c *cube.Cube, opts WriteOptions, zarrCodec ZarrCodec) containerHeader {
	shape := map[string]int{
		"time":  len(c.Dataset.Coords["time"]),
		"level": len(c.Dataset.Coords["level"]),
		"lat":   len(c.Dataset.Coords["lat"]),
		"lon":   len(c.Dataset.Coords["lon"]),
	}
	vars := make(map[string]varMeta, len(c.Dataset.Vars))
	for name, a := range c.Dataset.Vars {
		vars[name] = varMeta{Dims: a.Dims, Shape: a.Shape, Attrs: a.Attrs, Encoding: a.Encoding}
	}
	return containerHeader{
		Dims:       shape,
		Coords:     c.Dataset.Coords,
		Variables:  vars,
		ChunkShape: chunkShape(shape, opts),
		ZarrCodec:  zarrCodec,
	}
}

func encodeFloat32LE(data []float32) []byte {
	buf := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeFloat32LE(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out
}

func marshalHeader(h containerHeader) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalHeader(data []byte, h *containerHeader) error {
	return json.Unmarshal(data, h)
}
