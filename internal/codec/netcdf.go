package codec

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zstd"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
)

// netcdfMagic tags the single-file container so Open can tell it apart
// from an unrelated file without relying on the extension.
var netcdfMagic = [4]byte{'D', 'E', 'N', '1'}

// writeNetCDF serializes c as a single file: magic, a JSON header giving
// dims/coords/per-variable metadata, then one length-prefixed zstd-
// compressed float32 blob per variable (gzip+shuffle in the reference
// NetCDF encoding; zstd here plays the same "compress each chunked
// variable" role). The file is written to a temp path in the same
// directory and renamed into place so a crash mid-write never leaves a
// partial file at outputPath.
func writeNetCDF(c *cube.Cube, outputPath string, opts WriteOptions) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create output directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(outputPath), ".tmp-*.nc")
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create temp file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := encodeNetCDF(c, tmp, opts); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to close temp file", err)
	}
	if err := os.Rename(tmpPath, outputPath); err != nil {
		return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write NetCDF DataCube: %s", outputPath), err)
	}
	return nil
}

func encodeNetCDF(c *cube.Cube, w io.Writer, opts WriteOptions) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(netcdfMagic[:]); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write NetCDF DataCube", err)
	}

	header := buildHeader(c, opts, "")
	headerBytes, err := marshalHeader(header)
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to encode header", err)
	}
	if err := writeUint32(bw, uint32(len(headerBytes))); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write NetCDF DataCube", err)
	}
	if _, err := bw.Write(headerBytes); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write NetCDF DataCube", err)
	}

	names := sortedVarNames(c.Dataset.Vars)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to initialize compressor", err)
	}
	defer enc.Close()

	for _, name := range names {
		raw := encodeFloat32LE(c.Dataset.Vars[name].Data)
		compressed := enc.EncodeAll(raw, nil)
		if err := writeUint32(bw, uint32(len(compressed))); err != nil {
			return apperr.Wrap(apperr.StorageErr, "failed to write NetCDF DataCube", err)
		}
		if _, err := bw.Write(compressed); err != nil {
			return apperr.Wrap(apperr.StorageErr, "failed to write NetCDF DataCube", err)
		}
	}

	return bw.Flush()
}

func openNetCDF(path string) (*cube.Cube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to open NetCDF DataCube: %s", path), err)
	}
	defer f.Close()

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil || magic != netcdfMagic {
		return nil, apperr.New(apperr.StorageErr, fmt.Sprintf("not a recognized DataCube container: %s", path))
	}

	headerLen, err := readUint32(f)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to read header length", err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(f, headerBytes); err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to read header", err)
	}
	var header containerHeader
	if err := unmarshalHeader(headerBytes, &header); err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to decode header", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to initialize decompressor", err)
	}
	defer dec.Close()

	names := sortedVarNames(header.Variables)
	vars := make(map[string]*cube.Array, len(names))
	for _, name := range names {
		n, err := readUint32(f)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageErr, "failed to read variable block length", err)
		}
		compressed := make([]byte, n)
		if _, err := io.ReadFull(f, compressed); err != nil {
			return nil, apperr.Wrap(apperr.StorageErr, "failed to read variable block", err)
		}
		raw, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to decompress variable %q", name), err)
		}
		meta := header.Variables[name]
		vars[name] = &cube.Array{
			Dims:     meta.Dims,
			Shape:    meta.Shape,
			Data:     decodeFloat32LE(raw),
			Attrs:    meta.Attrs,
			Encoding: meta.Encoding,
		}
	}

	return &cube.Cube{Dataset: &cube.Dataset{Coords: header.Coords, Vars: vars}}, nil
}

func sortedVarNames[T any](vars map[string]T) []string {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}
