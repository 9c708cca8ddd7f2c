package codec

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
)

const zarrMetadataFile = ".zmetadata.json"

// writeZarr lays out c as a directory: a consolidated metadata file plus
// one zstd-compressed chunk file per variable. Atomicity is achieved by
// building the whole store under a sibling temp directory and renaming it
// into place, matching zarr.to_zarr's "write then rename" expectation on
// filesystems where that's available.
func writeZarr(c *cube.Cube, outputPath string, opts WriteOptions) error {
	if opts.ZarrCodec != "" {
		switch opts.ZarrCodec {
		case CodecZstd, CodecLZ4, CodecZlib:
		default:
			return apperr.New(apperr.StorageErr, fmt.Sprintf("unsupported zarr_codec=%q", opts.ZarrCodec))
		}
	} else {
		opts.ZarrCodec = CodecZstd
	}

	parent := filepath.Dir(outputPath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create output directory", err)
	}

	tmpDir, err := os.MkdirTemp(parent, ".tmp-zarr-*")
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to create temp directory", err)
	}
	defer os.RemoveAll(tmpDir)

	header := buildHeader(c, opts, opts.ZarrCodec)
	headerBytes, err := marshalHeader(header)
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to encode header", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, zarrMetadataFile), headerBytes, 0o644); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write Zarr metadata", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.CompressionLevel)))
	if err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to initialize compressor", err)
	}
	defer enc.Close()

	for name, a := range c.Dataset.Vars {
		compressed := enc.EncodeAll(encodeFloat32LE(a.Data), nil)
		chunkPath := filepath.Join(tmpDir, name+".chunk.zst")
		if err := os.WriteFile(chunkPath, compressed, 0o644); err != nil {
			return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write chunk for variable %q", name), err)
		}
	}

	os.RemoveAll(outputPath)
	if err := os.Rename(tmpDir, outputPath); err != nil {
		return apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to write Zarr DataCube: %s", outputPath), err)
	}
	return nil
}

func openZarr(path string) (*cube.Cube, error) {
	metaPath := filepath.Join(path, zarrMetadataFile)
	headerBytes, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to open Zarr DataCube: %s", path), err)
	}
	var header containerHeader
	if err := unmarshalHeader(headerBytes, &header); err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to decode Zarr metadata", err)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageErr, "failed to initialize decompressor", err)
	}
	defer dec.Close()

	vars := make(map[string]*cube.Array, len(header.Variables))
	for name, meta := range header.Variables {
		chunkPath := filepath.Join(path, name+".chunk.zst")
		compressed, err := os.ReadFile(chunkPath)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to read chunk for variable %q", name), err)
		}
		raw, err := dec.DecodeAll(compressed, nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageErr, fmt.Sprintf("failed to decompress variable %q", name), err)
		}
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
