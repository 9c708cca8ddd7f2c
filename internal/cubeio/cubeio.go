// Package cubeio decodes gridded source files (NetCDF, GRIB) into
// cube.Cube values via GDAL raster bindings, mirroring the layered
// decode-then-normalize flow of the cube package's FromDataset.
package cubeio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/airbusgeo/godal"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cube"
)

// SourceFormat names a decodable input kind.
type SourceFormat string

const (
	FormatNetCDF SourceFormat = "netcdf"
	FormatGRIB   SourceFormat = "grib"
)

var registerOnce sync.Once

func registerDrivers() {
	registerOnce.Do(func() {
		godal.RegisterAll()
	})
}

// InferSourceFormat derives a SourceFormat from a file's extension.
func InferSourceFormat(path string) (SourceFormat, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".nc", ".netcdf":
		return FormatNetCDF, nil
	case ".grib", ".grb", ".grib2", ".grb2":
		return FormatGRIB, nil
	default:
		return "", apperr.New(apperr.DecodeErr, fmt.Sprintf("unsupported source file type: %s", filepath.Base(path)))
	}
}

// Decode opens sourcePath, inferring its format when not given explicitly,
// and returns a normalized cube.Cube.
func Decode(sourcePath string, format SourceFormat) (*cube.Cube, error) {
	fmt_, err := resolveFormat(sourcePath, format)
	if err != nil {
		return nil, err
	}
	switch fmt_ {
	case FormatNetCDF:
		return DecodeNetCDF(sourcePath)
	case FormatGRIB:
		return DecodeGRIB(sourcePath)
	default:
		return nil, apperr.New(apperr.DecodeErr, fmt.Sprintf("unsupported source_format=%q", fmt_))
	}
}

func resolveFormat(path string, format SourceFormat) (SourceFormat, error) {
	if format != "" {
		return format, nil
	}
	return InferSourceFormat(path)
}

// DecodeNetCDF opens a NetCDF raster via GDAL and builds a cube.Cube. Each
// raster band is treated as one time step of a single surface-level
// variable; the variable name is taken from the band's description (GDAL
// exposes NetCDF's NETCDF_VARNAME this way) or falls back to "value".
func DecodeNetCDF(sourcePath string) (*cube.Cube, error) {
	return decodeViaGDAL(sourcePath, "NetCDF")
}

// DecodeGRIB opens a GRIB raster via GDAL and builds a cube.Cube the same
// way as DecodeNetCDF: each raster band is treated as one time step of a
// single surface-level variable.
func DecodeGRIB(sourcePath string) (*cube.Cube, error) {
	return decodeViaGDAL(sourcePath, "GRIB")
}

func decodeViaGDAL(sourcePath, kindLabel string) (*cube.Cube, error) {
	registerDrivers()

	if _, err := os.Stat(sourcePath); err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, fmt.Sprintf("%s file not found: %s", kindLabel, sourcePath), err)
	}

	ds, err := godal.Open(sourcePath)
	if err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, fmt.Sprintf("failed to open %s: %s", kindLabel, sourcePath), err)
	}
	defer ds.Close()

	gt, err := ds.GeoTransform()
	if err != nil {
		return nil, apperr.Wrap(apperr.DecodeErr, "failed to read geotransform", err)
	}
	structure := ds.Structure()
	bands := ds.Bands()
	if len(bands) == 0 {
		return nil, apperr.New(apperr.DecodeErr, fmt.Sprintf("%s has no raster bands: %s", kindLabel, sourcePath))
	}

	lon := make([]float64, structure.SizeX)
	for x := range lon {
		lon[x] = gt[0] + (float64(x)+0.5)*gt[1]
	}
	lat := make([]float64, structure.SizeY)
	for y := range lat {
		lat[y] = gt[3] + (float64(y)+0.5)*gt[5]
	}

	varName := bandVariableName(bands[0])

	data := make([]float32, len(bands)*structure.SizeX*structure.SizeY)
	attrs := map[string]string{}
	encoding := map[string]float64{}
	for i, b := range bands {
		buf := make([]float32, structure.SizeX*structure.SizeY)
		if err := b.Read(0, 0, buf, structure.SizeX, structure.SizeY); err != nil {
			return nil, apperr.Wrap(apperr.DecodeErr, fmt.Sprintf("failed to read band %d", i), err)
		}
		copy(data[i*len(buf):(i+1)*len(buf)], buf)
		if nd, ok := b.NoData(); ok {
			encoding["_FillValue"] = nd
		}
	}

	raw := &cube.Dataset{
		Coords: map[string][]float64{
			"time": timeRange(len(bands)),
			"lat":  lat,
			"lon":  lon,
		},
		Vars: map[string]*cube.Array{
			varName: {
				Dims:     []string{"time", "lat", "lon"},
				Shape:    []int{len(bands), structure.SizeY, structure.SizeX},
				Data:     data,
				Attrs:    attrs,
				Encoding: encoding,
			},
		},
	}

	c, err := cube.FromDataset(raw)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// bandVariableName reads a band's description (GDAL surfaces NETCDF_VARNAME
// there for NetCDF sources) falling back to a generic name.
func bandVariableName(b godal.Band) string {
	if d := b.Description(); d != "" {
		return d
	}
	return "value"
}

func timeRange(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

