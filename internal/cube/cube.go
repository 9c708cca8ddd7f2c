// Package cube implements the canonical gridded in-memory dataset used
// throughout the pipeline: a small ndarray model (Array/Dataset) plus the
// normalization, validation, and derived-variable logic that turns an
// arbitrary decoded source into a Cube with fixed dims (time, level, lat,
// lon), float32 data, and NaN-only missing values.
package cube

import (
	"sort"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// requiredDims is the fixed dimension set every normalized Cube carries.
var requiredDims = []string{"lat", "level", "lon", "time"}

// Array is an N-dimensional variable: Dims names each axis (in order),
// Shape gives each axis's length, and Data is the row-major flattening of
// the values. Attrs/Encoding mirror the source metadata dict and encoding
// dict a decoded NetCDF variable would carry (units, long_name,
// _FillValue, missing_value, ...).
type Array struct {
	Dims     []string
	Shape    []int
	Data     []float32
	Attrs    map[string]string
	Encoding map[string]float64
}

func (a *Array) axis(name string) (int, bool) {
	for i, d := range a.Dims {
		if d == name {
			return i, true
		}
	}
	return 0, false
}

func (a *Array) strides() []int {
	s := make([]int, len(a.Shape))
	acc := 1
	for i := len(a.Shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= a.Shape[i]
	}
	return s
}

func size(shape []int) int {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return n
}

// Dataset is an unnormalized collection of coordinate arrays and
// variables, the shape a decoder produces directly from a source file.
type Dataset struct {
	// Coords holds each named coordinate's 1-D values (e.g. "time" as
	// Unix seconds UTC, "lat"/"lon"/"level" in their native units).
	Coords map[string][]float64
	Vars   map[string]*Array
	Attrs  map[string]string
}

// Cube is a normalized Dataset: dims are exactly {time, level, lat, lon},
// lon is wrapped into [-180, 180) and sorted ascending, lat is sorted
// ascending, every variable is float32 with NaN-only missing values.
type Cube struct {
	Dataset *Dataset
}

// Dims reports the dimension names present across the cube's coordinates.
func (c *Cube) Dims() []string {
	dims := make([]string, 0, len(c.Dataset.Coords))
	for d := range c.Dataset.Coords {
		dims = append(dims, d)
	}
	sort.Strings(dims)
	return dims
}

// Validate checks that the cube carries every required dimension.
func (c *Cube) Validate() error {
	present := make(map[string]bool, len(c.Dataset.Coords))
	for d := range c.Dataset.Coords {
		present[d] = true
	}
	var missing []string
	for _, d := range requiredDims {
		if !present[d] {
			missing = append(missing, d)
		}
	}
	if len(missing) > 0 {
		return apperr.New(apperr.CubeValidationErr, "cube missing required dimensions: "+joinStrings(missing))
	}
	return nil
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

// FromDataset builds a canonical Cube from a raw decoded Dataset by
// renaming lon/lat aliases, wrapping/sorting lon, sorting lat, adding a
// length-1 level dim if absent, casting variables to float32, and
// standardizing missing values. It then attaches derived fields (wind
// speed/direction, precipitation amount) when their sources are present.
func FromDataset(ds *Dataset) (*Cube, error) {
	normalized, err := normalizeDataset(ds)
	if err != nil {
		return nil, err
	}
	c := &Cube{Dataset: normalized}

	withDerived, err := attachDerivedFields(c)
	if err != nil {
		return nil, err
	}
	return withDerived, nil
}
