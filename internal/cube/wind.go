package cube

import (
	"math"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// DeriveWindSpeed computes wind_speed = sqrt(u^2+v^2). u and v must share
// identical dims/shape. The units attribute is inherited only when both
// inputs agree on it.
func DeriveWindSpeed(u, v *Array, name string) (*Array, error) {
	if err := requireAlignedShape(u, v); err != nil {
		return nil, err
	}
	data := make([]float32, len(u.Data))
	for i := range data {
		data[i] = float32(math.Hypot(float64(u.Data[i]), float64(v.Data[i])))
	}

	attrs := map[string]string{
		"long_name":     "Wind speed",
		"standard_name": "wind_speed",
	}
	if uu, uok := u.Attrs["units"]; uok && uu != "" {
		if vv, vok := v.Attrs["units"]; vok && vv == uu {
			attrs["units"] = uu
		}
	}

	_ = name
	return &Array{Dims: u.Dims, Shape: append([]int(nil), u.Shape...), Data: data, Attrs: attrs, Encoding: map[string]float64{}}, nil
}

// DeriveWindDir computes the wind bearing from North, clockwise:
// (degrees(atan2(u, v)) + 360) mod 360. 0 deg means blowing toward North,
// 90 deg toward East.
func DeriveWindDir(u, v *Array, name string) (*Array, error) {
	if err := requireAlignedShape(u, v); err != nil {
		return nil, err
	}
	data := make([]float32, len(u.Data))
	for i := range data {
		angle := math.Atan2(float64(u.Data[i]), float64(v.Data[i]))
		deg := angle * 180.0 / math.Pi
		data[i] = float32(math.Mod(deg+360.0, 360.0))
	}

	attrs := map[string]string{
		"units":     "degree",
		"long_name": "Wind direction",
		"comment":   "Bearing from North, clockwise; computed as degrees(atan2(u, v)) wrapped to [0, 360).",
	}
	_ = name
	return &Array{Dims: u.Dims, Shape: append([]int(nil), u.Shape...), Data: data, Attrs: attrs, Encoding: map[string]float64{}}, nil
}

func requireAlignedShape(u, v *Array) error {
	if len(u.Dims) != len(v.Dims) || len(u.Shape) != len(v.Shape) {
		return apperr.New(apperr.InvalidArgument, "u and v must share identical coordinates")
	}
	for i := range u.Dims {
		if u.Dims[i] != v.Dims[i] || u.Shape[i] != v.Shape[i] {
			return apperr.New(apperr.InvalidArgument, "u and v must share identical coordinates")
		}
	}
	return nil
}

// MaybeAddWindSpeedDir attaches wind_speed/wind_dir to ds if both uName and
// vName are present and (unless overwrite) neither output already exists.
// Missing inputs leave the dataset unchanged.
func MaybeAddWindSpeedDir(ds *Dataset, uName, vName, speedName, dirName string, overwrite bool) (*Dataset, error) {
	u, uok := ds.Vars[uName]
	v, vok := ds.Vars[vName]
	if !uok || !vok {
		return ds, nil
	}
	if !overwrite {
		_, speedExists := ds.Vars[speedName]
		_, dirExists := ds.Vars[dirName]
		if speedExists || dirExists {
			return ds, nil
		}
	}

	speed, err := DeriveWindSpeed(u, v, speedName)
	if err != nil {
		return nil, err
	}
	dir, err := DeriveWindDir(u, v, dirName)
	if err != nil {
		return nil, err
	}

	out := cloneDataset(ds)
	out.Vars[speedName] = speed
	out.Vars[dirName] = dir
	return out, nil
}

func cloneDataset(ds *Dataset) *Dataset {
	vars := make(map[string]*Array, len(ds.Vars))
	for k, v := range ds.Vars {
		vars[k] = v
	}
	coords := make(map[string][]float64, len(ds.Coords))
	for k, v := range ds.Coords {
		coords[k] = v
	}
	return &Dataset{Coords: coords, Vars: vars, Attrs: ds.Attrs}
}
