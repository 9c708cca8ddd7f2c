package cube

// attachDerivedFields adds wind_speed/wind_dir (from u10/v10, the common
// 10 m wind component names) and precipitation_amount (from cumulative tp)
// whenever their sources are present, leaving the cube unchanged otherwise.
func attachDerivedFields(c *Cube) (*Cube, error) {
	ds, err := MaybeAddWindSpeedDir(c.Dataset, "u10", "v10", "wind_speed", "wind_dir", false)
	if err != nil {
		return nil, err
	}

	zero := 0.0
	ds, err = AddPrecipitationAmountFromTP(ds, "tp", "precipitation_amount", &zero, true, false)
	if err != nil {
		return nil, err
	}

	return &Cube{Dataset: ds}, nil
}
