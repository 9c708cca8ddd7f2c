package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cubeio"
	"github.com/dankermu/digital-earth/internal/proj"
	"github.com/dankermu/digital-earth/internal/pyramid"
	"github.com/dankermu/digital-earth/internal/terrain"
)

var (
	terrainSource   string
	terrainRoot     string
	terrainVariable string
	terrainCRS      string
	terrainMinZoom  int
	terrainMaxZoom  int
	terrainGridSize int
	terrainGzip     bool
	terrainNormals  bool
)

func newTerrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terrain",
		Short: "Encode quantized-mesh terrain pyramids",
	}
	cmd.AddCommand(newTerrainBuildCmd())
	return cmd
}

func newTerrainBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Encode every (level, time) slice of an elevation variable to a quantized-mesh pyramid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return terrainBuild()
		},
	}

	cmd.Flags().StringVar(&terrainSource, "source", "", "Path to the source NetCDF/GRIB elevation file")
	cmd.Flags().StringVar(&terrainRoot, "root", "", "Output terrain pyramid root directory")
	cmd.Flags().StringVar(&terrainVariable, "variable", "elevation", "Elevation variable name")
	cmd.Flags().StringVar(&terrainCRS, "crs", "EPSG:4326", "Tile grid projection")
	cmd.Flags().IntVar(&terrainMinZoom, "min-zoom", 0, "Minimum zoom level")
	cmd.Flags().IntVar(&terrainMaxZoom, "max-zoom", 6, "Maximum zoom level")
	cmd.Flags().IntVar(&terrainGridSize, "grid-size", 17, "Heights sampled per tile edge (>= 2)")
	cmd.Flags().BoolVar(&terrainGzip, "gzip", true, "Gzip each .terrain payload")
	cmd.Flags().BoolVar(&terrainNormals, "normals", false, "Advertise octvertexnormals in layer.json (not yet emitted in payloads)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func terrainBuild() error {
	projection, ok := proj.ByCRS(terrainCRS)
	if !ok {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown crs %q", terrainCRS))
	}

	c, err := cubeio.Decode(terrainSource, "")
	if err != nil {
		return err
	}
	if _, ok := c.Dataset.Vars[terrainVariable]; !ok {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown variable %q", terrainVariable))
	}

	levels := c.Dataset.Coords["level"]
	times := c.Dataset.Coords["time"]
	lon := c.Dataset.Coords["lon"]
	lat := c.Dataset.Coords["lat"]
	rect := pyramid.GeoRect{West: lon[0], East: lon[len(lon)-1], South: lat[0], North: lat[len(lat)-1]}

	var written int
	for levelIdx := range levels {
		for timeIdx := range times {
			paths, err := terrain.RenderUnit(c, terrainVariable, levelIdx, timeIdx, terrain.Options{
				Root:       terrainRoot,
				MinZoom:    terrainMinZoom,
				MaxZoom:    terrainMaxZoom,
				GridSize:   terrainGridSize,
				Projection: projection,
				Gzip:       terrainGzip,
			})
			if err != nil {
				return err
			}
			written += len(paths)
		}
	}

	doc, err := terrain.BuildLayerJSON(projection, rect, terrainMinZoom, terrainMaxZoom, terrainNormals)
	if err != nil {
		return err
	}
	if err := terrain.WriteLayerJSON(doc, filepath.Join(terrainRoot, "layer.json")); err != nil {
		return err
	}

	fmt.Printf("wrote %d terrain tile(s) and layer.json under %s\n", written, terrainRoot)
	return nil
}
