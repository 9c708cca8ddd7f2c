package main

import (
	"context"
	"fmt"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cfgcache"
	"github.com/dankermu/digital-earth/internal/cube"
	"github.com/dankermu/digital-earth/internal/cubeio"
	"github.com/dankermu/digital-earth/internal/proj"
	"github.com/dankermu/digital-earth/internal/retryutil"
	"github.com/dankermu/digital-earth/internal/tilesched"
	"github.com/dankermu/digital-earth/internal/tileworker"
)

var (
	tilesSource          string
	tilesRoot            string
	tilesLayer           string
	tilesVariable        string
	tilesLegendPath      string
	tilesFormat          string
	tilesCRS             string
	tilesMinZoom         int
	tilesMaxZoom         int
	tilesTileSize        int
	tilesMaxWorkers      int
	tilesMaxRetries      int
	tilesTilingConfig    string
	tilesSchedulerConfig string
	tilesBiasObservation string
	tilesBiasObsVariable string
)

func newTilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tiles",
		Short: "Render map tile pyramids",
	}
	cmd.AddCommand(newTilesRenderCmd())
	return cmd
}

func newTilesRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render every (level, time) slice of a variable to a tile pyramid",
		RunE: func(cmd *cobra.Command, args []string) error {
			return tilesRender(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&tilesSource, "source", "", "Path to the source NetCDF/GRIB file")
	cmd.Flags().StringVar(&tilesRoot, "root", "", "Output tile pyramid root directory")
	cmd.Flags().StringVar(&tilesLayer, "layer", "", "Layer name (tile path prefix)")
	cmd.Flags().StringVar(&tilesVariable, "variable", "", "Variable to render")
	cmd.Flags().StringVar(&tilesLegendPath, "legend", "", "Path to the legend definition file")
	cmd.Flags().StringVar(&tilesFormat, "format", "png", "Tile image format (png, webp)")
	cmd.Flags().StringVar(&tilesCRS, "crs", "EPSG:4326", "Tile grid projection (EPSG:4326 or EPSG:3857)")
	cmd.Flags().IntVar(&tilesMinZoom, "min-zoom", 0, "Minimum zoom level")
	cmd.Flags().IntVar(&tilesMaxZoom, "max-zoom", 6, "Maximum zoom level")
	cmd.Flags().IntVar(&tilesTileSize, "tile-size", 256, "Tile edge size in pixels")
	cmd.Flags().IntVar(&tilesMaxWorkers, "max-workers", 4, "Bounded worker pool size")
	cmd.Flags().IntVar(&tilesMaxRetries, "max-retries", 3, "Retries per failed tile-render job")
	cmd.Flags().StringVar(&tilesTilingConfig, "tiling-config", "", "Path to a tiling config file (overrides --min-zoom/--max-zoom/--tile-size)")
	cmd.Flags().StringVar(&tilesSchedulerConfig, "tile-scheduler-config", "", "Path to a tile-scheduler config file (overrides --max-workers/--max-retries)")
	cmd.Flags().StringVar(&tilesBiasObservation, "bias-observation", "", "Path to an observation NetCDF/GRIB file; when set, render <variable>_bias instead of --variable")
	cmd.Flags().StringVar(&tilesBiasObsVariable, "bias-observation-variable", "", "Variable name to read from --bias-observation (defaults to --variable)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("root")
	_ = cmd.MarkFlagRequired("layer")
	_ = cmd.MarkFlagRequired("variable")
	_ = cmd.MarkFlagRequired("legend")

	return cmd
}

// renderWorker adapts tileworker.RenderUnit to the tilesched.TileWorker
// interface: each job's Level/Time fields select one (level, time) slice
// of a shared, already-decoded cube.
type renderWorker struct {
	cube   *cube.Cube
	opts   tileworker.Options
	levels []float64
	times  []float64
}

func (w *renderWorker) Process(ctx context.Context, job tilesched.TileJob) (map[string]any, error) {
	levelIdx := indexOf(w.levels, job.Level)
	timeIdx := indexOfTime(w.times, job.Time.Unix())
	written, err := tileworker.RenderUnit(w.cube, job.Variable, levelIdx, timeIdx, w.opts)
	if err != nil {
		return nil, err
	}
	return map[string]any{"files_written": len(written)}, nil
}

func indexOf(xs []float64, v float64) int {
	for i, x := range xs {
		if int(x) == int(v) {
			return i
		}
	}
	return 0
}

func indexOfTime(xs []float64, unixSeconds int64) int {
	for i, x := range xs {
		if int64(x) == unixSeconds {
			return i
		}
	}
	return 0
}

func tilesRender(ctx context.Context) error {
	projection, ok := proj.ByCRS(tilesCRS)
	if !ok {
		return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown crs %q", tilesCRS))
	}

	remote := remoteConfigCache()

	minZoom, maxZoom, tileSize := tilesMinZoom, tilesMaxZoom, tilesTileSize
	if tilesTilingConfig != "" {
		loader := cfgcache.NewTilingLoader()
		if remote != nil {
			loader.WithRemoteCache(remote, remoteConfigTTL)
		}
		payload, err := loader.Load(tilesTilingConfig)
		if err != nil {
			return err
		}
		minZoom, maxZoom, tileSize = payload.Parsed.MinZoom, payload.Parsed.MaxZoom, payload.Parsed.TileSize
	}

	maxWorkers, maxRetries := tilesMaxWorkers, tilesMaxRetries
	if tilesSchedulerConfig != "" {
		loader := cfgcache.NewTileSchedulerLoader()
		if remote != nil {
			loader.WithRemoteCache(remote, remoteConfigTTL)
		}
		payload, err := loader.Load(tilesSchedulerConfig)
		if err != nil {
			return err
		}
		maxWorkers, maxRetries = payload.Parsed.MaxWorkers, payload.Parsed.MaxRetries
	}

	legend, err := tileworker.LoadLegend(tilesLegendPath)
	if err != nil {
		return err
	}

	c, err := cubeio.Decode(tilesSource, "")
	if err != nil {
		return err
	}

	renderVariable := tilesVariable
	if tilesBiasObservation != "" {
		obsVariable := tilesBiasObsVariable
		if obsVariable == "" {
			obsVariable = tilesVariable
		}
		observation, err := cubeio.Decode(tilesBiasObservation, "")
		if err != nil {
			return err
		}
		biasVariable := tilesVariable + "_bias"
		ds, err := cube.AddBiasFromObservation(c.Dataset, tilesVariable, observation.Dataset, obsVariable, biasVariable, true)
		if err != nil {
			return err
		}
		c = &cube.Cube{Dataset: ds}
		renderVariable = biasVariable
	}

	levels := c.Dataset.Coords["level"]
	times := c.Dataset.Coords["time"]
	jobs := make([]tilesched.TileJob, 0, len(levels)*len(times))
	for _, lvl := range levels {
		for _, t := range times {
			jobs = append(jobs, tilesched.TileJob{
				Variable: renderVariable,
				Level:    int(lvl),
				Time:     time.Unix(int64(t), 0).UTC(),
			})
		}
	}

	worker := &renderWorker{
		cube:   c,
		levels: levels,
		times:  times,
		opts: tileworker.Options{
			Root:       tilesRoot,
			Layer:      tilesLayer,
			MinZoom:    minZoom,
			MaxZoom:    maxZoom,
			TileSize:   tileSize,
			Projection: projection,
			Format:     tileworker.Format(tilesFormat),
			Legend:     legend,
		},
	}

	bar := progressbar.Default(int64(len(jobs)), fmt.Sprintf("rendering %s tiles", renderVariable))

	sched, err := tilesched.New(worker, tilesched.Config{
		MaxWorkers:       maxWorkers,
		MaxRetries:       maxRetries,
		Backoff:          retryutil.Backoff{Base: 200 * time.Millisecond, Factor: 2, MaxWait: 5 * time.Second},
		ProgressLogEvery: 10,
		OnJobDone:        func() { _ = bar.Add(1) },
	})
	if err != nil {
		return err
	}

	summary, err := sched.Run(ctx, jobs)
	if err != nil {
		return err
	}

	fmt.Printf("rendered %d/%d units (%d failed) in %s\n", summary.Succeeded, summary.Total, summary.Failed, summary.Duration)
	if summary.Failed > 0 {
		return apperr.New(apperr.Transient, fmt.Sprintf("%d tile-render jobs failed", summary.Failed))
	}
	return nil
}
