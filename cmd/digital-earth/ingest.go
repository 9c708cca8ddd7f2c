package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/alert"
	"github.com/dankermu/digital-earth/internal/cfgcache"
	"github.com/dankermu/digital-earth/internal/codec"
	"github.com/dankermu/digital-earth/internal/cronsched"
	"github.com/dankermu/digital-earth/internal/cubeio"
	"github.com/dankermu/digital-earth/internal/runs"
)

var (
	ingestSource          string
	ingestOutput          string
	ingestFormat          string
	ingestVariable        string
	ingestCronExpr        string
	ingestMaxRetry        int
	ingestWebhook         string
	ingestThreshold       int
	ingestSchedulerConfig string
	ingestPostgresDSN     string

	ingestHistoryOnce  sync.Once
	ingestHistoryStore runs.History
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run the ingest pipeline once or on a cron schedule",
	}
	cmd.PersistentFlags().StringVar(&ingestSource, "source", "", "Path to a NetCDF/GRIB source file (required)")
	cmd.PersistentFlags().StringVar(&ingestOutput, "output", "", "Output DataCube path (.nc or .zarr) (required)")
	cmd.PersistentFlags().StringVar(&ingestFormat, "format", "netcdf", "Output container format: netcdf or zarr")
	cmd.PersistentFlags().StringVar(&ingestVariable, "variable", "", "Variable name recorded in the run history (informational)")
	cmd.PersistentFlags().StringVar(&ingestPostgresDSN, "postgres-dsn", "", "Optional Postgres DSN for run history (defaults to DATABASE_URL, falls back to a JSON file store)")
	cmd.MarkPersistentFlagRequired("source")
	cmd.MarkPersistentFlagRequired("output")

	cmd.AddCommand(newIngestOnceCmd())
	cmd.AddCommand(newIngestRunCmd())
	return cmd
}

func newIngestOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single ingest pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := ingestPass(cmd.Context())
			return err
		},
	}
}

func newIngestRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the ingest pipeline on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ingestRunForever(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&ingestCronExpr, "cron", "0 * * * *", "Cron expression (UTC) for the ingest schedule")
	cmd.Flags().IntVar(&ingestMaxRetry, "max-retries", 3, "Retries per scheduled ingest pass")
	cmd.Flags().StringVar(&ingestWebhook, "alert-webhook", "", "Webhook URL notified after consecutive failures")
	cmd.Flags().IntVar(&ingestThreshold, "alert-threshold", 3, "Consecutive failures before the webhook fires")
	cmd.Flags().StringVar(&ingestSchedulerConfig, "scheduler-config", "", "Path to a scheduler.yaml overriding the flags above (DIGITAL_EARTH_SCHEDULER_CONFIG)")
	return cmd
}

// ingestHistoryPath locates the ingest run history relative to
// --config-dir, matching the config resolution convention in cfgcache.
func ingestHistoryPath() string {
	base := flagConfigDir
	if base == "" {
		base = os.Getenv(cfgcache.EnvConfigDir)
	}
	if base == "" {
		base = "."
	}
	return filepath.Join(base, "ingest_runs.json")
}

// historyStore lazily builds the run-history backend: Postgres when
// --postgres-dsn (or DATABASE_URL) is set, else the JSON file Store. Built
// once and reused across ingest passes within a process.
func historyStore(ctx context.Context) (runs.History, error) {
	var err error
	ingestHistoryOnce.Do(func() {
		dsn := ingestPostgresDSN
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			ingestHistoryStore = runs.NewStore(ingestHistoryPath(), 200)
			return
		}
		var pg *runs.PostgresStore
		pg, err = runs.NewPostgresStore(ctx, dsn)
		if err != nil {
			return
		}
		ingestHistoryStore = pg
	})
	return ingestHistoryStore, err
}

// ingestPass decodes ingestSource, writes the normalized cube to
// ingestOutput, and records the attempt in the ingest run history.
func ingestPass(ctx context.Context) (runs.IngestRun, error) {
	store, err := historyStore(ctx)
	if err != nil {
		return runs.IngestRun{}, err
	}

	run, err := store.CreateRun(ingestVariable)
	if err != nil {
		return runs.IngestRun{}, err
	}

	c, err := cubeio.Decode(ingestSource, "")
	if err != nil {
		_, _ = store.UpdateRun(run.ID, runs.StatusFailed, err.Error(), nil)
		return runs.IngestRun{}, err
	}

	format := codec.FormatNetCDF
	if ingestFormat == string(codec.FormatZarr) {
		format = codec.FormatZarr
	}
	opts := codec.DefaultWriteOptions()
	if err := codec.Write(c, ingestOutput, format, &opts); err != nil {
		_, _ = store.UpdateRun(run.ID, runs.StatusFailed, err.Error(), nil)
		return runs.IngestRun{}, err
	}

	updated, err := store.UpdateRun(run.ID, runs.StatusSuccess, "ingest completed", map[string]any{
		"source": ingestSource,
		"output": ingestOutput,
	})
	if err != nil {
		return runs.IngestRun{}, err
	}
	fmt.Printf("ingest run %s completed: %s -> %s\n", updated.ID, ingestSource, ingestOutput)
	return updated, nil
}

// ingestRunForever wraps ingestPass in a cron loop with retry and
// consecutive-failure alerting, the two wired together the way a
// production scheduler would run them.
func ingestRunForever(ctx context.Context) error {
	cronExpr, maxRetries, threshold, webhookURL, webhookHeaders := ingestCronExpr, ingestMaxRetry, ingestThreshold, ingestWebhook, map[string]string(nil)

	schedulerPath := ingestSchedulerConfig
	if schedulerPath == "" {
		schedulerPath = os.Getenv(cfgcache.EnvSchedulerConfig)
	}
	if schedulerPath != "" {
		loader := cfgcache.NewSchedulerLoader()
		if remote := remoteConfigCache(); remote != nil {
			loader.WithRemoteCache(remote, remoteConfigTTL)
		}
		payload, err := loader.Load(schedulerPath)
		if err != nil {
			return err
		}
		cronExpr = payload.Parsed.Cron
		maxRetries = payload.Parsed.MaxRetries
		threshold = payload.Parsed.Alert.Threshold
		webhookURL = payload.Parsed.Alert.WebhookURL
		webhookHeaders = payload.Parsed.Alert.WebhookHeaders
	}

	alertMgr := alert.New(alert.Config{Threshold: threshold, WebhookURL: webhookURL, WebhookHeaders: webhookHeaders})

	task := func(taskCtx context.Context) (cronsched.Result, error) {
		run, err := ingestPass(taskCtx)
		if err != nil {
			alertMgr.Record(alert.EventFailed, alert.LatestRun{ID: run.ID, Message: err.Error()})
			return cronsched.Result{}, err
		}
		alertMgr.Record(alert.EventSuccess, alert.LatestRun{ID: run.ID, Message: run.Message})
		return cronsched.Result{Message: run.Message}, nil
	}

	sched, err := cronsched.New(task, cronsched.Config{
		CronExpr:   cronExpr,
		MaxRetries: maxRetries,
	})
	if err != nil {
		return err
	}

	sched.Start(ctx)
	<-ctx.Done()
	sched.Stop()
	return nil
}
