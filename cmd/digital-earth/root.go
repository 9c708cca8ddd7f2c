package main

import (
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/cfgcache"
)

var (
	flagConfigDir string
	flagVerbose   bool
	flagRedisURL  string
)

// remoteConfigCache builds the optional Redis-backed second tier for
// config loaders, when --redis-url (or REDIS_URL) is set. Returns nil
// when unset, so callers fall back to the in-process LRU only.
func remoteConfigCache() cfgcache.RemoteCache {
	url := flagRedisURL
	if url == "" {
		url = os.Getenv("REDIS_URL")
	}
	if url == "" {
		return nil
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		slog.Warn("ignoring invalid --redis-url", "error", err)
		return nil
	}
	return cfgcache.NewRedisRemoteCache(redis.NewClient(opt))
}

const remoteConfigTTL = 10 * time.Minute

// newRootCmd builds the digital-earth root command. Persistent flags and
// logging setup follow a single PersistentPreRunE installing a
// slog.Logger keyed off --verbose.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "digital-earth",
		Short: "Ingest, tile, and archive gridded weather data",
		Long: `digital-earth drives the ingest/tiling/terrain/retention pipeline:

  ingest run        run the ingest scheduler on its cron schedule
  ingest once       run a single ingest pass and exit
  tiles render      render every (level, time) slice of a variable to a tile pyramid
  terrain build     encode a quantized-mesh terrain pyramid
  retention cleanup run the keep-newest-N retention policy once
  archive manifest  build a checksum manifest for an archived raw-data run
  archive validate  re-hash an archive and report drift against its manifest`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Base directory for config files (defaults to DIGITAL_EARTH_CONFIG_DIR)")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	root.PersistentFlags().StringVar(&flagRedisURL, "redis-url", "", "Optional Redis URL backing a shared config-cache tier (defaults to REDIS_URL)")

	root.AddCommand(newIngestCmd())
	root.AddCommand(newTilesCmd())
	root.AddCommand(newRetentionCmd())
	root.AddCommand(newTerrainCmd())
	root.AddCommand(newArchiveCmd())
	return root
}
