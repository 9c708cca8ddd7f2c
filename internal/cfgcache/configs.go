package cfgcache

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/manifest"
)

// SupportedSchemaVersions is the set every config module in this
// package validates schema_version against.
var SupportedSchemaVersions = []int{1}

// Environment variable names consulted for config path resolution.
const (
	EnvConfigDir           = "DIGITAL_EARTH_CONFIG_DIR"
	EnvTilingConfig        = "DIGITAL_EARTH_TILING_CONFIG"
	EnvTileSchedulerConfig = "DIGITAL_EARTH_TILE_SCHEDULER_CONFIG"
	EnvSchedulerConfig     = "DIGITAL_EARTH_SCHEDULER_CONFIG"
	EnvArchiveConfig       = "DIGITAL_EARTH_ARCHIVE_CONFIG"
	EnvLegendsDir          = "DIGITAL_EARTH_LEGENDS_DIR"
	EnvECMWFConfigPath     = "DIGITAL_EARTH_ECMWF_CONFIG_PATH"
)

// unmarshalByExtension parses raw as YAML for .yaml/.yml paths and as
// JSON otherwise, mirroring every config module's suffix dispatch.
func unmarshalByExtension(path string, raw []byte, v any) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(raw, v); err != nil {
			return apperr.Wrap(apperr.DecodeErr, "failed to parse config as YAML: "+path, err)
		}
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Wrap(apperr.DecodeErr, "failed to parse config as JSON: "+path, err)
	}
	return nil
}

// ArchiveConfig describes the raw-data archive a manifest is built and
// validated against.
type ArchiveConfig struct {
	SchemaVersion     int    `yaml:"schema_version" json:"schema_version"`
	RawRootDir        string `yaml:"raw_root_dir" json:"raw_root_dir"`
	KeepNRuns         int    `yaml:"keep_n_runs" json:"keep_n_runs"`
	ChecksumAlgorithm string `yaml:"checksum_algorithm" json:"checksum_algorithm"`
	ManifestFilename  string `yaml:"manifest_filename" json:"manifest_filename"`
}

// NewArchiveLoader builds a Loader that parses, defaults, and validates
// an ArchiveConfig, resolving RawRootDir relative to repoRoot and
// requiring it stay inside repoRoot.
func NewArchiveLoader(repoRoot string) *Loader[*ArchiveConfig] {
	return NewLoader(func(path string, raw []byte) (*ArchiveConfig, error) {
		return DecodeArchiveConfig(path, raw, repoRoot)
	}, 8)
}

// DecodeArchiveConfig parses and validates an archive config document,
// given its source path (for extension-based YAML/JSON dispatch) and
// the repository root RawRootDir must resolve within.
func DecodeArchiveConfig(path string, raw []byte, repoRoot string) (*ArchiveConfig, error) {
	cfg := &ArchiveConfig{
		SchemaVersion:     1,
		RawRootDir:        "Data/raw",
		KeepNRuns:         5,
		ChecksumAlgorithm: "sha256",
		ManifestFilename:  "manifest.json",
	}
	if err := unmarshalByExtension(path, raw, cfg); err != nil {
		return nil, err
	}
	if err := ValidateSchemaVersion(cfg.SchemaVersion, SupportedSchemaVersions); err != nil {
		return nil, err
	}
	if cfg.KeepNRuns < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "keep_n_runs must be >= 0")
	}
	algo := strings.ToLower(strings.TrimSpace(cfg.ChecksumAlgorithm))
	if algo != "sha256" {
		return nil, apperr.New(apperr.InvalidArgument, "unsupported checksum_algorithm: "+cfg.ChecksumAlgorithm)
	}
	cfg.ChecksumAlgorithm = algo

	if err := manifest.ValidateManifestFilename(cfg.ManifestFilename); err != nil {
		return nil, err
	}

	resolved, err := ResolveContained(repoRoot, repoRoot, cfg.RawRootDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.ConfigErr, "archive raw_root_dir must resolve within repo root", err)
	}
	cfg.RawRootDir = resolved
	return cfg, nil
}

// SchedulerAlertConfig carries the webhook destination and headers the
// alert manager dispatches with — DIGITAL_EARTH_SCHEDULER_CONFIG's
// alert sub-document.
type SchedulerAlertConfig struct {
	Threshold      int               `yaml:"threshold" json:"threshold"`
	WebhookURL     string            `yaml:"webhook_url" json:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers" json:"webhook_headers"`
}

// SchedulerConfig is the ingest-cron schedule and its alerting policy.
type SchedulerConfig struct {
	SchemaVersion int                  `yaml:"schema_version" json:"schema_version"`
	Cron          string               `yaml:"cron" json:"cron"`
	MaxRetries    int                  `yaml:"max_retries" json:"max_retries"`
	Alert         SchedulerAlertConfig `yaml:"alert" json:"alert"`
}

// NewSchedulerLoader builds a Loader for the ingest-scheduler config.
func NewSchedulerLoader() *Loader[*SchedulerConfig] {
	return NewLoader(DecodeSchedulerConfig, 8)
}

// DecodeSchedulerConfig parses and validates an ingest-scheduler config
// document.
func DecodeSchedulerConfig(path string, raw []byte) (*SchedulerConfig, error) {
	cfg := &SchedulerConfig{SchemaVersion: 1, Cron: "0 * * * *", MaxRetries: 3}
	if err := unmarshalByExtension(path, raw, cfg); err != nil {
		return nil, err
	}
	if err := ValidateSchemaVersion(cfg.SchemaVersion, SupportedSchemaVersions); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Cron) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "cron must not be empty")
	}
	if cfg.MaxRetries < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "max_retries must be >= 0")
	}
	return cfg, nil
}

// TileSchedulerConfig bounds the tile scheduler's worker pool and retry count.
type TileSchedulerConfig struct {
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`
	MaxWorkers    int `yaml:"max_workers" json:"max_workers"`
	MaxRetries    int `yaml:"max_retries" json:"max_retries"`
}

// NewTileSchedulerLoader builds a Loader for the tile-scheduler config.
func NewTileSchedulerLoader() *Loader[*TileSchedulerConfig] {
	return NewLoader(DecodeTileSchedulerConfig, 8)
}

// DecodeTileSchedulerConfig parses and validates a tile-scheduler
// config document.
func DecodeTileSchedulerConfig(path string, raw []byte) (*TileSchedulerConfig, error) {
	cfg := &TileSchedulerConfig{SchemaVersion: 1, MaxWorkers: 4, MaxRetries: 3}
	if err := unmarshalByExtension(path, raw, cfg); err != nil {
		return nil, err
	}
	if err := ValidateSchemaVersion(cfg.SchemaVersion, SupportedSchemaVersions); err != nil {
		return nil, err
	}
	if cfg.MaxWorkers < 1 || cfg.MaxWorkers > 128 {
		return nil, apperr.New(apperr.InvalidArgument, "max_workers must be in [1, 128]")
	}
	if cfg.MaxRetries < 1 {
		return nil, apperr.New(apperr.InvalidArgument, "max_retries must be >= 1")
	}
	return cfg, nil
}

// TilingConfig sets the zoom range and tile size a pyramid is built at.
type TilingConfig struct {
	SchemaVersion int `yaml:"schema_version" json:"schema_version"`
	MinZoom       int `yaml:"min_zoom" json:"min_zoom"`
	MaxZoom       int `yaml:"max_zoom" json:"max_zoom"`
	TileSize      int `yaml:"tile_size" json:"tile_size"`
}

// NewTilingLoader builds a Loader for the tiling config.
func NewTilingLoader() *Loader[*TilingConfig] {
	return NewLoader(DecodeTilingConfig, 8)
}

// DecodeTilingConfig parses and validates a tiling config document.
func DecodeTilingConfig(path string, raw []byte) (*TilingConfig, error) {
	cfg := &TilingConfig{SchemaVersion: 1, MinZoom: 0, MaxZoom: 8, TileSize: 256}
	if err := unmarshalByExtension(path, raw, cfg); err != nil {
		return nil, err
	}
	if err := ValidateSchemaVersion(cfg.SchemaVersion, SupportedSchemaVersions); err != nil {
		return nil, err
	}
	if cfg.MinZoom < 0 || cfg.MaxZoom < cfg.MinZoom {
		return nil, apperr.New(apperr.InvalidArgument, "tiling zoom range is invalid")
	}
	if cfg.TileSize <= 0 {
		return nil, apperr.New(apperr.InvalidArgument, "tile_size must be > 0")
	}
	return cfg, nil
}
