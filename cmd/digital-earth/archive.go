package main

import (
	"fmt"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/apperr"
	"github.com/dankermu/digital-earth/internal/cfgcache"
	"github.com/dankermu/digital-earth/internal/manifest"
	"github.com/dankermu/digital-earth/internal/proj"
	"github.com/dankermu/digital-earth/internal/pyramid"
)

var (
	archiveConfigPath string
	archiveRepoRoot   string
	archiveRunID      string
	archiveBoundCRS   string
	archiveWest       float64
	archiveSouth      float64
	archiveEast       float64
	archiveNorth      float64
)

func newArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Build and validate checksum manifests for archived raw-data runs",
	}
	cmd.PersistentFlags().StringVar(&archiveConfigPath, "archive-config", "", "Path to an archive.yaml (required)")
	cmd.PersistentFlags().StringVar(&archiveRepoRoot, "repo-root", ".", "Repository root raw_root_dir resolves against")
	cmd.MarkPersistentFlagRequired("archive-config")

	cmd.AddCommand(newArchiveManifestCmd())
	cmd.AddCommand(newArchiveValidateCmd())
	return cmd
}

func newArchiveManifestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Build a checksum manifest for the archive's raw_root_dir and write it alongside the data",
		RunE: func(cmd *cobra.Command, args []string) error {
			return archiveBuildManifest()
		},
	}
	cmd.Flags().StringVar(&archiveRunID, "run-id", "", "Run identifier recorded in the manifest (required)")
	cmd.Flags().StringVar(&archiveBoundCRS, "bound-crs", "", "If set, record a spatial extent in the manifest using this CRS (e.g. EPSG:4326)")
	cmd.Flags().Float64Var(&archiveWest, "west", 0, "West edge of the recorded extent")
	cmd.Flags().Float64Var(&archiveSouth, "south", 0, "South edge of the recorded extent")
	cmd.Flags().Float64Var(&archiveEast, "east", 0, "East edge of the recorded extent")
	cmd.Flags().Float64Var(&archiveNorth, "north", 0, "North edge of the recorded extent")
	cmd.MarkFlagRequired("run-id")
	return cmd
}

func newArchiveValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Re-hash the archive's raw_root_dir and report drift against its manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return archiveValidate()
		},
	}
}

func loadArchiveConfig() (*cfgcache.ArchiveConfig, error) {
	loader := cfgcache.NewArchiveLoader(archiveRepoRoot)
	if remote := remoteConfigCache(); remote != nil {
		loader.WithRemoteCache(remote, remoteConfigTTL)
	}
	payload, err := loader.Load(archiveConfigPath)
	if err != nil {
		return nil, err
	}
	return payload.Parsed, nil
}

func archiveBuildManifest() error {
	cfg, err := loadArchiveConfig()
	if err != nil {
		return err
	}

	var bound *orb.Bound
	if archiveBoundCRS != "" {
		if _, ok := proj.ByCRS(archiveBoundCRS); !ok {
			return apperr.New(apperr.InvalidArgument, fmt.Sprintf("unknown crs %q", archiveBoundCRS))
		}
		rect := pyramid.GeoRect{West: archiveWest, South: archiveSouth, East: archiveEast, North: archiveNorth}
		if err := rect.Validate(); err != nil {
			return err
		}
		b := rect.Bound()
		bound = &b
	}

	m, err := manifest.BuildWithBound(cfg.RawRootDir, archiveRunID, cfg.ManifestFilename, bound)
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(cfg.RawRootDir, cfg.ManifestFilename)
	if err := manifest.Write(m, manifestPath); err != nil {
		return err
	}

	fmt.Printf("wrote manifest for %d file(s) to %s\n", len(m.Files), manifestPath)
	return nil
}

func archiveValidate() error {
	cfg, err := loadArchiveConfig()
	if err != nil {
		return err
	}

	manifestPath := filepath.Join(cfg.RawRootDir, cfg.ManifestFilename)
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}

	result, err := manifest.Validate(cfg.RawRootDir, m, cfg.ManifestFilename)
	if err != nil {
		return err
	}

	if result.OK() {
		fmt.Printf("manifest %s matches %s exactly\n", manifestPath, cfg.RawRootDir)
		return nil
	}

	fmt.Printf("manifest drift detected under %s:\n", cfg.RawRootDir)
	for _, rel := range result.Missing {
		fmt.Printf("  missing  %s\n", rel)
	}
	for _, rel := range result.Extra {
		fmt.Printf("  extra    %s\n", rel)
	}
	for _, rel := range result.Modified {
		fmt.Printf("  modified %s\n", rel)
	}
	return apperr.New(apperr.StorageErr, "archive manifest validation failed")
}
