package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dankermu/digital-earth/internal/retention"
)

var (
	retentionRoot         string
	retentionKeepVersions int
	retentionRefsPath     string
	retentionAuditLog     string
	retentionDryRun       bool
)

func newRetentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Reclaim old artifacts under referential safety",
	}
	cmd.AddCommand(newRetentionCleanupCmd())
	return cmd
}

func newRetentionCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete versions older than the newest N per layer, skipping pinned references",
		RunE: func(cmd *cobra.Command, args []string) error {
			return retentionCleanup(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&retentionRoot, "root", "", "Root directory holding {layer}/{version}/ subdirectories")
	cmd.Flags().IntVar(&retentionKeepVersions, "keep-versions", 5, "Newest unpinned versions to keep per layer")
	cmd.Flags().StringVar(&retentionRefsPath, "refs", "", "Path to a pinned-references file (optional)")
	cmd.Flags().StringVar(&retentionAuditLog, "audit-log", "", "Path to the append-only audit log (optional)")
	cmd.Flags().BoolVar(&retentionDryRun, "dry-run", true, "Compute and print the plan without deleting anything")
	_ = cmd.MarkFlagRequired("root")

	return cmd
}

func retentionCleanup(ctx context.Context) error {
	var pins retention.PinSet
	if retentionRefsPath != "" {
		loaded, err := retention.LoadPinnedReferences(retentionRefsPath)
		if err != nil {
			return err
		}
		pins = loaded
	}

	var audit *retention.AuditLogger
	if retentionAuditLog != "" {
		audit = retention.NewAuditLogger(retentionAuditLog)
	}

	result, err := retention.Run(ctx, retention.Config{
		Root:         retentionRoot,
		KeepVersions: retentionKeepVersions,
		Pins:         pins,
		Audit:        audit,
	}, retentionDryRun)
	if err != nil {
		return err
	}

	toDelete := result.Plan.ToDelete()
	if retentionDryRun {
		fmt.Printf("dry run: %d version(s) would be deleted\n", len(toDelete))
		for _, v := range toDelete {
			fmt.Printf("  delete %s/%s (%s)\n", v.Layer, v.Version, v.Path)
		}
		return nil
	}

	fmt.Printf("deleted %d version(s), %d failed\n", len(result.Deleted), len(result.Failed))
	for _, v := range result.Failed {
		fmt.Printf("  failed %s/%s: %s\n", v.Layer, v.Version, v.Error)
	}
	if len(result.Failed) > 0 {
		return fmt.Errorf("%d version(s) failed to delete", len(result.Failed))
	}
	return nil
}
