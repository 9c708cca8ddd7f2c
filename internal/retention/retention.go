// Package retention implements the "keep newest N versions" cleanup
// policy over a `{layer}/{version}/…` artifact tree. A references file
// pins (layer, version) pairs that are never deleted; runs are
// dry-run-safe by default, with real deletes proceeding newest-to-oldest
// and every action recorded to an append-only audit log.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Action classifies one version directory's outcome in a cleanup run.
type Action string

const (
	ActionKeep    Action = "keep"
	ActionPinned  Action = "skip_pin"
	ActionDelete  Action = "delete"
	ActionDeleted Action = "deleted"
	ActionError   Action = "error"
)

// VersionPlan is the computed outcome for one (layer, version) directory.
type VersionPlan struct {
	Layer   string
	Version string
	Path    string
	Action  Action
	Error   string
}

// Plan is the full computed cleanup plan for a run, before any deletion
// has happened.
type Plan struct {
	RunID    string
	Versions []VersionPlan
}

// ToDelete returns the subset of the plan marked for deletion, already
// in newest-to-oldest order (the order real runs must delete in).
func (p Plan) ToDelete() []VersionPlan {
	var out []VersionPlan
	for _, v := range p.Versions {
		if v.Action == ActionDelete {
			out = append(out, v)
		}
	}
	return out
}

// Config configures a cleanup run.
type Config struct {
	// Root is the directory containing one subdirectory per layer, each
	// in turn containing one subdirectory per version.
	Root string
	// KeepVersions is the number of newest, unpinned versions kept per
	// layer; the rest are deleted (unless pinned).
	KeepVersions int
	// Pins lists (layer, version) pairs that are never deleted,
	// regardless of how old they are relative to KeepVersions.
	Pins PinSet
	// Audit receives one event per scan/plan/delete/skip-pin/error
	// action. May be nil to skip auditing.
	Audit *AuditLogger
}

// Result summarizes a completed (or dry-run) cleanup pass.
type Result struct {
	RunID   string
	Plan    Plan
	DryRun  bool
	Deleted []VersionPlan
	Failed  []VersionPlan
}

// Run scans Root, computes a per-layer keep-N plan, and — unless
// dryRun is true — deletes the planned versions in newest-to-oldest
// order within each layer. Every action is recorded to cfg.Audit if set.
func Run(ctx context.Context, cfg Config, dryRun bool) (Result, error) {
	if cfg.KeepVersions < 0 {
		return Result{}, apperr.New(apperr.InvalidArgument, "keep_versions must be >= 0")
	}

	runID := NewRunID()
	now := time.Now()
	a := cfg.Audit

	auditRecord := func(event string, payload map[string]any) {
		if a == nil {
			return
		}
		_ = a.Record(event, runID, payload, now)
	}

	auditRecord("scan_started", map[string]any{"root": cfg.Root, "keep_versions": cfg.KeepVersions})

	plan, err := computePlan(cfg.Root, cfg.KeepVersions, cfg.Pins, runID, now, a)
	if err != nil {
		auditRecord("error", map[string]any{"message": err.Error()})
		return Result{}, err
	}

	auditRecord("plan_completed", map[string]any{"to_delete": len(plan.ToDelete())})

	result := Result{RunID: runID, Plan: plan, DryRun: dryRun}
	if dryRun {
		return result, nil
	}

	for _, v := range plan.ToDelete() {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		if err := os.RemoveAll(v.Path); err != nil {
			v.Action = ActionError
			v.Error = err.Error()
			result.Failed = append(result.Failed, v)
			auditRecord("error", map[string]any{"layer": v.Layer, "version": v.Version, "path": v.Path, "message": err.Error()})
			continue
		}
		v.Action = ActionDeleted
		result.Deleted = append(result.Deleted, v)
		auditRecord("delete", map[string]any{"layer": v.Layer, "version": v.Version, "path": v.Path})
	}

	return result, nil
}

// computePlan lists every layer/version directory under root and
// classifies each as keep, skip_pin, or delete. Within a layer,
// versions are sorted newest-first by directory name (version
// identifiers are expected to sort lexicographically by recency, e.g.
// ISO timestamps); the newest keepVersions unpinned entries are kept,
// all pinned entries are kept regardless of position, and everything
// else is marked for deletion.
func computePlan(root string, keepVersions int, pins PinSet, runID string, now time.Time, a *AuditLogger) (Plan, error) {
	layerEntries, err := os.ReadDir(root)
	if err != nil {
		return Plan{}, apperr.Wrap(apperr.StorageErr, "failed to list retention root", err)
	}

	plan := Plan{RunID: runID}

	for _, layerEntry := range layerEntries {
		if !layerEntry.IsDir() {
			continue
		}
		layer := layerEntry.Name()
		layerPath := filepath.Join(root, layer)

		versionEntries, err := os.ReadDir(layerPath)
		if err != nil {
			return Plan{}, apperr.Wrap(apperr.StorageErr, "failed to list layer directory "+layerPath, err)
		}

		var versions []string
		for _, ve := range versionEntries {
			if ve.IsDir() {
				versions = append(versions, ve.Name())
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(versions)))

		kept := 0
		for _, version := range versions {
			versionPath := filepath.Join(layerPath, version)
			vp := VersionPlan{Layer: layer, Version: version, Path: versionPath}

			switch {
			case pins.Pinned(layer, version):
				vp.Action = ActionPinned
				if a != nil {
					_ = a.Record("skip_pin", runID, map[string]any{"layer": layer, "version": version, "path": versionPath}, now)
				}
			case kept < keepVersions:
				vp.Action = ActionKeep
				kept++
			default:
				vp.Action = ActionDelete
			}
			plan.Versions = append(plan.Versions, vp)
		}
	}

	return plan, nil
}
