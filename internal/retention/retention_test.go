package retention

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeLayerTree(t *testing.T, root string, layers map[string][]string) {
	t.Helper()
	for layer, versions := range layers {
		for _, version := range versions {
			dir := filepath.Join(root, layer, version)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "data.bin"), []byte("x"), 0o644))
		}
	}
}

func TestLoadPinnedReferencesLayersShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"layers": {"temperature": ["2024-01-01", " 2024-02-01 "]}}`), 0o644))

	pins, err := LoadPinnedReferences(path)
	require.NoError(t, err)
	assert.True(t, pins.Pinned("temperature", "2024-01-01"))
	assert.True(t, pins.Pinned("temperature", "2024-02-01"))
	assert.False(t, pins.Pinned("temperature", "2024-03-01"))
}

func TestLoadPinnedReferencesFlatMapShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"temperature": ["2024-01-01"], "wind": ["2024-05-01"]}`), 0o644))

	pins, err := LoadPinnedReferences(path)
	require.NoError(t, err)
	assert.True(t, pins.Pinned("temperature", "2024-01-01"))
	assert.True(t, pins.Pinned("wind", "2024-05-01"))
}

func TestLoadPinnedReferencesListShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refs.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"references": [{"layer": "temperature", "version": "2024-01-01"}]}`), 0o644))

	pins, err := LoadPinnedReferences(path)
	require.NoError(t, err)
	assert.True(t, pins.Pinned("temperature", "2024-01-01"))
}

func TestLoadPinnedReferencesMissingFile(t *testing.T) {
	_, err := LoadPinnedReferences(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestAuditLoggerAppendsJSONLines(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "nested", "audit.jsonl")
	a := NewAuditLogger(logPath)

	require.NoError(t, a.Record("scan_started", "run-1", map[string]any{"root": "/data"}, time.Now()))
	require.NoError(t, a.Record("delete", "run-1", map[string]any{"layer": "temperature", "version": "2024-01-01"}, time.Now()))

	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestNewRunIDHasNoDashes(t *testing.T) {
	id := NewRunID()
	assert.NotContains(t, id, "-")
	assert.Len(t, id, 32)
}

func TestComputePlanKeepsNewestAndSkipsPins(t *testing.T) {
	root := t.TempDir()
	makeLayerTree(t, root, map[string][]string{
		"temperature": {"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01"},
	})

	pins := make(PinSet)
	pins.add("temperature", "2024-01-01")

	plan, err := computePlan(root, 2, pins, "run-1", time.Now(), nil)
	require.NoError(t, err)

	byVersion := map[string]Action{}
	for _, v := range plan.Versions {
		byVersion[v.Version] = v.Action
	}
	assert.Equal(t, ActionKeep, byVersion["2024-04-01"])
	assert.Equal(t, ActionKeep, byVersion["2024-03-01"])
	assert.Equal(t, ActionDelete, byVersion["2024-02-01"])
	assert.Equal(t, ActionPinned, byVersion["2024-01-01"])
}

func TestRunDryRunDoesNotTouchFilesystem(t *testing.T) {
	root := t.TempDir()
	makeLayerTree(t, root, map[string][]string{
		"temperature": {"2024-01-01", "2024-02-01", "2024-03-01"},
	})

	result, err := Run(context.Background(), Config{Root: root, KeepVersions: 1, Pins: make(PinSet)}, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Len(t, result.Plan.ToDelete(), 2)

	for _, v := range result.Plan.Versions {
		_, statErr := os.Stat(v.Path)
		assert.NoError(t, statErr, "dry run must not delete %s", v.Path)
	}
}

func TestRunRealDeletesNewestToOldestSkippingPins(t *testing.T) {
	root := t.TempDir()
	makeLayerTree(t, root, map[string][]string{
		"temperature": {"2024-01-01", "2024-02-01", "2024-03-01", "2024-04-01"},
	})

	pins := make(PinSet)
	pins.add("temperature", "2024-01-01")

	auditPath := filepath.Join(root, "audit.jsonl")
	result, err := Run(context.Background(), Config{
		Root:         root,
		KeepVersions: 1,
		Pins:         pins,
		Audit:        NewAuditLogger(auditPath),
	}, false)
	require.NoError(t, err)
	require.Len(t, result.Deleted, 2)

	assert.Equal(t, "2024-03-01", result.Deleted[0].Version)
	assert.Equal(t, "2024-02-01", result.Deleted[1].Version)

	_, err = os.Stat(filepath.Join(root, "temperature", "2024-04-01"))
	assert.NoError(t, err, "newest kept version must survive")
	_, err = os.Stat(filepath.Join(root, "temperature", "2024-01-01"))
	assert.NoError(t, err, "pinned version must survive")
	_, err = os.Stat(filepath.Join(root, "temperature", "2024-03-01"))
	assert.True(t, os.IsNotExist(err))

	auditRaw, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(auditRaw), `"delete"`)
	assert.Contains(t, string(auditRaw), `"skip_pin"`)
}

func TestRunRejectsNegativeKeepVersions(t *testing.T) {
	_, err := Run(context.Background(), Config{Root: t.TempDir(), KeepVersions: -1}, true)
	require.Error(t, err)
}
