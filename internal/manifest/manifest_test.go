package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBuildListsFilesSortedWithChecksums(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "hello")
	writeFile(t, filepath.Join(root, "a", "c.txt"), "world")

	m, err := Build(root, "run-1", "manifest.json")
	require.NoError(t, err)
	require.Len(t, m.Files, 2)
	assert.Equal(t, "a/c.txt", m.Files[0].RelativePath)
	assert.Equal(t, "b.txt", m.Files[1].RelativePath)
	assert.Equal(t, Algorithm, m.Algorithm)
	assert.NotEmpty(t, m.Files[0].SHA256)
	assert.Equal(t, int64(5), m.Files[1].Size)
}

func TestBuildExcludesManifestFileItself(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "data.bin"), "x")
	writeFile(t, filepath.Join(root, "manifest.json"), "{}")

	m, err := Build(root, "run-1", "manifest.json")
	require.NoError(t, err)
	require.Len(t, m.Files, 1)
	assert.Equal(t, "data.bin", m.Files[0].RelativePath)
}

func TestValidateManifestFilenameRejectsTraversalAndAbsolute(t *testing.T) {
	assert.Error(t, ValidateManifestFilename(""))
	assert.Error(t, ValidateManifestFilename("../manifest.json"))
	assert.Error(t, ValidateManifestFilename("/etc/manifest.json"))
	assert.NoError(t, ValidateManifestFilename("manifest.json"))
}

func TestWriteAndLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "abc")

	m, err := Build(root, "run-1", "manifest.json")
	require.NoError(t, err)

	manifestPath := filepath.Join(root, "manifest.json")
	require.NoError(t, Write(m, manifestPath))

	loaded, err := Load(manifestPath)
	require.NoError(t, err)
	assert.Equal(t, m.Files, loaded.Files)
	assert.Equal(t, m.RunID, loaded.RunID)
}

func TestLoadMissingFileReturnsNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestValidateDetectsMissingExtraAndModified(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.txt"), "keep")
	writeFile(t, filepath.Join(root, "change.txt"), "original")
	writeFile(t, filepath.Join(root, "gone.txt"), "bye")

	m, err := Build(root, "run-1", "manifest.json")
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))
	writeFile(t, filepath.Join(root, "change.txt"), "changed")
	writeFile(t, filepath.Join(root, "new.txt"), "new")

	result, err := Validate(root, m, "manifest.json")
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.txt"}, result.Missing)
	assert.Equal(t, []string{"new.txt"}, result.Extra)
	assert.Equal(t, []string{"change.txt"}, result.Modified)
	assert.False(t, result.OK())
}

func TestBuildWithBoundRecordsExtent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "0", "0", "0.terrain"), "tile")

	bound := orb.Bound{Min: orb.Point{-10, -5}, Max: orb.Point{10, 5}}
	m, err := BuildWithBound(root, "run-1", "manifest.json", &bound)
	require.NoError(t, err)
	require.NotNil(t, m.Bound)
	assert.Equal(t, bound, *m.Bound)
}

func TestBuildWithBoundNilOmitsExtent(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "a")

	m, err := BuildWithBound(root, "run-1", "manifest.json", nil)
	require.NoError(t, err)
	assert.Nil(t, m.Bound)
}

func TestValidateOKWhenUnchanged(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "stable.txt"), "stable")

	m, err := Build(root, "run-1", "manifest.json")
	require.NoError(t, err)

	result, err := Validate(root, m, "manifest.json")
	require.NoError(t, err)
	assert.True(t, result.OK())
}
