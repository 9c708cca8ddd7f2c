package tilestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "carrier-pigeon"})
	require.Error(t, err)
}

func TestNewBlobRequiresURL(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: BackendBlob})
	require.Error(t, err)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: BackendS3})
	require.Error(t, err)
}

func TestBlobStoreUploadWritesFile(t *testing.T) {
	dir := t.TempDir()
	store, err := New(context.Background(), Config{Backend: BackendBlob, BlobURL: "file://" + dir})
	require.NoError(t, err)
	defer store.Close()

	content := "tile bytes"
	err = store.Upload(context.Background(), "layer/0/0/0.png", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, "layer", "0", "0", "0.png"))
	require.NoError(t, err)
	assert.Equal(t, content, string(written))
}

func TestUploadTreeUploadsEveryFile(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "layer", "0", "0"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "layer", "0", "0", "0.png"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "layer", "legend.json"), []byte("{}"), 0o644))

	dst := t.TempDir()
	store, err := New(context.Background(), Config{Backend: BackendBlob, BlobURL: "file://" + dst})
	require.NoError(t, err)
	defer store.Close()

	n, err := UploadTree(context.Background(), store, src)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = os.Stat(filepath.Join(dst, "layer", "0", "0", "0.png"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dst, "layer", "legend.json"))
	assert.NoError(t, err)
}
