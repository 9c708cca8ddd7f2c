package cfgcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis starts a miniredis instance and a real redis.Client
// pointed at it, for tests that exercise RedisRemoteCache itself rather
// than a hand-rolled stand-in.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

// fakeRemoteCache is an in-memory stand-in for RedisRemoteCache, so the
// remote-tier wiring can be tested without a live Redis server.
type fakeRemoteCache struct {
	mu    sync.Mutex
	store map[string][]byte
	gets  int
	sets  int
}

func newFakeRemoteCache() *fakeRemoteCache {
	return &fakeRemoteCache{store: make(map[string][]byte)}
}

func (f *fakeRemoteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	raw, ok := f.store[key]
	return raw, ok, nil
}

func (f *fakeRemoteCache) Set(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets++
	f.store[key] = raw
	return nil
}

func TestETagIsContentAddressed(t *testing.T) {
	tag1 := ETag([]byte("hello"))
	tag2 := ETag([]byte("hello"))
	tag3 := ETag([]byte("world"))
	assert.Equal(t, tag1, tag2)
	assert.NotEqual(t, tag1, tag3)
	assert.Regexp(t, `^sha256-[0-9a-f]{64}$`, tag1)
}

func TestLoaderCachesUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	var decodeCalls int
	loader := NewLoader(func(path string, raw []byte) (string, error) {
		decodeCalls++
		return string(raw), nil
	}, 8)

	p1, err := loader.Load(path)
	require.NoError(t, err)
	p2, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, decodeCalls)
	assert.Equal(t, p1.ETag, p2.ETag)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"v":2}`), 0o644))
	p3, err := loader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, decodeCalls)
	assert.NotEqual(t, p1.ETag, p3.ETag)
}

func TestLoaderRemoteCacheServesSecondProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	remote := newFakeRemoteCache()

	var firstDecodeCalls int
	firstLoader := NewLoader(func(path string, raw []byte) (string, error) {
		firstDecodeCalls++
		return string(raw), nil
	}, 8).WithRemoteCache(remote, time.Minute)
	_, err := firstLoader.LoadContext(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, firstDecodeCalls)
	assert.Equal(t, 1, remote.sets)

	var secondDecodeCalls int
	secondLoader := NewLoader(func(path string, raw []byte) (string, error) {
		secondDecodeCalls++
		return string(raw), nil
	}, 8).WithRemoteCache(remote, time.Minute)
	payload, err := secondLoader.LoadContext(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, secondDecodeCalls)
	assert.Equal(t, `{"v":1}`, payload.Parsed)
	assert.GreaterOrEqual(t, remote.gets, 1)
}

func TestRedisRemoteCacheGetMissReturnsFalse(t *testing.T) {
	client, _ := setupTestRedis(t)
	remote := NewRedisRemoteCache(client)

	raw, ok, err := remote.Get(context.Background(), "cfgcache:missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, raw)
}

func TestRedisRemoteCacheSetThenGetRoundTrips(t *testing.T) {
	client, _ := setupTestRedis(t)
	remote := NewRedisRemoteCache(client)
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "cfgcache:tiling.yaml:1:2", []byte(`{"v":1}`), time.Minute))

	raw, ok, err := remote.Get(ctx, "cfgcache:tiling.yaml:1:2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"v":1}`, string(raw))
}

func TestRedisRemoteCacheEntryExpiresWithTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	remote := NewRedisRemoteCache(client)
	ctx := context.Background()

	require.NoError(t, remote.Set(ctx, "cfgcache:tiling.yaml:1:2", []byte("{}"), time.Second))
	mr.FastForward(2 * time.Second)

	_, ok, err := remote.Get(ctx, "cfgcache:tiling.yaml:1:2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoaderRemoteCacheServesSecondProcessOverRealRedis(t *testing.T) {
	client, _ := setupTestRedis(t)
	remote := NewRedisRemoteCache(client)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"v":1}`), 0o644))

	var firstDecodeCalls int
	firstLoader := NewLoader(func(path string, raw []byte) (string, error) {
		firstDecodeCalls++
		return string(raw), nil
	}, 8).WithRemoteCache(remote, time.Minute)
	_, err := firstLoader.LoadContext(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, firstDecodeCalls)

	var secondDecodeCalls int
	secondLoader := NewLoader(func(path string, raw []byte) (string, error) {
		secondDecodeCalls++
		return string(raw), nil
	}, 8).WithRemoteCache(remote, time.Minute)
	payload, err := secondLoader.LoadContext(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 1, secondDecodeCalls, "second process reads the raw bytes from the shared remote cache and decodes them locally")
	assert.Equal(t, `{"v":1}`, payload.Parsed)
}

func TestLoaderEvictsLeastRecentlyUsed(t *testing.T) {
	dir := t.TempDir()
	var decodeCalls int
	loader := NewLoader(func(path string, raw []byte) (string, error) {
		decodeCalls++
		return string(raw), nil
	}, 2)

	paths := make([]string, 3)
	for i := range paths {
		paths[i] = filepath.Join(dir, string(rune('a'+i))+".json")
		require.NoError(t, os.WriteFile(paths[i], []byte("{}"), 0o644))
	}

	_, err := loader.Load(paths[0])
	require.NoError(t, err)
	_, err = loader.Load(paths[1])
	require.NoError(t, err)
	_, err = loader.Load(paths[2]) // evicts paths[0]
	require.NoError(t, err)
	assert.Equal(t, 3, decodeCalls)

	_, err = loader.Load(paths[0])
	require.NoError(t, err)
	assert.Equal(t, 4, decodeCalls, "paths[0] should have been evicted and re-decoded")
}

func TestLoaderMissingFileReturnsNotFound(t *testing.T) {
	loader := NewLoader(func(path string, raw []byte) (string, error) { return "", nil }, 8)
	_, err := loader.Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestResolvePathPrecedence(t *testing.T) {
	envVar := "DIGITAL_EARTH_TEST_CONFIG_PATH"
	os.Unsetenv(envVar)

	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml", envVar, "/repo", "default.yaml"))

	os.Setenv(envVar, "/from-env.yaml")
	defer os.Unsetenv(envVar)
	assert.Equal(t, "/from-env.yaml", ResolvePath("", envVar, "/repo", "default.yaml"))

	os.Unsetenv(envVar)
	assert.Equal(t, filepath.Join("/repo", "default.yaml"), ResolvePath("", envVar, "/repo", "default.yaml"))
}

func TestValidateSchemaVersionRejectsUnsupported(t *testing.T) {
	require.NoError(t, ValidateSchemaVersion(1, []int{1, 2}))
	require.Error(t, ValidateSchemaVersion(3, []int{1, 2}))
}

func TestResolveContainedRejectsEscape(t *testing.T) {
	root := t.TempDir()
	resolved, err := ResolveContained(root, root, "Data/raw")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "Data", "raw"), resolved)

	_, err = ResolveContained(root, root, "../outside")
	require.Error(t, err)
}

func TestDecodeArchiveConfigAppliesDefaultsAndValidates(t *testing.T) {
	root := t.TempDir()
	cfg, err := DecodeArchiveConfig("archive.yaml", []byte(`schema_version: 1`), root)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.KeepNRuns)
	assert.Equal(t, "sha256", cfg.ChecksumAlgorithm)
	assert.Equal(t, "manifest.json", cfg.ManifestFilename)
	assert.Equal(t, filepath.Join(root, "Data", "raw"), cfg.RawRootDir)
}

func TestDecodeArchiveConfigRejectsEscapingRawRootDir(t *testing.T) {
	root := t.TempDir()
	_, err := DecodeArchiveConfig("archive.yaml", []byte(`raw_root_dir: ../outside`), root)
	require.Error(t, err)
}

func TestDecodeSchedulerConfigRejectsEmptyCron(t *testing.T) {
	_, err := DecodeSchedulerConfig("scheduler.yaml", []byte(`cron: ""`))
	require.Error(t, err)
}

func TestDecodeSchedulerConfigParsesWebhookHeaders(t *testing.T) {
	cfg, err := DecodeSchedulerConfig("scheduler.yaml", []byte(`
cron: "0 * * * *"
alert:
  threshold: 3
  webhook_url: https://example.com/hook
  webhook_headers:
    Authorization: token
`))
	require.NoError(t, err)
	assert.Equal(t, "token", cfg.Alert.WebhookHeaders["Authorization"])
}

func TestDecodeTileSchedulerConfigRejectsOutOfRangeWorkers(t *testing.T) {
	_, err := DecodeTileSchedulerConfig("tile_scheduler.yaml", []byte(`max_workers: 0`))
	require.Error(t, err)
}

func TestDecodeTilingConfigRejectsInvertedZoomRange(t *testing.T) {
	_, err := DecodeTilingConfig("tiling.yaml", []byte(`min_zoom: 5
max_zoom: 2`))
	require.Error(t, err)
}
