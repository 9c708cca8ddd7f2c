// Package cfgcache implements the shared config-loading pattern used
// for every on-disk config payload (tiling, tile-scheduler, ingest
// scheduler, archive): resolve a path (explicit arg > env var
// > repo-rooted default), stat it, key a small LRU cache by
// (path, mtime_ns, size), parse YAML or JSON, validate a schema_version,
// and hand back a payload carrying a content-addressed ETag.
package cfgcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dankermu/digital-earth/internal/apperr"
)

// Payload is what every loader hands back: the raw bytes' ETag, the
// parsed config value, and (optionally) the raw bytes themselves.
type Payload[T any] struct {
	ETag     string
	Parsed   T
	RawBytes []byte
}

// ETag computes the "sha256-<hex>" content tag HTTP 304 consumers key
// on.
func ETag(raw []byte) string {
	sum := sha256.Sum256(raw)
	return "sha256-" + hex.EncodeToString(sum[:])
}

// cacheKey is the cache-validity tuple (path, mtime_ns, size): a config
// is considered unchanged, and therefore cacheable, as long as all
// three match a previous load.
type cacheKey struct {
	path    string
	mtimeNs int64
	size    int64
}

// Decoder parses and validates raw config bytes read from path (YAML or
// JSON, dispatched by path's extension) into T.
type Decoder[T any] func(path string, raw []byte) (T, error)

// RemoteCache is an optional second tier behind a Loader's in-process
// LRU: a shared cache (e.g. Redis) of raw config bytes that lets other
// processes skip reading a config file from disk they have never loaded
// locally. The bytes fetched from it are still decoded in each process.
// Keys already encode the source path plus its mtime/size, so a stale
// entry simply misses rather than serving outdated bytes.
type RemoteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, raw []byte, ttl time.Duration) error
}

// RedisRemoteCache is a RemoteCache backed by a redis.Client, grounded
// on the same client/key/TTL conventions as a Redis-backed application
// cache.
type RedisRemoteCache struct {
	client *redis.Client
}

// NewRedisRemoteCache wraps an existing redis.Client as a RemoteCache.
func NewRedisRemoteCache(client *redis.Client) *RedisRemoteCache {
	return &RedisRemoteCache{client: client}
}

func (c *RedisRemoteCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Wrap(apperr.StorageErr, "failed to read config from remote cache", err)
	}
	return raw, true, nil
}

func (c *RedisRemoteCache) Set(ctx context.Context, key string, raw []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return apperr.Wrap(apperr.StorageErr, "failed to write config to remote cache", err)
	}
	return nil
}

// Loader is a small LRU-backed cache around one Decoder, optionally
// fronting a RemoteCache. Safe for concurrent use.
type Loader[T any] struct {
	decode     Decoder[T]
	maxEntries int

	mu    sync.Mutex
	ll    *list.List
	items map[cacheKey]*list.Element

	remote    RemoteCache
	remoteTTL time.Duration
}

// WithRemoteCache attaches a RemoteCache tier with the given TTL for
// entries this process writes to it. Returns l for chaining.
func (l *Loader[T]) WithRemoteCache(remote RemoteCache, ttl time.Duration) *Loader[T] {
	l.remote = remote
	l.remoteTTL = ttl
	return l
}

func (k cacheKey) remoteKey() string {
	return fmt.Sprintf("cfgcache:%s:%d:%d", k.path, k.mtimeNs, k.size)
}

type entry[T any] struct {
	key     cacheKey
	payload *Payload[T]
}

// NewLoader builds a Loader that keeps at most maxEntries parsed
// payloads in memory, evicting least-recently-used entries beyond that.
func NewLoader[T any](decode Decoder[T], maxEntries int) *Loader[T] {
	if maxEntries <= 0 {
		maxEntries = 8
	}
	return &Loader[T]{
		decode:     decode,
		maxEntries: maxEntries,
		ll:         list.New(),
		items:      make(map[cacheKey]*list.Element),
	}
}

// Load stats path, returns the cached Payload if (path, mtime, size)
// matches a prior load, and otherwise reads, parses, validates, and
// caches a fresh one. Equivalent to LoadContext(context.Background(), path).
func (l *Loader[T]) Load(path string) (*Payload[T], error) {
	return l.LoadContext(context.Background(), path)
}

// LoadContext is Load, consulting the optional RemoteCache tier (if
// attached via WithRemoteCache) between the in-process LRU miss and
// the disk read.
func (l *Loader[T]) LoadContext(ctx context.Context, path string) (*Payload[T], error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperr.Wrap(apperr.NotFound, "config file not found: "+path, err)
		}
		return nil, apperr.Wrap(apperr.StorageErr, "failed to stat config file", err)
	}
	key := cacheKey{path: path, mtimeNs: info.ModTime().UnixNano(), size: info.Size()}

	l.mu.Lock()
	if el, ok := l.items[key]; ok {
		l.ll.MoveToFront(el)
		payload := el.Value.(*entry[T]).payload
		l.mu.Unlock()
		return payload, nil
	}
	l.mu.Unlock()

	raw, fromRemote, err := l.readRaw(ctx, path, key)
	if err != nil {
		return nil, err
	}
	parsed, err := l.decode(path, raw)
	if err != nil {
		return nil, err
	}
	payload := &Payload[T]{ETag: ETag(raw), Parsed: parsed, RawBytes: raw}

	if l.remote != nil && !fromRemote {
		_ = l.remote.Set(ctx, key.remoteKey(), raw, l.remoteTTL)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Another goroutine may have raced us to populate the same key.
	if el, ok := l.items[key]; ok {
		l.ll.MoveToFront(el)
		return el.Value.(*entry[T]).payload, nil
	}
	el := l.ll.PushFront(&entry[T]{key: key, payload: payload})
	l.items[key] = el
	if l.ll.Len() > l.maxEntries {
		oldest := l.ll.Back()
		if oldest != nil {
			l.ll.Remove(oldest)
			delete(l.items, oldest.Value.(*entry[T]).key)
		}
	}
	return payload, nil
}

// readRaw returns path's bytes, preferring the RemoteCache tier (if
// attached) over a local disk read, and reports whether the bytes came
// from the remote tier so the caller doesn't write them straight back.
func (l *Loader[T]) readRaw(ctx context.Context, path string, key cacheKey) (raw []byte, fromRemote bool, err error) {
	if l.remote != nil {
		if cached, ok, rerr := l.remote.Get(ctx, key.remoteKey()); rerr == nil && ok {
			return cached, true, nil
		}
	}
	raw, err = os.ReadFile(path)
	if err != nil {
		return nil, false, apperr.Wrap(apperr.StorageErr, "failed to read config file", err)
	}
	return raw, false, nil
}

// ResolvePath picks the config path by explicit arg > environment
// variable > repo-rooted default, matching every config module's
// _resolve_config_path.
func ResolvePath(explicit, envVar, repoRoot, defaultRelPath string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if v := os.Getenv(envVar); strings.TrimSpace(v) != "" {
		return v
	}
	return filepath.Join(repoRoot, defaultRelPath)
}

// ValidateSchemaVersion enforces schema_version ∈ supported, the
// validation every config module's model_validator performs.
func ValidateSchemaVersion(version int, supported []int) error {
	for _, v := range supported {
		if v == version {
			return nil
		}
	}
	return apperr.New(apperr.ConfigErr, "unsupported schema_version")
}

// ResolveContained resolves rel against base and requires the result to
// stay within root — the archive config's raw_root_dir containment
// check, generalized to any config path field with the same
// constraint. An absolute rel is returned resolved as-is without the
// containment check, matching the original's is_absolute() branch.
func ResolveContained(root, base, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	resolved, err := filepath.Abs(filepath.Join(base, rel))
	if err != nil {
		return "", apperr.Wrap(apperr.ConfigErr, "failed to resolve config path", err)
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", apperr.Wrap(apperr.ConfigErr, "failed to resolve repo root", err)
	}
	relToRoot, err := filepath.Rel(rootAbs, resolved)
	if err != nil || relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(filepath.Separator)) {
		return "", apperr.New(apperr.ConfigErr, "path must resolve within repo root")
	}
	return resolved, nil
}
