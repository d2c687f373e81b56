package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/54b3r/manualrag-go/internal/bundle"
	"github.com/54b3r/manualrag-go/internal/logging"
	"github.com/54b3r/manualrag-go/internal/rag"
)

// Cache holds blobs keyed by handle. Blobs are immutable, so entries are
// never invalidated.
type Cache interface {
	// Get returns the cached blob and true, or false on a miss.
	Get(ctx context.Context, h rag.Handle) ([]byte, bool, error)
	// Set stores data under h.
	Set(ctx context.Context, h rag.Handle, data []byte) error
}

// Cached is a rag.BlobStore that reads through and writes through a Cache.
// Cache failures are logged and otherwise ignored; the backing store stays
// authoritative.
type Cached struct {
	// store is the authoritative content-addressed store.
	store rag.BlobStore
	// cache holds copies of blobs already seen.
	cache Cache
	// maxBytes skips caching of blobs larger than this. Zero means no limit.
	maxBytes int
}

// NewCached wraps store with cache. Blobs larger than maxBytes are passed
// through uncached; zero disables the limit.
func NewCached(store rag.BlobStore, cache Cache, maxBytes int) *Cached {
	return &Cached{store: store, cache: cache, maxBytes: maxBytes}
}

// Put stores data in the backing store, then in the cache.
func (c *Cached) Put(ctx context.Context, data []byte) (rag.Handle, error) {
	h, err := c.store.Put(ctx, data)
	if err != nil {
		return "", err
	}
	c.remember(ctx, h, data)
	return h, nil
}

// Get serves h from the cache when possible, falling back to the store.
func (c *Cached) Get(ctx context.Context, h rag.Handle) ([]byte, error) {
	log := logging.FromContext(ctx)

	data, ok, err := c.cache.Get(ctx, h)
	switch {
	case err != nil:
		log.Warn("blobstore: cache read failed, falling back to store",
			slog.String("handle", h.String()),
			slog.Any("error", err),
		)
	case ok && verified(h, data):
		log.Debug("blobstore: cache hit", slog.String("handle", h.String()))
		return data, nil
	case ok:
		log.Warn("blobstore: cached blob does not match its digest, refetching",
			slog.String("handle", h.String()),
		)
	}

	data, err = c.store.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, h, data)
	return data, nil
}

func (c *Cached) remember(ctx context.Context, h rag.Handle, data []byte) {
	if c.maxBytes > 0 && len(data) > c.maxBytes {
		return
	}
	if err := c.cache.Set(ctx, h, data); err != nil {
		logging.FromContext(ctx).Warn("blobstore: cache write failed",
			slog.String("handle", h.String()),
			slog.Any("error", err),
		)
	}
}

// verified reports whether data matches h for locally digested handles.
// CIDs are trusted as cached.
func verified(h rag.Handle, data []byte) bool {
	if !strings.HasPrefix(string(h), bundle.DigestPrefix) {
		return true
	}
	return bundle.Digest(data) == h
}

// RedisConfig holds settings for a RedisCache.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection URL.
	URL string
	// KeyPrefix namespaces cache keys (default: "manualrag:blob:").
	KeyPrefix string
	// TTL expires entries after this long. Zero keeps them forever.
	TTL time.Duration
}

// RedisCache is a Cache backed by Redis string values.
type RedisCache struct {
	// client is the Redis connection pool.
	client *redis.Client
	// prefix is prepended to every key.
	prefix string
	// ttl is the entry lifetime; zero means no expiry.
	ttl time.Duration
}

// NewRedisCache connects to cfg.URL and verifies the connection with PING.
func NewRedisCache(ctx context.Context, cfg *RedisConfig) (*RedisCache, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("blobstore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("blobstore: redis ping: %w", err)
	}
	return NewRedisCacheFromClient(client, cfg), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, cfg *RedisConfig) *RedisCache {
	prefix := "manualrag:blob:"
	var ttl time.Duration
	if cfg != nil {
		if cfg.KeyPrefix != "" {
			prefix = cfg.KeyPrefix
		}
		ttl = cfg.TTL
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get returns the cached blob for h.
func (r *RedisCache) Get(ctx context.Context, h rag.Handle) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.prefix+string(h)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache: get: %w", err)
	}
	return data, true, nil
}

// Set stores data under h.
func (r *RedisCache) Set(ctx context.Context, h rag.Handle, data []byte) error {
	if err := r.client.Set(ctx, r.prefix+string(h), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set: %w", err)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (r *RedisCache) Name() string { return "redis" }

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis cache: ping: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
