package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrCacheMiss is returned by Cache.Get for an absent key.
var ErrCacheMiss = errors.New("resolver: cache miss")

// KeyPrefix namespaces cached resolutions.
const KeyPrefix = "filemeta:resolve:"

// Cache stores encoded resolutions.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return b, err
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

// CachedResolver is a read-through cache in front of another Resolver. Cache
// failures are logged and fall back to the wrapped resolver; only successful
// resolutions are stored.
type CachedResolver struct {
	next  Resolver
	cache Cache
	ttl   time.Duration
}

func NewCachedResolver(next Resolver, cache Cache, ttl time.Duration) *CachedResolver {
	return &CachedResolver{next: next, cache: cache, ttl: ttl}
}

func (r *CachedResolver) Resolve(ctx context.Context, pid string) (*Resolution, error) {
	key := KeyPrefix + pid

	b, err := r.cache.Get(ctx, key)
	switch {
	case err == nil:
		if res, derr := decodeResolution(b); derr == nil {
			return res, nil
		}
		log.Warn().Str("pid", pid).Msg("discarding undecodable cached resolution")
	case !errors.Is(err, ErrCacheMiss):
		log.Warn().Err(err).Str("pid", pid).Msg("resolver cache get failed")
	}

	res, err := r.next.Resolve(ctx, pid)
	if err != nil {
		return nil, err
	}

	enc, err := json.Marshal(res)
	if err != nil {
		log.Warn().Err(err).Str("pid", pid).Msg("encode resolution for cache")
		return res, nil
	}
	if err := r.cache.Set(ctx, key, enc, r.ttl); err != nil {
		log.Warn().Err(err).Str("pid", pid).Msg("resolver cache set failed")
	}
	return res, nil
}
