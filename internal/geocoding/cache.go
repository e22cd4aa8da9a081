package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"field-route-service/internal/entity"
)

const cacheKeyPrefix = "geocode:"

// RedisClient is the subset of *redis.Client the cache needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// CachedGeocoder is a read-through cache in front of another Geocoder.
// Only hits are cached. Redis errors fall back to the wrapped geocoder.
type CachedGeocoder struct {
	next   Geocoder
	rdb    RedisClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedGeocoder(next Geocoder, rdb RedisClient, ttl time.Duration, logger *slog.Logger) *CachedGeocoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedGeocoder{next: next, rdb: rdb, ttl: ttl, logger: logger}
}

func CacheKey(address string) string {
	return cacheKeyPrefix + strings.ToLower(strings.Join(strings.Fields(address), " "))
}

func (c *CachedGeocoder) Geocode(ctx context.Context, address string) (*entity.Coordinates, error) {
	key := CacheKey(address)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var coords entity.Coordinates
		if err := json.Unmarshal(raw, &coords); err == nil {
			return &coords, nil
		}
		c.logger.Warn("geocode cache entry unreadable", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("geocode cache get", "key", key, "error", err)
	}

	coords, err := c.next.Geocode(ctx, address)
	if err != nil || coords == nil {
		return coords, err
	}

	data, err := json.Marshal(coords)
	if err != nil {
		return coords, nil
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("geocode cache set", "key", key, "error", err)
	}
	return coords, nil
}
