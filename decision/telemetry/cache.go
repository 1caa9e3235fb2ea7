package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Cache is a read-through redis cache in front of a lookup. Cache errors
// never fail a lookup; they only cost a trip to the backend.
type Cache struct {
	client    *redis.Client
	next      Lookup
	keyPrefix string
	ttl       time.Duration
	logger    zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCache(client *redis.Client, next Lookup, ttl time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		client:    client,
		next:      next,
		keyPrefix: "taulayer:telemetry:",
		ttl:       ttl,
		logger:    logger,
	}
}

func (c *Cache) key(k Key) string {
	return c.keyPrefix + k.String()
}

func (c *Cache) Lookup(ctx context.Context, key Key) (*Snapshot, error) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case err == nil:
		var snap Snapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			c.hits.Add(1)
			return &snap, nil
		}
		c.logger.Warn().Str("shape", key.Shape).Msg("Discarding undecodable cached snapshot")
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn().Err(err).Str("shape", key.Shape).Msg("Telemetry cache read failed")
	}
	c.misses.Add(1)

	snap, err := c.next.Lookup(ctx, key)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(snap); err == nil {
		if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
			c.logger.Warn().Err(err).Str("shape", key.Shape).Msg("Telemetry cache write failed")
		}
	}
	return snap, nil
}

// Stats returns hit and miss counts.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
