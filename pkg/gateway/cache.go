package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// cachedPayload is the Redis value for one guarded payload. The cache key
// includes the cutoff time, so a cached payload is always valid for the
// guard contract it was stored under.
type cachedPayload struct {
	Data          []map[string]any `json:"data"`
	PayloadHash   string           `json:"payload_hash"`
	RecordCount   int              `json:"record_count"`
	FilteredCount int              `json:"filtered_count"`
	Leaked        bool             `json:"leaked"`
}

// payloadCache is a best-effort Redis cache for guarded payloads. Every
// failure degrades to a miss; the gateway never depends on it.
type payloadCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

func newPayloadCache(addr string, ttl time.Duration, logger *slog.Logger) *payloadCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &payloadCache{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
		log:    logger,
	}
}

func (c *payloadCache) get(ctx context.Context, key string) (*cachedPayload, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("payload cache read failed", "error", err)
		}
		return nil, false
	}
	var payload cachedPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		c.log.Warn("payload cache entry corrupt, ignoring", "key", key, "error", err)
		return nil, false
	}
	return &payload, true
}

func (c *payloadCache) put(ctx context.Context, key string, payload *cachedPayload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn("payload cache encode failed", "error", err)
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.log.Warn("payload cache write failed", "error", err)
	}
}

func (c *payloadCache) close() error {
	return c.client.Close()
}
