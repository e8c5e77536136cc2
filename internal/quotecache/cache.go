// Package quotecache keeps the latest live quote per instrument in
// Redis with a short TTL, so position valuation and single-stock
// lookups between refresh cycles do not hit the provider again.
package quotecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"
	goredis "github.com/go-redis/redis/v8"

	"github.com/anuraggoyal1/stock-screener/internal/metrics"
	"github.com/anuraggoyal1/stock-screener/internal/model"
)

const defaultTTL = 5 * time.Minute

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	TTL      time.Duration
}

// Cache is a Redis-backed quote cache. A nil *Cache is a valid no-op
// cache: reads miss, writes vanish. Callers hold a nil cache when Redis
// is not configured.
type Cache struct {
	client  *goredis.Client
	ttl     time.Duration
	metrics *metrics.Metrics
}

// Client returns the underlying Redis client for health checks.
func (c *Cache) Client() *goredis.Client {
	if c == nil {
		return nil
	}
	return c.client
}

// New connects to Redis and pings the server.
func New(cfg Config, m *metrics.Metrics) (*Cache, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	slog.Info("quote cache connected", "addr", cfg.Addr, "ttl", ttl)
	return &Cache{client: client, ttl: ttl, metrics: m}, nil
}

func key(instrumentKey string) string {
	return "quote:" + instrumentKey
}

// Get returns the cached quote for an instrument key. Any backend
// problem counts as a miss.
func (c *Cache) Get(ctx context.Context, instrumentKey string) (model.Quote, bool) {
	if c == nil || c.client == nil {
		return model.Quote{}, false
	}
	raw, err := c.client.Get(ctx, key(instrumentKey)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			slog.Warn("quote cache read failed", "key", instrumentKey, "err", err)
		}
		if c.metrics != nil {
			c.metrics.QuoteCacheMisses.Inc()
		}
		return model.Quote{}, false
	}
	var q model.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		slog.Warn("quote cache decode failed", "key", instrumentKey, "err", err)
		if c.metrics != nil {
			c.metrics.QuoteCacheMisses.Inc()
		}
		return model.Quote{}, false
	}
	if c.metrics != nil {
		c.metrics.QuoteCacheHits.Inc()
	}
	return q, true
}

// Put stores one quote under its instrument key with the cache TTL.
// Best effort: failures are logged, never surfaced.
func (c *Cache) Put(ctx context.Context, instrumentKey string, q model.Quote) {
	if c == nil || c.client == nil {
		return
	}
	raw, err := json.Marshal(q)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(instrumentKey), raw, c.ttl).Err(); err != nil {
		slog.Warn("quote cache write failed", "key", instrumentKey, "err", err)
	}
}

// PutAll stores a batch of quotes, keyed by instrument key, in one
// pipelined roundtrip. Used after each bulk quote fetch.
func (c *Cache) PutAll(ctx context.Context, quotes map[string]model.Quote) {
	if c == nil || c.client == nil || len(quotes) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for instrumentKey, q := range quotes {
		raw, err := json.Marshal(q)
		if err != nil {
			continue
		}
		pipe.Set(ctx, key(instrumentKey), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("quote cache batch write failed", "count", len(quotes), "err", err)
	}
}

// Close closes the Redis client.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
