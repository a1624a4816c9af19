package marketstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradewind/internal/metrics"
)

// cacheOpTimeout keeps cache lookups from ever blocking the pipeline.
const cacheOpTimeout = 500 * time.Millisecond

// PriceCache holds the latest traded price per symbol in Redis. All
// methods are nil-safe so workers run unchanged without Redis.
type PriceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// PriceEntry is the cached value.
type PriceEntry struct {
	Symbol    string    `json:"symbol"`
	Exchange  string    `json:"exchange"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPriceCache creates a price cache. A nil client yields a nil cache,
// which every method treats as a permanent miss.
func NewPriceCache(client *redis.Client, ttl time.Duration) *PriceCache {
	if client == nil {
		return nil
	}
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &PriceCache{client: client, ttl: ttl}
}

// Get returns the cached price and true on a hit. Errors are treated as
// misses; a dead cache must not stall trading.
func (c *PriceCache) Get(ctx context.Context, exchange, symbol string) (float64, bool) {
	if c == nil || c.client == nil {
		return 0, false
	}

	key := c.key(exchange, symbol)

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Result()
	if err != nil {
		if err != redis.Nil {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error, treating as cache miss")
			metrics.RecordError("price_cache")
		}
		metrics.RecordCacheMiss()
		return 0, false
	}

	var entry PriceEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached price")
		metrics.RecordCacheMiss()
		return 0, false
	}

	metrics.RecordCacheHit()
	return entry.Price, true
}

// Set stores the latest price with the configured TTL.
func (c *PriceCache) Set(ctx context.Context, exchange, symbol string, price float64) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	entry := PriceEntry{
		Symbol:    symbol,
		Exchange:  exchange,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal price entry: %w", err)
	}

	cacheCtx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	key := c.key(exchange, symbol)
	metrics.RecordRedisOperation("set")
	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache price")
		metrics.RecordError("price_cache")
		return err
	}

	return nil
}

// Health pings Redis.
func (c *PriceCache) Health(ctx context.Context) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("cache not initialized")
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.client.Ping(cacheCtx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	return nil
}

// Close releases the Redis connection.
func (c *PriceCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *PriceCache) key(exchange, symbol string) string {
	return fmt.Sprintf("tradewind:price:%s:%s", exchange, symbol)
}
