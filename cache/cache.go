// Package cache serves market series from Redis in front of a slower backtest.Provider.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/etnz/backtest"
	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

// DefaultTTL is how long a fetched series stays in the cache.
const DefaultTTL = 24 * time.Hour

// Cache is a backtest.Provider that keeps every fetched series in Redis.
// Redis failures are logged and the request goes to the next provider.
type Cache struct {
	client *redis.Client
	next   backtest.Provider
	ttl    time.Duration
	logger zerolog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL sets the lifetime of cached series.
func WithTTL(ttl time.Duration) Option { return func(c *Cache) { c.ttl = ttl } }

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(c *Cache) { c.logger = l } }

// Dial returns a client on the Redis server at addr, after a ping.
func Dial(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return rdb, nil
}

// New returns a Cache in front of next.
func New(client *redis.Client, next backtest.Provider, opts ...Option) *Cache {
	c := &Cache{client: client, next: next, ttl: DefaultTTL, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the Redis key of the series of symbol over r.
func Key(symbol string, r backtest.Range) string {
	return fmt.Sprintf("backtest:market:%s:%s:%s", symbol, r.From, r.To)
}

// Fetch implements backtest.Provider.
func (c *Cache) Fetch(ctx context.Context, symbols []string, r backtest.Range) (*backtest.MarketData, error) {
	data := backtest.NewMarketData()
	var missing []string
	for _, symbol := range symbols {
		series, ok := c.get(ctx, symbol, r)
		if !ok {
			missing = append(missing, symbol)
			continue
		}
		data.AddSeries(series)
	}
	if len(missing) == 0 {
		return data, nil
	}

	fetched, err := c.next.Fetch(ctx, missing, r)
	if err != nil {
		return nil, err
	}
	for _, symbol := range missing {
		c.set(ctx, fetched.Series(symbol, r), r)
	}
	data.Merge(fetched)
	return data, nil
}

func (c *Cache) get(ctx context.Context, symbol string, r backtest.Range) (backtest.Series, bool) {
	var series backtest.Series
	key := Key(symbol, r)
	val, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return series, false
	case err != nil:
		c.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		return series, false
	}
	if err := json.Unmarshal(val, &series); err != nil || len(series.Prices) == 0 {
		c.logger.Warn().Err(err).Str("key", key).Msg("ignoring invalid cache entry")
		return series, false
	}
	return series, true
}

func (c *Cache) set(ctx context.Context, series backtest.Series, r backtest.Range) {
	key := Key(series.Symbol, r)
	val, err := json.Marshal(series)
	if err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("cannot encode series")
		return
	}
	if err := c.client.Set(ctx, key, val, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
	}
}
