package notification

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/auditdesk/portal/pkg/cache"
	"github.com/auditdesk/portal/pkg/logger"
)

// CountCache holds per-user unread counts in front of the Store.
// Implementations swallow their own failures: a broken cache is a miss.
//
// Every Invalidate moves the user's generation forward. Callers read the
// generation before counting and pass it to Set, which drops the value if
// an Invalidate happened in between.
type CountCache interface {
	Get(ctx context.Context, userID string) (int, bool)
	Generation(ctx context.Context, userID string) int64
	Set(ctx context.Context, userID string, count int, generation int64)
	Invalidate(ctx context.Context, userID string)
}

// MemoryCountCache is a process-local LRU with TTL.
type MemoryCountCache struct {
	lru *cache.LRU[string, int]

	mu   sync.Mutex
	seq  int64
	gens map[string]int64 // never evicted, so a generation cannot go back
}

// NewMemoryCountCache creates a cache for up to size users.
func NewMemoryCountCache(size int, ttl time.Duration, opts ...cache.Option[string, int]) *MemoryCountCache {
	if size <= 0 {
		size = 10000
	}
	opts = append([]cache.Option[string, int]{cache.WithTTL[string, int](ttl)}, opts...)
	return &MemoryCountCache{
		lru:  cache.NewLRU[string, int](size, opts...),
		gens: make(map[string]int64),
	}
}

func (c *MemoryCountCache) Get(_ context.Context, userID string) (int, bool) {
	return c.lru.Get(userID)
}

func (c *MemoryCountCache) Generation(_ context.Context, userID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[userID]
}

func (c *MemoryCountCache) Set(_ context.Context, userID string, count int, generation int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[userID] != generation {
		return
	}
	c.lru.Put(userID, count)
}

func (c *MemoryCountCache) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	c.gens[userID] = c.seq
	c.lru.Remove(userID)
}

// RedisCountCache shares unread counts between processes through Redis.
type RedisCountCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// RedisCountCacheOption configures a RedisCountCache.
type RedisCountCacheOption func(*RedisCountCache)

// WithKeyPrefix sets the key namespace. Default "notifications:unread:".
func WithKeyPrefix(prefix string) RedisCountCacheOption {
	return func(c *RedisCountCache) { c.prefix = prefix }
}

func WithCacheLogger(l *slog.Logger) RedisCountCacheOption {
	return func(c *RedisCountCache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewRedisCountCache creates a Redis-backed cache with entries expiring after ttl.
func NewRedisCountCache(client redis.UniversalClient, ttl time.Duration, opts ...RedisCountCacheOption) *RedisCountCache {
	c := &RedisCountCache{
		client: client,
		ttl:    ttl,
		prefix: "notifications:unread:",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// generationTTL outlives any count read by a wide margin.
const generationTTL = 24 * time.Hour

func (c *RedisCountCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisCountCache) generationKey(userID string) string {
	return c.prefix + "gen:" + userID
}

func (c *RedisCountCache) Get(ctx context.Context, userID string) (int, bool) {
	n, err := c.client.Get(ctx, c.key(userID)).Int()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache read failed",
				logger.UserID(userID), logger.Error(err))
		}
		return 0, false
	}
	return n, true
}

func (c *RedisCountCache) Generation(ctx context.Context, userID string) int64 {
	gen, err := c.client.Get(ctx, c.generationKey(userID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache generation read failed",
			logger.UserID(userID), logger.Error(err))
		// -1 never matches, so the following Set is dropped.
		return -1
	}
	return gen
}

var errStaleGeneration = errors.New("notification: unread count generation moved")

// Set writes count under WATCH on the generation key, so an Invalidate
// racing with the write aborts it.
func (c *RedisCountCache) Set(ctx context.Context, userID string, count int, generation int64) {
	genKey := c.generationKey(userID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != generation {
			return errStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, c.key(userID), count, c.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleGeneration), errors.Is(err, redis.TxFailedErr):
		c.logger.LogAttrs(ctx, slog.LevelDebug, "stale unread count dropped", logger.UserID(userID))
	default:
		c.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache write failed",
			logger.UserID(userID), logger.Error(err))
	}
}

func (c *RedisCountCache) Invalidate(ctx context.Context, userID string) {
	genKey := c.generationKey(userID)
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Expire(ctx, genKey, generationTTL)
		p.Del(ctx, c.key(userID))
		return nil
	})
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "unread cache invalidate failed",
			logger.UserID(userID), logger.Error(err))
	}
}
