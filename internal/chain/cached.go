package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/metrics"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	blockCacheKeyPrefix = "block:"
	// DefaultConfirmations is how far below the head a block must be before
	// it is cached. Shallower blocks can still be reorged.
	DefaultConfirmations = 12
)

type RedisClient interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
}

// CachedSource keeps confirmed blocks in Redis. The head is always read live
// and only blocks at least confirmations below the latest head seen are
// written. Until a head has been read nothing is cached. Cache failures
// degrade to a direct read and are never returned.
type CachedSource struct {
	next          BlockSource
	redis         RedisClient
	ttl           time.Duration
	confirmations uint64
	logger        *zap.Logger

	head atomic.Uint64
	seen atomic.Bool
}

func NewCachedSource(next BlockSource, redisClient RedisClient, ttl time.Duration, confirmations int, logger *zap.Logger) *CachedSource {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if confirmations <= 0 {
		confirmations = DefaultConfirmations
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{
		next:          next,
		redis:         redisClient,
		ttl:           ttl,
		confirmations: uint64(confirmations),
		logger:        logger,
	}
}

func (c *CachedSource) HeadBlock(ctx context.Context) (uint64, error) {
	head, err := c.next.HeadBlock(ctx)
	if err != nil {
		return 0, err
	}
	c.head.Store(head)
	c.seen.Store(true)
	return head, nil
}

// confirmed reports whether number is deep enough below the last seen head
// to survive a reorg.
func (c *CachedSource) confirmed(number uint64) bool {
	if !c.seen.Load() {
		return false
	}
	head := c.head.Load()
	return number <= head && head-number >= c.confirmations
}

func (c *CachedSource) BlockTransactions(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	if c.redis != nil {
		cached, err := c.getBlock(ctx, number)
		switch {
		case err != nil:
			metrics.BlockCacheLookups.WithLabelValues(metrics.CacheError).Inc()
			c.logger.Warn("block cache read error", zap.Uint64("block", number), zap.Error(err))
		case cached != nil:
			metrics.BlockCacheLookups.WithLabelValues(metrics.CacheHit).Inc()
			return cached, nil
		default:
			metrics.BlockCacheLookups.WithLabelValues(metrics.CacheMiss).Inc()
		}
	}

	block, err := c.next.BlockTransactions(ctx, number)
	if err != nil {
		return nil, err
	}
	if c.redis != nil && c.confirmed(number) {
		if err := c.setBlock(ctx, block); err != nil {
			c.logger.Warn("block cache write error", zap.Uint64("block", number), zap.Error(err))
		}
	}
	return block, nil
}

func (c *CachedSource) getBlock(ctx context.Context, number uint64) (*domain.ChainBlock, error) {
	data, err := c.redis.Get(ctx, blockCacheKey(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var block domain.ChainBlock
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, err
	}
	return &block, nil
}

func (c *CachedSource) setBlock(ctx context.Context, block *domain.ChainBlock) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, blockCacheKey(block.Number), data, c.ttl).Err()
}

func blockCacheKey(number uint64) string {
	return blockCacheKeyPrefix + strconv.FormatUint(number, 10)
}
