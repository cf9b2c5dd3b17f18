package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PriceSource 返回代币价格，ok=false 表示暂无报价。
type PriceSource interface {
	GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error)
}

// PriceCache 在上游价格源前加一层短期 Redis 缓存，多个进程可共享同一读数。
// Redis 不可用时直接回落到上游。
type PriceCache struct {
	rdb      redis.Cmdable
	upstream PriceSource
	ttl      time.Duration
	logger   *zap.Logger
}

// NewPriceCache 创建价格缓存。
func NewPriceCache(rdb redis.Cmdable, upstream PriceSource, ttl time.Duration, logger *zap.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PriceCache{rdb: rdb, upstream: upstream, ttl: ttl, logger: logger}
}

func priceKey(mint string) string {
	return "sol-trader:price:" + mint
}

// GetPrice 优先读取缓存，未命中时查询上游并写回。
func (c *PriceCache) GetPrice(ctx context.Context, mint string) (decimal.Decimal, bool, error) {
	if price, ok := c.cached(ctx, mint); ok {
		return price, true, nil
	}

	price, ok, err := c.upstream.GetPrice(ctx, mint)
	if err != nil || !ok {
		return price, ok, err
	}

	if err := c.rdb.Set(ctx, priceKey(mint), price.String(), c.ttl).Err(); err != nil {
		c.logger.Debug("写入价格缓存失败", zap.String("mint", mint), zap.Error(err))
	}
	return price, true, nil
}

// Invalidate 删除某个代币的缓存价格。
func (c *PriceCache) Invalidate(ctx context.Context, mint string) error {
	if err := c.rdb.Del(ctx, priceKey(mint)).Err(); err != nil {
		return fmt.Errorf("redis: del price %s: %w", mint, err)
	}
	return nil
}

func (c *PriceCache) cached(ctx context.Context, mint string) (decimal.Decimal, bool) {
	raw, err := c.rdb.Get(ctx, priceKey(mint)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("读取价格缓存失败", zap.String("mint", mint), zap.Error(err))
		}
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || price.Sign() <= 0 {
		return decimal.Zero, false
	}
	return price, true
}
