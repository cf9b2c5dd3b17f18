// Package cache 提供基于 Redis 的共享价格缓存。
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"sol-trader/internal/config"
)

// NewRedisClient 创建 Redis 客户端并检查连通性。
func NewRedisClient(ctx context.Context, cfg config.CacheConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return rdb, nil
}
