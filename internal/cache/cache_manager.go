package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dryer-alarm/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// CacheManager Redis 缓存管理器（报警状态统计）
// 评估写入新报警或生命周期变更后失效
type CacheManager struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewCacheManager 创建缓存管理器
func NewCacheManager(
	cfg *config.Config,
	redisClient *redis.Client,
	logger *zap.Logger,
) *CacheManager {
	return &CacheManager{
		redisClient: redisClient,
		key:         cfg.Alert.Cache.StatusKey,
		ttl:         time.Duration(cfg.Alert.Cache.StatusTTL) * time.Second,
		logger:      logger,
	}
}

// GetStatus 读取缓存的状态统计，未命中返回 false
func (c *CacheManager) GetStatus(ctx context.Context, dst any) (bool, error) {
	val, err := c.redisClient.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get status cache: %w", err)
	}

	// 反序列化
	if err := json.Unmarshal(val, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal status cache: %w", err)
	}
	return true, nil
}

// SetStatus 写入状态统计（带 TTL）
func (c *CacheManager) SetStatus(ctx context.Context, value any) error {
	if c.ttl <= 0 {
		return nil
	}
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := c.redisClient.Set(ctx, c.key, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set status cache: %w", err)
	}

	c.logger.Debug("Updated status cache",
		zap.String("key", c.key),
		zap.Duration("ttl", c.ttl),
	)
	return nil
}

// InvalidateStatus 删除状态统计缓存
func (c *CacheManager) InvalidateStatus(ctx context.Context) error {
	if err := c.redisClient.Del(ctx, c.key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate status cache: %w", err)
	}
	return nil
}
