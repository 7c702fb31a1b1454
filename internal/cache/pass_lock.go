package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockHeld 评估锁已被其他实例持有
var ErrLockHeld = errors.New("evaluation pass lock is held by another run")

// PassLocker 评估互斥锁接口
type PassLocker interface {
	// Acquire 获取锁，返回释放函数；锁被占用时返回 ErrLockHeld
	Acquire(ctx context.Context) (release func(context.Context) error, err error)
}

// 仅当持有者 token 匹配时删除
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisPassLock 基于 Redis SET NX PX 的评估锁（跨实例）
type RedisPassLock struct {
	redisClient *redis.Client
	key         string
	ttl         time.Duration
	logger      *zap.Logger
}

// NewRedisPassLock 创建 Redis 评估锁
func NewRedisPassLock(redisClient *redis.Client, key string, ttl time.Duration, logger *zap.Logger) *RedisPassLock {
	return &RedisPassLock{
		redisClient: redisClient,
		key:         key,
		ttl:         ttl,
		logger:      logger,
	}
}

// Acquire 获取锁（带随机 token）
func (l *RedisPassLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.New().String()
	ok, err := l.redisClient.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire pass lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	l.logger.Debug("Acquired evaluation pass lock",
		zap.String("key", l.key),
		zap.Duration("ttl", l.ttl),
	)

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.redisClient, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("failed to release pass lock: %w", err)
		}
		if n == 0 {
			l.logger.Warn("Evaluation pass lock expired before release",
				zap.String("key", l.key),
			)
		}
		return nil
	}
	return release, nil
}

// LocalPassLock 进程内评估锁（单实例 / 内存模式）
type LocalPassLock struct {
	mu sync.Mutex
}

// NewLocalPassLock 创建进程内评估锁
func NewLocalPassLock() *LocalPassLock {
	return &LocalPassLock{}
}

func (l *LocalPassLock) Acquire(_ context.Context) (func(context.Context) error, error) {
	if !l.mu.TryLock() {
		return nil, ErrLockHeld
	}
	var once sync.Once
	return func(context.Context) error {
		once.Do(l.mu.Unlock)
		return nil
	}, nil
}
