/**
 * internal/cache/redis.go
 * Redis 客户端初始化
 *
 * 功能：
 * - 从 REDIS_URL 创建客户端
 * - 启动时连通性检查
 *
 * 依赖：
 * - github.com/redis/go-redis/v9
 */

package cache

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisEmptyURL Redis 地址为空
	ErrRedisEmptyURL = errors.New("REDIS_EMPTY_URL")
	// ErrStoreUnavailable Redis 不可用（连接失败、超时等）
	ErrStoreUnavailable = errors.New("STORE_UNAVAILABLE")
)

const redisPingTimeout = 5 * time.Second

// NewRedisClient 创建 Redis 客户端并检查连通性
//
// 参数：
//   - ctx: 上下文
//   - redisURL: redis:// 或 rediss:// 格式地址
//
// 返回：
//   - *redis.Client: 客户端
//   - error: 地址无效或 Ping 失败
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, ErrRedisEmptyURL
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		utils.LogPrintf("[REDIS] ERROR: Failed to ping redis: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	utils.LogPrintf("[REDIS] Connected: addr=%s, db=%d", opts.Addr, opts.DB)
	return client, nil
}

// unavailable 将 Redis 错误包装为 ErrStoreUnavailable
func unavailable(op string, err error) error {
	utils.LogPrintf("[REDIS] ERROR: %s failed: %v", op, err)
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
