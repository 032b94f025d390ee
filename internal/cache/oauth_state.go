/**
 * internal/cache/oauth_state.go
 * 第三方登录 state 存储（Redis）
 *
 * 功能：
 * - 生成授权地址时保存 state 与平台类型
 * - 回调时一次性取出并删除（GETDEL），防止重放
 *
 * 依赖：
 * - github.com/redis/go-redis/v9
 */

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const oauthStateKeyPrefix = "hiblogs:oauth:state:"

// ErrStateNotFound state 不存在、已过期或已被使用
var ErrStateNotFound = errors.New("OAUTH_STATE_NOT_FOUND")

// OAuthStateStore OAuth state 存储
type OAuthStateStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewOAuthStateStore 创建 state 存储，ttl 为授权页面停留的最长时间
func NewOAuthStateStore(rdb *redis.Client, ttl time.Duration) *OAuthStateStore {
	return &OAuthStateStore{rdb: rdb, ttl: ttl}
}

// Save 保存 state 对应的平台类型
func (s *OAuthStateStore) Save(ctx context.Context, state, provider string) error {
	if err := s.rdb.Set(ctx, oauthStateKeyPrefix+state, provider, s.ttl).Err(); err != nil {
		return unavailable("SaveOAuthState", err)
	}
	return nil
}

// Consume 取出并删除 state，返回保存时的平台类型
func (s *OAuthStateStore) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}

	provider, err := s.rdb.GetDel(ctx, oauthStateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", unavailable("ConsumeOAuthState", err)
	}
	return provider, nil
}
