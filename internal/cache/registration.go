/**
 * internal/cache/registration.go
 * 注册挂起状态存储（Redis）
 *
 * 功能：
 * - 按邮箱统计注册次数（计数器带 TTL）
 * - 激活挂起标记（30 分钟过期，激活后删除）
 * - 用户名预留（防止并发注册同名用户）
 *
 * 键空间：
 *   hiblogs:reg:attempts:<email>    注册次数
 *   hiblogs:reg:pending:<email>     挂起标记
 *   hiblogs:reg:username:<username> 预留该用户名的邮箱
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

// ====================  常量定义 ====================

const (
	attemptsKeyPrefix = "hiblogs:reg:attempts:"
	pendingKeyPrefix  = "hiblogs:reg:pending:"
	usernameKeyPrefix = "hiblogs:reg:username:"
)

// incrWithTTLScript 自增计数器，首次创建时设置过期时间
// KEYS[1] = 计数器键
// ARGV[1] = 过期毫秒数
var incrWithTTLScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// reserveScript 预留用户名，同一邮箱重复预留时刷新过期时间
// KEYS[1] = 用户名键
// ARGV[1] = 邮箱
// ARGV[2] = 过期毫秒数
// 返回 1 表示预留成功，0 表示已被其他邮箱占用
var reserveScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
if not owner or owner == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// ====================  数据结构 ====================

// RegistrationStore 注册挂起状态存储
// 所有操作由 Redis 原子执行，多实例部署时行为一致
type RegistrationStore struct {
	rdb         *redis.Client
	attemptsTTL time.Duration
}

// ====================  构造函数 ====================

// NewRegistrationStore 创建注册挂起状态存储
//
// 参数：
//   - rdb: Redis 客户端
//   - attemptsTTL: 注册次数计数器的观察窗口，从第一次注册开始计时
func NewRegistrationStore(rdb *redis.Client, attemptsTTL time.Duration) *RegistrationStore {
	return &RegistrationStore{rdb: rdb, attemptsTTL: attemptsTTL}
}

// ====================  公开方法 ====================

// IncrementAttempts 注册次数加一并返回当前次数
// 计数器在第一次自增时设置过期时间，窗口结束后自动清零
func (s *RegistrationStore) IncrementAttempts(ctx context.Context, email string) (int64, error) {
	n, err := incrWithTTLScript.Run(ctx, s.rdb,
		[]string{attemptsKeyPrefix + email}, s.attemptsTTL.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable("IncrementAttempts", err)
	}
	return n, nil
}

// MarkPending 写入挂起标记，覆盖已有标记并重新计时
func (s *RegistrationStore) MarkPending(ctx context.Context, email string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, pendingKeyPrefix+email, "1", ttl).Err(); err != nil {
		return unavailable("MarkPending", err)
	}
	return nil
}

// Exists 检查挂起标记是否仍然有效
func (s *RegistrationStore) Exists(ctx context.Context, email string) (bool, error) {
	n, err := s.rdb.Exists(ctx, pendingKeyPrefix+email).Result()
	if err != nil {
		return false, unavailable("Exists", err)
	}
	return n == 1, nil
}

// Invalidate 删除挂起标记，标记不存在时不做任何事
func (s *RegistrationStore) Invalidate(ctx context.Context, email string) error {
	if err := s.rdb.Del(ctx, pendingKeyPrefix+email).Err(); err != nil {
		return unavailable("Invalidate", err)
	}
	return nil
}

// ReserveUsername 为邮箱预留用户名
//
// 返回：
//   - bool: true 表示预留成功（或该邮箱已持有预留），false 表示被其他邮箱占用
//   - error: Redis 不可用
func (s *RegistrationStore) ReserveUsername(ctx context.Context, username, email string, ttl time.Duration) (bool, error) {
	n, err := reserveScript.Run(ctx, s.rdb,
		[]string{usernameKeyPrefix + username}, email, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, unavailable("ReserveUsername", err)
	}
	return n == 1, nil
}

// ReleaseUsername 释放用户名预留（仅当仍由该邮箱持有时）
func (s *RegistrationStore) ReleaseUsername(ctx context.Context, username, email string) error {
	key := usernameKeyPrefix + username
	owner, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return unavailable("ReleaseUsername", err)
	}
	if owner != email {
		return nil
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return unavailable("ReleaseUsername", err)
	}
	return nil
}
