/**
 * internal/cache/user.go
 * 用户数据进程内缓存（带 singleflight 防缓存击穿）
 *
 * 功能：
 * - 过期 LRU 缓存（容量淘汰 + TTL 过期）
 * - 命中率统计
 * - Singleflight 合并并发加载
 *
 * 依赖：
 * - github.com/hashicorp/golang-lru/v2/expirable
 * - golang.org/x/sync/singleflight
 */

package cache

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"strconv"
	"sync/atomic"
	"time"

	"hiblogs-account/internal/models"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ====================  错误定义 ====================

var (
	// ErrInvalidUserID 用户 ID 无效
	ErrInvalidUserID = errors.New("INVALID_USER_ID")

	// ErrNilUser 加载器返回空用户
	ErrNilUser = errors.New("NIL_USER")

	// ErrCacheInitFailed 缓存初始化失败
	ErrCacheInitFailed = errors.New("CACHE_INIT_FAILED")
)

// ====================  数据结构 ====================

// CacheStats 缓存统计信息
type CacheStats struct {
	Size     int     `json:"size"`
	MaxSize  int     `json:"maxSize"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	HitRatio float64 `json:"hitRatio"`
}

// UserLoader 缓存未命中时的加载函数
type UserLoader func(ctx context.Context, userID int64) (*models.User, error)

// UserCache 用户缓存
// expirable.LRU 自身并发安全，这里只额外维护统计与 singleflight
type UserCache struct {
	lru     *expirable.LRU[int64, *models.User]
	maxSize int
	hits    atomic.Uint64
	misses  atomic.Uint64
	sf      singleflight.Group
}

// ====================  构造函数 ====================

// NewUserCache 创建用户缓存实例
//
// 参数：
//   - maxSize: 最大缓存容量，必须大于 0
//   - ttl: 条目存活时间，必须大于 0
//
// 返回：
//   - *UserCache: 缓存实例
//   - error: 参数无效时返回 ErrCacheInitFailed
func NewUserCache(maxSize int, ttl time.Duration) (*UserCache, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("%w: maxSize must be positive, got %d", ErrCacheInitFailed, maxSize)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive, got %v", ErrCacheInitFailed, ttl)
	}

	utils.LogPrintf("[CACHE] User cache initialized: maxSize=%d, ttl=%v", maxSize, ttl)

	return &UserCache{
		lru:     expirable.NewLRU[int64, *models.User](maxSize, nil, ttl),
		maxSize: maxSize,
	}, nil
}

// ====================  公开方法 ====================

// Get 读取缓存，过期条目视为未命中
func (c *UserCache) Get(userID int64) (*models.User, bool) {
	user, ok := c.lru.Get(userID)
	if !ok || user == nil {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return user, true
}

// GetOrLoad 读取缓存，未命中时调用 loader 加载并写入
// 同一用户的并发加载只会执行一次 loader
//
// 参数：
//   - ctx: 上下文
//   - userID: 用户 ID
//   - loader: 加载函数
//
// 返回：
//   - *models.User: 用户
//   - error: loader 的错误原样返回（便于上层 errors.Is 判断 ErrUserNotFound）
func (c *UserCache) GetOrLoad(ctx context.Context, userID int64, loader UserLoader) (*models.User, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: userID=%d", ErrInvalidUserID, userID)
	}

	if user, ok := c.Get(userID); ok {
		return user, nil
	}

	result, err, _ := c.sf.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		if user, ok := c.lru.Peek(userID); ok && user != nil {
			return user, nil
		}

		user, err := loader(ctx, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrNilUser
		}

		c.lru.Add(userID, user)
		return user, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*models.User), nil
}

// Set 写入缓存
func (c *UserCache) Set(user *models.User) {
	if user == nil || user.ID <= 0 {
		return
	}
	c.lru.Add(user.ID, user)
}

// Invalidate 移除指定用户（安全戳变更、头像更新后调用）
func (c *UserCache) Invalidate(userID int64) {
	if c.lru.Remove(userID) {
		utils.LogPrintf("[CACHE] Cache invalidated for userID: %d", userID)
	}
}

// Stats 返回缓存统计
func (c *UserCache) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var ratio float64
	if total := hits + misses; total > 0 {
		ratio = float64(hits) / float64(total)
	}

	return CacheStats{
		Size:     c.lru.Len(),
		MaxSize:  c.maxSize,
		Hits:     hits,
		Misses:   misses,
		HitRatio: ratio,
	}
}
