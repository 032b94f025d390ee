/**
 * internal/middleware/ratelimit.go
 * 分片 IP 限流中间件
 *
 * 功能：
 * - 基于 IP 的令牌桶限流（16 个分片减少锁竞争）
 * - 每个分片 LRU 淘汰，内存有上限
 * - 登录、注册、激活、第三方登录各自独立的限流器
 *
 * 同一邮箱的注册次数限制在 Redis 中实现（services.RegistrationService），
 * 这里只限制单个 IP 的请求频率
 *
 * 依赖：
 * - github.com/hashicorp/golang-lru/v2: LRU 缓存实现
 * - golang.org/x/time/rate: 令牌桶限流器
 */

package middleware

import (
	"hash/maphash"
	"hiblogs-account/internal/utils"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// ====================  常量定义 ====================

const (
	// shardCount 分片数量（必须是 2 的幂）
	shardCount = 16

	// maxEntriesPerShard 每个分片最大条目数，总共最多 16000 条
	maxEntriesPerShard = 1000

	defaultLoginRate     = 12 * time.Second
	defaultLoginBurst    = 5
	defaultRegisterRate  = 20 * time.Second
	defaultRegisterBurst = 3
	defaultActivateRate  = 6 * time.Second
	defaultActivateBurst = 10
	defaultOAuthRate     = 6 * time.Second
	defaultOAuthBurst    = 10

	descTooManyRequests = "请求过于频繁，请稍后再试"
)

// ====================  数据结构 ====================

// rateLimiterShard 限流器分片
type rateLimiterShard struct {
	cache *lru.Cache[string, *rate.Limiter]
	mu    sync.Mutex
}

// ShardedRateLimiter 分片限流器
type ShardedRateLimiter struct {
	shards [shardCount]*rateLimiterShard
	rate   rate.Limit
	burst  int
}

// ====================  构造函数 ====================

// NewShardedRateLimiter 创建分片限流器
//
// 参数：
//   - r: 令牌补充速率
//   - burst: 桶容量
func NewShardedRateLimiter(r rate.Limit, burst int) *ShardedRateLimiter {
	if r <= 0 {
		utils.LogPrintf("[RATELIMIT] WARN: Invalid rate %v, using default", r)
		r = rate.Every(defaultLoginRate)
	}
	if burst <= 0 {
		utils.LogPrintf("[RATELIMIT] WARN: Invalid burst %d, using default", burst)
		burst = defaultLoginBurst
	}

	srl := &ShardedRateLimiter{rate: r, burst: burst}
	for i := 0; i < shardCount; i++ {
		// 容量为正数时 lru.New 不会返回错误
		cache, _ := lru.New[string, *rate.Limiter](maxEntriesPerShard)
		srl.shards[i] = &rateLimiterShard{cache: cache}
	}
	return srl
}

// NewLoginLimiter 登录：5 次突发，之后每 12 秒 1 次
func NewLoginLimiter() *ShardedRateLimiter {
	return NewShardedRateLimiter(rate.Every(defaultLoginRate), defaultLoginBurst)
}

// NewRegisterLimiter 注册：3 次突发，之后每 20 秒 1 次
func NewRegisterLimiter() *ShardedRateLimiter {
	return NewShardedRateLimiter(rate.Every(defaultRegisterRate), defaultRegisterBurst)
}

// NewActivateLimiter 激活：10 次突发，之后每 6 秒 1 次
func NewActivateLimiter() *ShardedRateLimiter {
	return NewShardedRateLimiter(rate.Every(defaultActivateRate), defaultActivateBurst)
}

// NewOAuthLimiter 第三方登录：10 次突发，之后每 6 秒 1 次
func NewOAuthLimiter() *ShardedRateLimiter {
	return NewShardedRateLimiter(rate.Every(defaultOAuthRate), defaultOAuthBurst)
}

// ====================  ShardedRateLimiter 方法 ====================

// hashSeed maphash 种子（进程级别唯一）
var hashSeed = maphash.MakeSeed()

// getShard 获取 key 对应的分片
func (srl *ShardedRateLimiter) getShard(key string) *rateLimiterShard {
	h := maphash.String(hashSeed, key)
	return srl.shards[h%shardCount]
}

// Allow 检查是否允许请求
// 空 key 直接放行
func (srl *ShardedRateLimiter) Allow(key string) bool {
	if key == "" {
		utils.LogPrintf("[RATELIMIT] WARN: Empty key, allowing request")
		return true
	}

	shard := srl.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	limiter, ok := shard.cache.Get(key)
	if !ok {
		limiter = rate.NewLimiter(srl.rate, srl.burst)
		shard.cache.Add(key, limiter)
	}
	return limiter.Allow()
}

// Stats 当前总条目数
func (srl *ShardedRateLimiter) Stats() int {
	total := 0
	for _, shard := range srl.shards {
		shard.mu.Lock()
		total += shard.cache.Len()
		shard.mu.Unlock()
	}
	return total
}

// ====================  中间件 ====================

// RateLimitMiddleware 按客户端 IP 限流，超限返回 429
func RateLimitMiddleware(limiter *ShardedRateLimiter) gin.HandlerFunc {
	if limiter == nil {
		utils.LogPrintf("[RATELIMIT] ERROR: Limiter is nil, returning pass-through middleware")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			utils.LogPrintf("[RATELIMIT] WARN: Rate limit exceeded: ip=%s, path=%s", ip, c.Request.URL.Path)
			utils.RespondFailure(c, http.StatusTooManyRequests, descTooManyRequests)
			c.Abort()
			return
		}
		c.Next()
	}
}
