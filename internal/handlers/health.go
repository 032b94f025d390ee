/**
 * internal/handlers/health.go
 * 健康检查 Handler
 *
 * 功能：
 * - 检查 PostgreSQL 与 Redis 连通性
 * - 返回用户缓存与数据库连接池统计
 */

package handlers

import (
	"context"
	"hiblogs-account/internal/utils"
	"net/http"
	"sort"
	"time"

	"hiblogs-account/internal/cache"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
)

// healthCheckTimeout 单个依赖检查的超时时间
const healthCheckTimeout = 3 * time.Second

// HealthCheck 依赖检查函数，nil 错误表示正常
type HealthCheck func(ctx context.Context) error

// HealthHandler 健康检查 Handler
type HealthHandler struct {
	checks    map[string]HealthCheck
	userCache *cache.UserCache
	poolStats func() *pgxpool.Stat
}

// NewHealthHandler 创建健康检查 Handler
//
// 参数：
//   - checks: 依赖名称到检查函数的映射（如 database、redis）
//   - userCache: 用户缓存（可选）
func NewHealthHandler(checks map[string]HealthCheck, userCache *cache.UserCache) *HealthHandler {
	return &HealthHandler{checks: checks, userCache: userCache}
}

// WithPoolStats 附加数据库连接池统计
func (h *HealthHandler) WithPoolStats(fn func() *pgxpool.Stat) *HealthHandler {
	h.poolStats = fn
	return h
}

// GetHealth 健康检查
// GET /health
//
// 全部依赖正常返回 200 status=ok，否则 503 status=degraded
func (h *HealthHandler) GetHealth(c *gin.Context) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := gin.H{}
	for _, name := range names {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := h.checks[name](ctx)
		cancel()

		if err != nil {
			status = "degraded"
			components[name] = gin.H{"status": "down", "error": err.Error()}
			utils.LogPrintf("[HEALTH] WARN: %s check failed: %v", name, err)
			continue
		}
		components[name] = gin.H{"status": "up"}
	}

	body := gin.H{"status": status, "components": components}
	if h.userCache != nil {
		stats := h.userCache.Stats()
		body["cache"] = gin.H{
			"size":     stats.Size,
			"maxSize":  stats.MaxSize,
			"hits":     stats.Hits,
			"misses":   stats.Misses,
			"hitRatio": stats.HitRatio,
		}
	}

	if h.poolStats != nil {
		if st := h.poolStats(); st != nil {
			body["pool"] = gin.H{
				"total":    st.TotalConns(),
				"idle":     st.IdleConns(),
				"acquired": st.AcquiredConns(),
				"max":      st.MaxConns(),
			}
		}
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}
