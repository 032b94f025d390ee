/**
 * internal/middleware/cors.go
 * CORS 跨域中间件
 *
 * 功能：
 * - 仅对配置的来源返回 CORS 头（ALLOW_ORIGINS）
 * - 支持 credentials（会话 Cookie）
 * - 预检请求（OPTIONS）直接返回 204
 *
 * 未配置来源时不返回任何 CORS 头，浏览器只允许同源调用
 */

package middleware

import (
	"hiblogs-account/internal/utils"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ====================  常量定义 ====================

const (
	corsMaxAge        = "86400"
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-Requested-With, Accept, Origin"
	corsExposeHeaders = "Content-Length, Content-Type"
)

// ====================  公开函数 ====================

// CORS 跨域中间件
//
// 参数：
//   - allowOrigins: 允许的来源（scheme://host[:port]），为空则不放行任何跨域请求
func CORS(allowOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, origin := range allowOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			allowed[origin] = true
		}
	}
	if len(allowed) == 0 {
		utils.LogPrintf("[CORS] No allowed origins configured, cross-origin requests disabled")
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			c.Header("Vary", "Origin")
		}

		if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", corsAllowMethods)
			c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			c.Header("Access-Control-Expose-Headers", corsExposeHeaders)
		} else if origin != "" {
			utils.LogPrintf("[CORS] WARN: Origin not allowed: %s", origin)
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && allowed[origin] {
				c.Header("Access-Control-Max-Age", corsMaxAge)
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
