/**
 * internal/middleware/security.go
 * 安全头中间件
 *
 * 功能：
 * - 所有响应：X-Content-Type-Options、Referrer-Policy、Permissions-Policy
 * - 禁止被 iframe 嵌入（frame-ancestors）
 * - 账户 API 与激活链接禁止缓存
 */

package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// ====================  常量定义 ====================

const (
	headerXContentTypeOptions = "nosniff"
	headerReferrerPolicy      = "strict-origin-when-cross-origin"
	headerPermissionsPolicy   = "geolocation=(), microphone=(), camera=()"
	headerCSP                 = "frame-ancestors 'none'"
	headerCacheControlNoStore = "no-store, no-cache, must-revalidate, private"
)

// noStorePrefixes 禁止缓存的路径前缀
// 激活链接中带有激活串，不能留在中间缓存里
var noStorePrefixes = []string{"/api/", "/Admin/Account/"}

// ====================  公开函数 ====================

// SecurityHeaders 安全头中间件
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", headerXContentTypeOptions)
		c.Header("Referrer-Policy", headerReferrerPolicy)
		c.Header("Permissions-Policy", headerPermissionsPolicy)
		c.Header("Content-Security-Policy", headerCSP)

		if isNoStorePath(c.Request.URL.Path) {
			c.Header("Cache-Control", headerCacheControlNoStore)
			c.Header("Pragma", "no-cache")
			c.Header("Expires", "0")
		}

		c.Next()
	}
}

// ====================  私有函数 ====================

func isNoStorePath(path string) bool {
	for _, prefix := range noStorePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
