/**
 * internal/utils/cookie.go
 * 会话 Cookie 工具模块
 *
 * 功能：
 * - 持久化 / 会话级 Cookie 写入（记住我）
 * - Cookie 读取和清除
 *
 * 依赖：
 * - github.com/gin-gonic/gin
 */

package utils

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ====================  Cookie 常量 ====================

const (
	// TokenCookieName 会话 Token Cookie 名称
	TokenCookieName = "token"

	// PersistentCookieMaxAge 持久化 Cookie 有效期（60 天，单位秒）
	PersistentCookieMaxAge = int(60 * 24 * time.Hour / time.Second)

	// DefaultCookiePath 默认 Cookie 路径
	DefaultCookiePath = "/"
)

// ====================  Cookie 写入函数 ====================

// SetSessionCookie 写入会话 Token Cookie
// persistent 为 true 时写入 60 天有效期，否则为浏览器会话 Cookie（关闭浏览器即失效）
//
// 参数：
//   - w: HTTP 响应写入器
//   - token: JWT
//   - persistent: 是否持久化
//   - secure: 是否仅 HTTPS 传输
func SetSessionCookie(w http.ResponseWriter, token string, persistent, secure bool) {
	cookie := &http.Cookie{
		Name:     TokenCookieName,
		Value:    token,
		Path:     DefaultCookiePath,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if persistent {
		cookie.MaxAge = PersistentCookieMaxAge
	}
	http.SetCookie(w, cookie)
}

// ClearSessionCookie 清除会话 Token Cookie
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookieName,
		Value:    "",
		Path:     DefaultCookiePath,
		MaxAge:   -1,
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ====================  Gin Context 辅助函数 ====================

// GetTokenCookie 从 Gin Context 读取会话 Token
func GetTokenCookie(c *gin.Context) (string, error) {
	return c.Cookie(TokenCookieName)
}

// RequestIsSecure 判断请求是否经由 HTTPS 到达（含反向代理）
func RequestIsSecure(c *gin.Context) bool {
	if c.Request.TLS != nil {
		return true
	}
	return c.GetHeader("X-Forwarded-Proto") == "https"
}

// RequestOrigin 返回 <scheme>://<host>，用于拼接激活链接
func RequestOrigin(c *gin.Context) string {
	scheme := "http"
	if RequestIsSecure(c) {
		scheme = "https"
	}
	host := c.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = c.Request.Host
	}
	return scheme + "://" + host
}
