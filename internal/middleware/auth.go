/**
 * internal/middleware/auth.go
 * JWT 认证中间件
 *
 * 功能：
 * - 从 Authorization Header 或 Cookie 提取 JWT
 * - 验证 JWT 并将用户 ID 与会话声明挂载到 Context
 * - 提供强制认证和可选认证两种模式
 *
 * 依赖：
 * - SessionService: 会话验证服务
 */

package middleware

import (
	"errors"
	"hiblogs-account/internal/utils"
	"net/http"
	"strings"

	"hiblogs-account/internal/services"

	"github.com/gin-gonic/gin"
)

// ====================  错误定义 ====================

var (
	// ErrAuthNilSessionService SessionService 为空
	ErrAuthNilSessionService = errors.New("SESSION_SERVICE_NIL")
)

// ====================  常量定义 ====================

const (
	// ContextKeyUserID Context 中存储用户 ID 的键
	ContextKeyUserID = "userId"
	// ContextKeyClaims Context 中存储会话声明的键
	ContextKeyClaims = "claims"

	// authHeaderPrefix Authorization Header 前缀
	authHeaderPrefix = "Bearer "

	descNotSignedIn = "请先登录"
)

// TokenVerifier 会话验证，由 *services.SessionService 实现
type TokenVerifier interface {
	VerifyToken(token string) (*services.Claims, error)
}

// ====================  公开函数 ====================

// AuthMiddleware JWT 认证中间件（强制认证）
// 验证失败返回 401
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	if verifier == nil {
		utils.LogPrintf("[AUTH] ERROR: SessionService is nil, returning error middleware")
		return errorMiddleware(ErrAuthNilSessionService)
	}

	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			utils.RespondFailure(c, http.StatusUnauthorized, descNotSignedIn)
			c.Abort()
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			utils.LogPrintf("[AUTH] WARN: Token verification failed: path=%s, ip=%s, error=%v",
				c.Request.URL.Path, c.ClientIP(), err)
			utils.RespondFailure(c, http.StatusUnauthorized, descNotSignedIn)
			c.Abort()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// OptionalAuthMiddleware 可选认证中间件
// Token 有效时挂载用户信息，否则直接放行
func OptionalAuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	if verifier == nil {
		utils.LogPrintf("[AUTH] WARN: SessionService is nil for optional auth, skipping auth")
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := verifier.VerifyToken(token)
		if err != nil {
			c.Next()
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyClaims, claims)
		c.Next()
	}
}

// GetUserID 从 Context 获取用户 ID
//
// 返回：
//   - int64: 用户 ID
//   - bool: 是否成功获取（false 表示未登录）
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(ContextKeyUserID)
	if !exists {
		return 0, false
	}

	id, ok := userID.(int64)
	if !ok || id <= 0 {
		utils.LogPrintf("[AUTH] ERROR: Invalid user ID in context: %v", userID)
		return 0, false
	}
	return id, true
}

// GetClaims 从 Context 获取会话声明
func GetClaims(c *gin.Context) (*services.Claims, bool) {
	v, exists := c.Get(ContextKeyClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok && claims != nil
}

// ====================  私有函数 ====================

// extractToken 从请求中提取 Token
// 优先从 Authorization Header 获取，其次从 Cookie 获取
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, authHeaderPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, authHeaderPrefix)); token != "" {
			return token
		}
	}

	token, err := utils.GetTokenCookie(c)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(token)
}

// errorMiddleware 中间件初始化失败时返回 500
func errorMiddleware(err error) gin.HandlerFunc {
	return func(c *gin.Context) {
		utils.LogPrintf("[AUTH] ERROR: Middleware initialization error: %v", err)
		utils.RespondFailure(c, http.StatusInternalServerError, "服务暂时不可用，请稍后再试")
		c.Abort()
	}
}
