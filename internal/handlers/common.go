/**
 * internal/handlers/common.go
 * Handler 公共辅助函数
 *
 * 功能：
 * - 会话 Cookie 写入 / 清除
 * - 错误到 HTTP 状态码的映射
 * - 兼容旧表单字段名（passwod）
 */

package handlers

import (
	"errors"
	"hiblogs-account/internal/utils"
	"net/http"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/models"
	"hiblogs-account/internal/services"

	"github.com/gin-gonic/gin"
)

// ====================  错误定义 ====================

var (
	// ErrHandlerNotInitialized Handler 依赖缺失
	ErrHandlerNotInitialized = errors.New("HANDLER_NOT_INITIALIZED")
)

// ====================  常量定义 ====================

const (
	descInvalidRequest = "请求参数无效"
	descNotSignedIn    = "请先登录"
)

// ====================  会话 Cookie ====================

// cookieWriter 会话 Cookie 写入
type cookieWriter struct {
	// forceSecure 生产环境始终写 Secure Cookie
	forceSecure bool
}

func (w cookieWriter) secure(c *gin.Context) bool {
	return w.forceSecure || utils.RequestIsSecure(c)
}

// writeSession 写入会话 Cookie，非持久会话为浏览器会话 Cookie
func (w cookieWriter) writeSession(c *gin.Context, ticket *services.SessionTicket) {
	if ticket == nil {
		return
	}
	utils.SetSessionCookie(c.Writer, ticket.Token, ticket.Persistent, w.secure(c))
}

func (w cookieWriter) clearSession(c *gin.Context) {
	utils.ClearSessionCookie(c.Writer, w.secure(c))
}

// ====================  错误映射 ====================

// statusOf 流程错误对应的 HTTP 状态码
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidInput), errors.Is(err, services.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrLinkExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrDependency), errors.Is(err, cache.ErrStoreUnavailable),
		errors.Is(err, models.ErrDBNotInitialized):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorCode 流程错误的类别代码，用于跳转地址中的查询参数
func errorCode(err error) string {
	var we *services.WorkflowError
	if errors.As(err, &we) {
		return we.Kind.Error()
	}
	return services.ErrDependency.Error()
}

// ====================  请求字段 ====================

// passwordField 新旧两种密码字段名
type passwordField struct {
	Password string `form:"password" json:"password"`
	Passwod  string `form:"passwod" json:"passwod"`
}

func (p passwordField) value() string {
	if p.Password != "" {
		return p.Password
	}
	return p.Passwod
}
