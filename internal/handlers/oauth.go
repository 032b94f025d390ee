/**
 * internal/handlers/oauth.go
 * 第三方登录 Handler（QQ 互联、新浪微博）
 *
 * 功能：
 * - 获取平台授权地址（state 存入 Redis）
 * - 平台回调：校验 state、换取用户资料、创建或查找用户并登录
 *
 * 依赖：
 * - internal/services (OAuthService)
 */

package handlers

import (
	"context"
	"errors"
	"hiblogs-account/internal/utils"
	"net/http"
	"net/url"

	"hiblogs-account/internal/services"

	"github.com/gin-gonic/gin"
)

// ====================  常量定义 ====================

const (
	descOAuthUnsupported = "暂不支持该登录方式"
	descOAuthURL         = "获取成功"

	// oauthQueryKey 回调失败跳转时携带的错误参数
	oauthQueryKey = "oauth"
)

// ====================  依赖接口 ====================

// oauthFlow 第三方登录流程，由 *services.OAuthService 实现
type oauthFlow interface {
	AuthURL(ctx context.Context, provider string) (string, error)
	Callback(ctx context.Context, provider, code, state string) (*services.SignInResult, error)
}

// ====================  Handler 结构 ====================

// OAuthHandler 第三方登录 Handler
type OAuthHandler struct {
	flow    oauthFlow
	cookies cookieWriter
}

// NewOAuthHandler 创建第三方登录 Handler
func NewOAuthHandler(flow oauthFlow, secureCookie bool) (*OAuthHandler, error) {
	if flow == nil {
		utils.LogPrintf("[OAUTH] ERROR: OAuth service is nil")
		return nil, ErrHandlerNotInitialized
	}
	return &OAuthHandler{flow: flow, cookies: cookieWriter{forceSecure: secureCookie}}, nil
}

// ====================  授权地址 ====================

// GetOAuthQQUrl QQ 授权地址
// GET /api/account/oauth/qq/url
func (h *OAuthHandler) GetOAuthQQUrl(c *gin.Context) {
	h.authURL(c, services.ProviderQQ)
}

// GetOAuthSinaUrl 新浪微博授权地址
// GET /api/account/oauth/sina/url
func (h *OAuthHandler) GetOAuthSinaUrl(c *gin.Context) {
	h.authURL(c, services.ProviderSina)
}

func (h *OAuthHandler) authURL(c *gin.Context, provider string) {
	authURL, err := h.flow.AuthURL(c.Request.Context(), provider)
	if err != nil {
		if errors.Is(err, services.ErrOAuthUnknownProvider) {
			utils.RespondFailure(c, http.StatusNotFound, descOAuthUnsupported)
			return
		}
		utils.LogPrintf("[OAUTH] ERROR: Failed to build auth URL: provider=%s, error=%v", provider, err)
		utils.RespondFailure(c, http.StatusServiceUnavailable, services.DescDependency)
		return
	}

	utils.RespondResult(c, descOAuthURL, gin.H{"url": authURL})
}

// ====================  回调 ====================

// GetOAuthUser 平台回调
// GET /api/account/oauth/callback?code=&type=&state=
//
// 成功写入持久会话并跳转首页，失败跳转首页并携带 oauth=<错误代码>
func (h *OAuthHandler) GetOAuthUser(c *gin.Context) {
	provider := c.Query("type")
	code := c.Query("code")
	state := c.Query("state")

	result, err := h.flow.Callback(c.Request.Context(), provider, code, state)
	if err != nil {
		utils.LogPrintf("[OAUTH] WARN: Callback failed: provider=%s, error=%v", provider, err)
		c.Redirect(http.StatusFound, "/?"+oauthQueryKey+"="+url.QueryEscape(oauthErrorCode(err)))
		return
	}

	h.cookies.writeSession(c, result.Ticket)
	c.Redirect(http.StatusFound, "/")
}

// oauthErrorCode 回调错误的类别代码
func oauthErrorCode(err error) string {
	for _, known := range []error{
		services.ErrOAuthUnknownProvider,
		services.ErrOAuthStateInvalid,
		services.ErrOAuthTokenExchange,
		services.ErrOAuthUserInfo,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return services.ErrDependency.Error()
}
