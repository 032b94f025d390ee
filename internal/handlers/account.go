/**
 * internal/handlers/account.go
 * 账户 API Handler
 *
 * 功能：
 * - 登录 / 退出登录
 * - 注册：生成激活串并发送激活邮件
 * - 激活：接口提交（check-user-info）与邮件链接点击（Activation）
 * - 初始化数据（角色与超级管理员）
 * - 当前用户信息
 *
 * 依赖：
 * - internal/services (注册流程、身份服务)
 * - internal/middleware (会话声明)
 */

package handlers

import (
	"context"
	"errors"
	"hiblogs-account/internal/utils"
	"net/http"
	"net/url"

	"hiblogs-account/internal/middleware"
	"hiblogs-account/internal/models"
	"hiblogs-account/internal/services"

	"github.com/gin-gonic/gin"
)

// ====================  常量定义 ====================

const (
	descUserNotFound   = "不存在此用户"
	descLoginFailed    = "登录失败"
	descLoginSucceeded = "登录成功"
	descLoggedOff      = "已退出登录"
	descSeeded         = "初始化完成"
	descAlreadySeeded  = "数据已初始化"
	descCurrentUser    = "获取成功"

	// recentActivityLimit Me 接口返回的最近操作条数
	recentActivityLimit = 10

	// activationQueryKey 激活失败跳转时携带的错误参数
	activationQueryKey = "activation"
	// outcomePasswordResetPending 邮箱已注册时的跳转参数值
	outcomePasswordResetPending = "PASSWORD_RESET_PENDING"
)

// ====================  依赖接口 ====================

// accountIdentity 身份服务，由 *services.IdentityService 实现
type accountIdentity interface {
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	SignIn(ctx context.Context, user *models.User, persistent bool) (*services.SessionTicket, error)
	SignOut(ctx context.Context, userID int64)
	ResolveSession(ctx context.Context, claims *services.Claims) (*models.User, error)
	Seed(ctx context.Context, in services.SeedInput) (bool, error)
}

// registrar 注册流程，由 *services.RegistrationService 实现
type registrar interface {
	Register(ctx context.Context, in services.RegisterInput, origin string) error
	CheckUserInfo(ctx context.Context, token string, kind services.TransportKind) (*services.ActivationResult, error)
}

// activityReader 账户日志查询，由 *models.AccountLogRepository 实现
type activityReader interface {
	FindByUserID(ctx context.Context, userID int64, limit int) ([]*models.AccountLog, error)
}

// roleReader 用户角色查询，由 *models.RoleRepository 实现
type roleReader interface {
	RolesOf(ctx context.Context, userID int64) ([]string, error)
}

// ====================  请求结构 ====================

type loginRequest struct {
	UserName string `form:"userName" json:"userName"`
	passwordField
	RememberMe bool   `form:"rememberMe" json:"rememberMe"`
	ReturnURL  string `form:"returnUrl" json:"returnUrl"`
}

type registerRequest struct {
	UserName string `form:"userName" json:"userName"`
	Email    string `form:"email" json:"email"`
	passwordField
}

type checkUserInfoRequest struct {
	DESString string `form:"desstring" json:"desstring"`
}

// ====================  Handler 结构 ====================

// AccountHandler 账户 Handler
type AccountHandler struct {
	identity     accountIdentity
	registration registrar
	activity     activityReader
	roles        roleReader
	seed         services.SeedInput
	baseURL      string
	cookies      cookieWriter
}

// AccountHandlerOptions 账户 Handler 参数
type AccountHandlerOptions struct {
	// BaseURL 激活链接的站点源，为空时使用请求的 scheme://host
	BaseURL string
	// Seed InitData 使用的管理员信息
	Seed services.SeedInput
	// SecureCookie 始终写 Secure Cookie
	SecureCookie bool
	// Roles 角色查询（可选，为 nil 时 Me 不返回角色）
	Roles roleReader
}

// ====================  构造函数 ====================

// NewAccountHandler 创建账户 Handler
//
// 参数：
//   - identity: 身份服务（必需）
//   - registration: 注册流程（必需）
//   - activity: 账户日志（可选，为 nil 时 Me 不返回最近操作）
//   - opts: 其他参数
func NewAccountHandler(identity accountIdentity, registration registrar, activity activityReader, opts AccountHandlerOptions) (*AccountHandler, error) {
	if identity == nil || registration == nil {
		utils.LogPrintf("[ACCOUNT] ERROR: identity or registration service is nil")
		return nil, ErrHandlerNotInitialized
	}

	utils.LogPrintf("[ACCOUNT] AccountHandler initialized: baseURL=%s", opts.BaseURL)
	return &AccountHandler{
		identity:     identity,
		registration: registration,
		activity:     activity,
		roles:        opts.Roles,
		seed:         opts.Seed,
		baseURL:      opts.BaseURL,
		cookies:      cookieWriter{forceSecure: opts.SecureCookie},
	}, nil
}

// ====================  登录 ====================

// Login 用户名密码登录
// POST /api/account/login
//
// 请求体：userName, password（兼容 passwod）, rememberMe, returnUrl
//
// 响应：{isSuccess, description, returnUrl}，returnUrl 只允许站内相对路径
func (h *AccountHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.RespondFailure(c, http.StatusBadRequest, descInvalidRequest)
		return
	}

	ctx := c.Request.Context()
	user, err := h.identity.Authenticate(ctx, req.UserName, req.value())
	switch {
	case err == nil:
	case errors.Is(err, models.ErrUserNotFound):
		utils.RespondFailure(c, http.StatusUnauthorized, descUserNotFound)
		return
	case errors.Is(err, services.ErrInvalidPassword):
		utils.LogPrintf("[ACCOUNT] WARN: Login failed: username=%s, ip=%s", req.UserName, c.ClientIP())
		utils.RespondFailure(c, http.StatusUnauthorized, descLoginFailed)
		return
	default:
		utils.LogPrintf("[ACCOUNT] ERROR: Authenticate failed: username=%s, error=%v", req.UserName, err)
		utils.RespondFailure(c, statusOf(err), services.DescDependency)
		return
	}

	ticket, err := h.identity.SignIn(ctx, user, req.RememberMe)
	if err != nil {
		utils.LogPrintf("[ACCOUNT] ERROR: Sign in failed: userID=%d, error=%v", user.ID, err)
		utils.RespondFailure(c, http.StatusInternalServerError, descLoginFailed)
		return
	}

	h.cookies.writeSession(c, ticket)
	utils.RespondResult(c, descLoginSucceeded, gin.H{"returnUrl": utils.SafeReturnURL(req.ReturnURL)})
}

// LogOff 退出登录
// POST /api/account/logoff
func (h *AccountHandler) LogOff(c *gin.Context) {
	if userID, ok := middleware.GetUserID(c); ok {
		h.identity.SignOut(c.Request.Context(), userID)
	}
	h.cookies.clearSession(c)
	utils.RespondResult(c, descLoggedOff, nil)
}

// ====================  注册 ====================

// Register 发起注册，发送激活邮件
// POST /api/account/register
//
// 请求体：userName, password（兼容 passwod）, email
func (h *AccountHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBind(&req); err != nil {
		utils.RespondFailure(c, http.StatusBadRequest, descInvalidRequest)
		return
	}

	err := h.registration.Register(c.Request.Context(), services.RegisterInput{
		UserName: req.UserName,
		Password: req.value(),
		Email:    req.Email,
	}, h.origin(c))
	if err != nil {
		utils.RespondFailure(c, statusOf(err), services.Describe(err))
		return
	}

	utils.RespondResult(c, services.DescRegistered, nil)
}

// CheckUserInfo 接口方式提交激活串
// POST /api/account/check-user-info
//
// 请求体：desstring（邮件链接中的原始编码形式）
func (h *AccountHandler) CheckUserInfo(c *gin.Context) {
	var req checkUserInfoRequest
	if err := c.ShouldBind(&req); err != nil || req.DESString == "" {
		utils.RespondFailure(c, http.StatusBadRequest, services.DescDecodeError)
		return
	}

	result, err := h.registration.CheckUserInfo(c.Request.Context(), req.DESString, services.TransportProgrammatic)
	if err != nil {
		utils.RespondFailure(c, statusOf(err), services.Describe(err))
		return
	}

	h.cookies.writeSession(c, result.Ticket)
	utils.RespondResult(c, result.Description, gin.H{
		"outcome":   outcomeName(result.Outcome),
		"returnUrl": "/",
	})
}

// Activation 邮件链接点击激活
// GET /Admin/Account/Activation?desstring=
//
// 成功跳转首页，失败跳转首页并携带 activation=<错误代码>
func (h *AccountHandler) Activation(c *gin.Context) {
	// 查询参数已由 gin 解码一次
	token := c.Query(services.ActivationParam)
	if token == "" {
		h.redirectActivation(c, services.ErrDecode.Error())
		return
	}

	result, err := h.registration.CheckUserInfo(c.Request.Context(), token, services.TransportLinkClick)
	if err != nil {
		h.redirectActivation(c, errorCode(err))
		return
	}

	h.cookies.writeSession(c, result.Ticket)
	if result.Outcome == services.OutcomePasswordResetPending {
		h.redirectActivation(c, outcomePasswordResetPending)
		return
	}
	c.Redirect(http.StatusFound, "/")
}

// ====================  初始化数据 ====================

// InitData 空库时创建内置角色与超级管理员，已有用户时不做任何事
// POST /api/account/init-data
func (h *AccountHandler) InitData(c *gin.Context) {
	seeded, err := h.identity.Seed(c.Request.Context(), h.seed)
	if err != nil {
		utils.LogPrintf("[ACCOUNT] ERROR: InitData failed: %v", err)
		utils.RespondFailure(c, http.StatusServiceUnavailable, services.DescDependency)
		return
	}

	if !seeded {
		utils.RespondResult(c, descAlreadySeeded, gin.H{"seeded": false})
		return
	}
	utils.RespondResult(c, descSeeded, gin.H{"seeded": true})
}

// ====================  当前用户 ====================

// Me 当前登录用户
// GET /api/account/me（需要 AuthMiddleware）
//
// 安全戳与会话不一致时清除 Cookie 并返回 401
func (h *AccountHandler) Me(c *gin.Context) {
	claims, ok := middleware.GetClaims(c)
	if !ok {
		utils.RespondFailure(c, http.StatusUnauthorized, descNotSignedIn)
		return
	}

	ctx := c.Request.Context()
	user, err := h.identity.ResolveSession(ctx, claims)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrStampMismatch), errors.Is(err, models.ErrUserNotFound):
		h.cookies.clearSession(c)
		utils.RespondFailure(c, http.StatusUnauthorized, descNotSignedIn)
		return
	default:
		utils.LogPrintf("[ACCOUNT] ERROR: Resolve session failed: userID=%d, error=%v", claims.UserID, err)
		utils.RespondFailure(c, statusOf(err), services.DescDependency)
		return
	}

	extra := gin.H{"user": user}
	if h.roles != nil {
		roles, err := h.roles.RolesOf(ctx, user.ID)
		if err != nil {
			utils.LogPrintf("[ACCOUNT] WARN: Failed to load roles: userID=%d, error=%v", user.ID, err)
		} else {
			extra["roles"] = roles
		}
	}
	if h.activity != nil {
		logs, err := h.activity.FindByUserID(ctx, user.ID, recentActivityLimit)
		if err != nil {
			utils.LogPrintf("[ACCOUNT] WARN: Failed to load recent activity: userID=%d, error=%v", user.ID, err)
		} else {
			extra["recentActivity"] = logs
		}
	}
	utils.RespondResult(c, descCurrentUser, extra)
}

// ====================  私有方法 ====================

// origin 激活链接的站点源
func (h *AccountHandler) origin(c *gin.Context) string {
	if h.baseURL != "" {
		return h.baseURL
	}
	return utils.RequestOrigin(c)
}

func (h *AccountHandler) redirectActivation(c *gin.Context, code string) {
	c.Redirect(http.StatusFound, "/?"+activationQueryKey+"="+url.QueryEscape(code))
}

func outcomeName(o services.ActivationOutcome) string {
	if o == services.OutcomePasswordResetPending {
		return outcomePasswordResetPending
	}
	return "ACTIVATED"
}
