/**
 * internal/services/identity.go
 * 身份服务
 *
 * 功能：
 * - 用户名密码认证
 * - 按邮箱或第三方 OpenID 查找或创建用户并登录（激活、第三方登录共用）
 * - 会话签发、登录时间与账户日志记录
 * - 会话解析（安全戳校验 + 用户缓存）
 * - 空库初始化（角色 + 超级管理员）
 *
 * 依赖：
 * - internal/models: 用户、角色、账户日志仓库
 * - internal/cache: 用户 LRU 缓存
 * - github.com/google/uuid: 安全戳
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"

	"hiblogs-account/internal/cache"
	"hiblogs-account/internal/models"

	"github.com/google/uuid"
)

// ====================  错误定义 ====================

var (
	// ErrInvalidPassword 密码错误
	ErrInvalidPassword = errors.New("INVALID_PASSWORD")
	// ErrStampMismatch 会话安全戳与用户不一致（密码变更或被强制下线）
	ErrStampMismatch = errors.New("STAMP_MISMATCH")
	// ErrInvalidIdentityKey 查找键为空
	ErrInvalidIdentityKey = errors.New("INVALID_IDENTITY_KEY")
)

// ====================  接口定义 ====================

// Identity 账户身份端口
// 注册流程与处理器只依赖这个接口
type Identity interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
	UpsertAndSignIn(ctx context.Context, key IdentityKey, profile Profile, persistent bool) (*SignInResult, error)
	SignIn(ctx context.Context, user *models.User, persistent bool) (*SessionTicket, error)
	Seed(ctx context.Context, in SeedInput) (bool, error)
}

// userStore 用户持久化，由 *models.UserRepository 实现
type userStore interface {
	FindByID(ctx context.Context, id int64) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByOpenID(ctx context.Context, provider, openID string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	Count(ctx context.Context) (int64, error)
	CreateWithRole(ctx context.Context, user *models.User, roleName string) error
	TouchLogin(ctx context.Context, id int64) error
	UpdateSecurityStamp(ctx context.Context, id int64, stamp string) error
}

// roleStore 角色持久化
type roleStore interface {
	EnsureRoles(ctx context.Context, names ...string) error
}

// accountRecorder 账户日志
type accountRecorder interface {
	Record(ctx context.Context, userID int64, action string, details interface{}) error
}

// ticketIssuer 会话签发
type ticketIssuer interface {
	Issue(user *models.User, persistent bool) (*SessionTicket, error)
}

// ====================  数据结构 ====================

// IdentityKey 用户查找键，邮箱与第三方 OpenID 二选一
type IdentityKey struct {
	Email    string
	Provider string
	OpenID   string
}

// EmailKey 按邮箱查找
func EmailKey(email string) IdentityKey {
	return IdentityKey{Email: email}
}

// ProviderKey 按第三方平台 OpenID 查找
func ProviderKey(provider, openID string) IdentityKey {
	return IdentityKey{Provider: provider, OpenID: openID}
}

// IsProvider 是否为第三方查找键
func (k IdentityKey) IsProvider() bool {
	return k.Provider != ""
}

func (k IdentityKey) valid() bool {
	if k.IsProvider() {
		return k.OpenID != ""
	}
	return k.Email != ""
}

// String 日志用
func (k IdentityKey) String() string {
	if k.IsProvider() {
		return k.Provider + ":" + k.OpenID
	}
	return k.Email
}

// Profile 创建用户时使用的资料
// Password 为明文，为空时生成随机密码
type Profile struct {
	UserName  string
	Email     string
	Password  string
	Nickname  string
	AvatarURL string
}

// SignInResult 查找或创建并登录的结果
type SignInResult struct {
	User    *models.User
	Ticket  *SessionTicket
	Created bool
}

// SeedInput 初始化数据参数
type SeedInput struct {
	UserName string
	Email    string
	Nickname string
	Password string
}

// IdentityService 身份服务
type IdentityService struct {
	users    userStore
	roles    roleStore
	logs     accountRecorder
	sessions ticketIssuer
	cache    *cache.UserCache
}

// ====================  构造函数 ====================

// NewIdentityService 创建身份服务
//
// 参数：
//   - users: 用户仓库
//   - roles: 角色仓库
//   - logs: 账户日志仓库
//   - sessions: 会话服务
//   - userCache: 用户缓存（可为 nil）
func NewIdentityService(users userStore, roles roleStore, logs accountRecorder, sessions ticketIssuer, userCache *cache.UserCache) *IdentityService {
	return &IdentityService{
		users:    users,
		roles:    roles,
		logs:     logs,
		sessions: sessions,
		cache:    userCache,
	}
}

// ====================  查询 ====================

// UsernameExists 用户名是否已被占用
func (s *IdentityService) UsernameExists(ctx context.Context, username string) (bool, error) {
	return s.users.UsernameExists(ctx, username)
}

// FindByEmail 按邮箱查找用户，不存在时返回 models.ErrUserNotFound
func (s *IdentityService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.FindByEmail(ctx, email)
}

// Authenticate 用户名密码认证
//
// 返回：
//   - *models.User: 认证通过的用户
//   - error: models.ErrUserNotFound / ErrInvalidPassword / 数据库错误
func (s *IdentityService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	ok, err := utils.VerifyPassword(password, user.Password)
	if err != nil {
		utils.LogPrintf("[IDENTITY] ERROR: Stored password hash unreadable: userID=%d, error=%v", user.ID, err)
		return nil, ErrInvalidPassword
	}
	if !ok {
		return nil, ErrInvalidPassword
	}
	return user, nil
}

// ResolveSession 根据会话声明加载用户并校验安全戳
func (s *IdentityService) ResolveSession(ctx context.Context, claims *Claims) (*models.User, error) {
	if claims == nil {
		return nil, ErrInvalidToken
	}

	var (
		user *models.User
		err  error
	)
	if s.cache != nil {
		user, err = s.cache.GetOrLoad(ctx, claims.UserID, s.users.FindByID)
	} else {
		user, err = s.users.FindByID(ctx, claims.UserID)
	}
	if err != nil {
		return nil, err
	}

	if user.SecurityStamp != claims.Stamp {
		return nil, ErrStampMismatch
	}
	return user, nil
}

// ====================  登录 ====================

// SignIn 为已认证用户签发会话并记录登录
func (s *IdentityService) SignIn(ctx context.Context, user *models.User, persistent bool) (*SessionTicket, error) {
	return s.signIn(ctx, user, persistent, models.AccountActionLogin, models.LoginDetails{Persistent: persistent})
}

// SignOut 退出登录
// 更换安全戳使该用户已签发的会话全部失效，失败只记录日志
func (s *IdentityService) SignOut(ctx context.Context, userID int64) {
	if err := s.users.UpdateSecurityStamp(ctx, userID, uuid.NewString()); err != nil {
		utils.LogPrintf("[IDENTITY] WARN: Failed to rotate security stamp: userID=%d, error=%v", userID, err)
	}
	if s.cache != nil {
		s.cache.Invalidate(userID)
	}
	s.record(ctx, userID, models.AccountActionLogoff, nil)
	utils.LogPrintf("[IDENTITY] User signed out: userID=%d", userID)
}

// UpsertAndSignIn 查找用户，不存在时按资料创建（默认角色 Average），随后登录
//
// 参数：
//   - ctx: 上下文
//   - key: 查找键（邮箱或第三方 OpenID）
//   - profile: 创建用户时的资料
//   - persistent: 是否持久会话
//
// 返回：
//   - *SignInResult: 用户、会话票据、是否新建
//   - error: models.ErrUsernameExists / models.ErrEmailExists / 数据库或签发错误
func (s *IdentityService) UpsertAndSignIn(ctx context.Context, key IdentityKey, profile Profile, persistent bool) (*SignInResult, error) {
	if !key.valid() {
		return nil, ErrInvalidIdentityKey
	}

	user, err := s.lookup(ctx, key)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, models.ErrUserNotFound):
		user, err = s.create(ctx, key, profile)
		if errors.Is(err, models.ErrOpenIDExists) {
			// 同一第三方账号并发回调，另一请求已完成创建
			user, err = s.lookup(ctx, key)
		} else if err == nil {
			created = true
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	action := models.AccountActionActivate
	details := models.LoginDetails{Persistent: persistent, Created: created}
	if key.IsProvider() {
		action = models.AccountActionOAuthLogin
		details.Provider = key.Provider
	}

	ticket, err := s.signIn(ctx, user, persistent, action, details)
	if err != nil {
		return nil, err
	}
	return &SignInResult{User: user, Ticket: ticket, Created: created}, nil
}

// ====================  初始化数据 ====================

// Seed 空库时创建内置角色与超级管理员
//
// 返回：
//   - bool: 是否执行了初始化（已有用户时为 false）
//   - error: 数据库错误
func (s *IdentityService) Seed(ctx context.Context, in SeedInput) (bool, error) {
	n, err := s.users.Count(ctx)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}

	if err := s.roles.EnsureRoles(ctx, models.BuiltinRoles...); err != nil {
		return false, err
	}

	hash, err := utils.HashPassword(in.Password)
	if err != nil {
		return false, fmt.Errorf("hash admin password: %w", err)
	}

	admin := &models.User{
		Username:      in.UserName,
		Email:         in.Email,
		Password:      hash,
		Nickname:      in.Nickname,
		SecurityStamp: uuid.NewString(),
	}
	if err := s.users.CreateWithRole(ctx, admin, models.RoleAdministrator); err != nil {
		if errors.Is(err, models.ErrUsernameExists) || errors.Is(err, models.ErrEmailExists) {
			// 并发初始化，另一请求已创建
			return false, nil
		}
		return false, err
	}

	s.record(ctx, admin.ID, models.AccountActionSeed, nil)
	utils.LogPrintf("[IDENTITY] Seed data created: admin=%s", admin.Username)
	return true, nil
}

// ====================  私有方法 ====================

// lookup 按查找键读取用户
func (s *IdentityService) lookup(ctx context.Context, key IdentityKey) (*models.User, error) {
	if key.IsProvider() {
		return s.users.FindByOpenID(ctx, key.Provider, key.OpenID)
	}
	return s.users.FindByEmail(ctx, key.Email)
}

// create 按资料创建用户
func (s *IdentityService) create(ctx context.Context, key IdentityKey, profile Profile) (*models.User, error) {
	password := profile.Password
	if password == "" {
		random, err := utils.GenerateSecureToken()
		if err != nil {
			return nil, err
		}
		password = random
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &models.User{
		Username:      profile.UserName,
		Email:         profile.Email,
		Password:      hash,
		Nickname:      profile.Nickname,
		AvatarURL:     profile.AvatarURL,
		SecurityStamp: uuid.NewString(),
	}
	if key.IsProvider() {
		user.OpenID.String, user.OpenID.Valid = key.OpenID, true
		user.OAuthProvider.String, user.OAuthProvider.Valid = key.Provider, true
	}

	if err := s.users.CreateWithRole(ctx, user, models.RoleAverage); err != nil {
		return nil, err
	}
	return user, nil
}

// signIn 签发会话，更新登录时间，写缓存与账户日志
func (s *IdentityService) signIn(ctx context.Context, user *models.User, persistent bool, action string, details interface{}) (*SessionTicket, error) {
	ticket, err := s.sessions.Issue(user, persistent)
	if err != nil {
		return nil, err
	}

	if err := s.users.TouchLogin(ctx, user.ID); err != nil {
		utils.LogPrintf("[IDENTITY] WARN: Failed to update last login: userID=%d, error=%v", user.ID, err)
	}
	if s.cache != nil {
		s.cache.Set(user)
	}
	s.record(ctx, user.ID, action, details)

	utils.LogPrintf("[IDENTITY] User signed in: userID=%d, action=%s, persistent=%v", user.ID, action, persistent)
	return ticket, nil
}

// record 写账户日志，失败只记录
func (s *IdentityService) record(ctx context.Context, userID int64, action string, details interface{}) {
	if s.logs == nil {
		return
	}
	if err := s.logs.Record(ctx, userID, action, details); err != nil {
		utils.LogPrintf("[IDENTITY] WARN: Failed to record account log: userID=%d, action=%s, error=%v",
			userID, action, err)
	}
}
