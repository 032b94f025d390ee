/**
 * internal/services/registration.go
 * 邮箱注册与链接激活
 *
 * 流程：
 * 1. Register：校验 → 用户名查重 → 加密注册信息 → 注册次数限制 → 预留用户名
 *    → 写入 30 分钟挂起标记 → 异步发送激活邮件
 * 2. CheckUserInfo：解密激活串 → 校验挂起标记 → 创建用户并登录
 *    → 删除挂起标记（激活链接只能使用一次）
 *
 * Register 不创建用户，注册信息只以密文形式存在于激活链接中
 *
 * 依赖：
 * - RegistrationCipher: 激活串加解密
 * - PendingStore: 挂起标记与注册次数（Redis）
 * - Identity: 用户查找、创建与登录
 * - Notifier: 激活邮件
 */

package services

import (
	"context"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"sync"
	"time"

	"hiblogs-account/internal/models"
)

// ====================  错误定义 ====================

var (
	// ErrInvalidInput 注册参数不合法
	ErrInvalidInput = errors.New("INVALID_INPUT")
	// ErrAlreadyExists 用户名已被占用
	ErrAlreadyExists = errors.New("ALREADY_EXISTS")
	// ErrRateLimited 同一邮箱注册次数过多
	ErrRateLimited = errors.New("RATE_LIMITED")
	// ErrLinkExpired 激活链接已过期或已使用
	ErrLinkExpired = errors.New("LINK_EXPIRED")
	// ErrDependency Redis / 数据库不可用
	ErrDependency = errors.New("DEPENDENCY_FAILURE")
)

// ====================  常量定义 ====================

const (
	// ActivationPath 激活页面路径
	ActivationPath = "/Admin/Account/Activation"
	// ActivationParam 激活串查询参数名
	ActivationParam = "desstring"

	// 面向用户的结果描述
	DescRegistered           = "注册成功，请前往邮箱激活账号"
	DescActivated            = "激活成功"
	DescPasswordResetPending = "该邮箱已注册，密码重置功能暂未开放"
	DescAlreadyExists        = "已存在此用户"
	DescRateLimited          = "请勿频繁注册，请查看垃圾邮件或换一个邮箱注册！"
	DescLinkExpired          = "激活链接已失效"
	DescDecodeError          = "激活链接无效"
	DescDependency           = "服务暂时不可用，请稍后再试"
	DescInvalidUsername      = "用户名格式不正确"
	DescInvalidEmail         = "邮箱格式不正确"
	DescInvalidPassword      = "密码长度需为 6-64 位"

	defaultPendingTTL    = 30 * time.Minute
	defaultMaxAttempts   = 3
	defaultNotifyTimeout = 30 * time.Second
)

// ====================  接口定义 ====================

// PendingStore 注册挂起状态存储，由 *cache.RegistrationStore 实现
type PendingStore interface {
	IncrementAttempts(ctx context.Context, email string) (int64, error)
	MarkPending(ctx context.Context, email string, ttl time.Duration) error
	Exists(ctx context.Context, email string) (bool, error)
	Invalidate(ctx context.Context, email string) error
	ReserveUsername(ctx context.Context, username, email string, ttl time.Duration) (bool, error)
	ReleaseUsername(ctx context.Context, username, email string) error
}

// Notifier 激活通知，由 *EmailService 实现
type Notifier interface {
	SendActivation(ctx context.Context, m ActivationMail) error
}

// ====================  数据结构 ====================

// WorkflowError 注册流程错误，携带面向用户的描述
type WorkflowError struct {
	Kind        error
	Description string
	Err         error
}

func (e *WorkflowError) Error() string {
	if e.Err != nil {
		return e.Kind.Error() + ": " + e.Err.Error()
	}
	return e.Kind.Error()
}

// Unwrap 同时暴露错误类别和底层原因
func (e *WorkflowError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Describe 返回错误的用户描述，非流程错误统一为服务不可用
func Describe(err error) string {
	var we *WorkflowError
	if errors.As(err, &we) && we.Description != "" {
		return we.Description
	}
	return DescDependency
}

// RegisterInput 注册参数
type RegisterInput struct {
	UserName string
	Password string
	Email    string
}

// ActivationOutcome 激活结果类型
type ActivationOutcome int

const (
	// OutcomeActivated 新用户已创建并登录
	OutcomeActivated ActivationOutcome = iota
	// OutcomePasswordResetPending 邮箱已注册，未修改密码也未登录
	OutcomePasswordResetPending
)

// ActivationResult 激活结果
type ActivationResult struct {
	Outcome     ActivationOutcome
	User        *models.User
	Ticket      *SessionTicket
	Description string
}

// RegistrationOptions 注册流程参数
type RegistrationOptions struct {
	PendingTTL    time.Duration
	MaxAttempts   int64
	NotifyTimeout time.Duration
}

// RegistrationService 注册流程
type RegistrationService struct {
	cipher   *RegistrationCipher
	store    PendingStore
	identity Identity
	notifier Notifier
	opts     RegistrationOptions
	wg       sync.WaitGroup
}

// ====================  构造函数 ====================

// NewRegistrationService 创建注册流程
// notifier 为 nil 时只记录激活链接，不发送邮件
func NewRegistrationService(cipher *RegistrationCipher, store PendingStore, identity Identity, notifier Notifier, opts RegistrationOptions) *RegistrationService {
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = defaultPendingTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}

	return &RegistrationService{
		cipher:   cipher,
		store:    store,
		identity: identity,
		notifier: notifier,
		opts:     opts,
	}
}

// ====================  注册 ====================

// Register 发起注册
//
// 参数：
//   - ctx: 请求上下文
//   - in: 用户名、密码、邮箱
//   - origin: 站点源（scheme://host），用于拼接激活链接
//
// 返回：
//   - error: *WorkflowError，类别为 ErrInvalidInput / ErrAlreadyExists / ErrRateLimited / ErrDependency
func (s *RegistrationService) Register(ctx context.Context, in RegisterInput, origin string) error {
	emailResult := utils.ValidateEmail(in.Email)
	if !emailResult.Valid {
		return &WorkflowError{Kind: ErrInvalidInput, Description: DescInvalidEmail}
	}
	email := emailResult.Value

	nameResult := utils.ValidateUsername(in.UserName)
	if !nameResult.Valid {
		return &WorkflowError{Kind: ErrInvalidInput, Description: DescInvalidUsername}
	}
	username := nameResult.Value

	if r := utils.ValidatePassword(in.Password); !r.Valid {
		return &WorkflowError{Kind: ErrInvalidInput, Description: DescInvalidPassword}
	}

	exists, err := s.identity.UsernameExists(ctx, username)
	if err != nil {
		return dependency("UsernameExists", err)
	}
	if exists {
		return &WorkflowError{Kind: ErrAlreadyExists, Description: DescAlreadyExists}
	}

	token, err := s.cipher.Seal(RegistrationInfo{
		User:     UserStub{UserName: username, Email: email},
		Password: in.Password,
	})
	if err != nil {
		return dependency("Seal", err)
	}

	attempts, err := s.store.IncrementAttempts(ctx, email)
	if err != nil {
		return dependency("IncrementAttempts", err)
	}
	if attempts >= s.opts.MaxAttempts {
		utils.LogPrintf("[REGISTER] WARN: 邮箱 %s 连续注册 %d 次", email, attempts)
		return &WorkflowError{Kind: ErrRateLimited, Description: DescRateLimited}
	}

	reserved, err := s.store.ReserveUsername(ctx, username, email, s.opts.PendingTTL)
	if err != nil {
		return dependency("ReserveUsername", err)
	}
	if !reserved {
		return &WorkflowError{Kind: ErrAlreadyExists, Description: DescAlreadyExists}
	}

	if err := s.store.MarkPending(ctx, email, s.opts.PendingTTL); err != nil {
		if relErr := s.store.ReleaseUsername(ctx, username, email); relErr != nil {
			utils.LogPrintf("[REGISTER] WARN: Failed to release username reservation: username=%s, error=%v", username, relErr)
		}
		return dependency("MarkPending", err)
	}

	s.notify(ctx, ActivationMail{
		To:        email,
		UserName:  username,
		Link:      ActivationLink(origin, token),
		ExpiresIn: s.opts.PendingTTL,
	})

	utils.LogPrintf("[REGISTER] Registration pending: username=%s, email=%s, attempts=%d", username, email, attempts)
	return nil
}

// ====================  激活 ====================

// CheckUserInfo 校验激活串并完成注册
//
// 参数：
//   - ctx: 请求上下文
//   - token: 激活串
//   - kind: 激活串到达方式
//
// 返回：
//   - *ActivationResult: 激活结果（带会话票据）
//   - error: *WorkflowError，类别为 ErrDecode / ErrLinkExpired / ErrAlreadyExists / ErrDependency
func (s *RegistrationService) CheckUserInfo(ctx context.Context, token string, kind TransportKind) (*ActivationResult, error) {
	info, err := s.cipher.Open(token, kind)
	if err != nil {
		utils.LogPrintf("[REGISTER] WARN: Activation token rejected: kind=%s, error=%v", kind, err)
		return nil, &WorkflowError{Kind: ErrDecode, Description: DescDecodeError, Err: err}
	}
	email := info.User.Email

	pending, err := s.store.Exists(ctx, email)
	if err != nil {
		return nil, dependency("Exists", err)
	}
	if !pending {
		return nil, &WorkflowError{Kind: ErrLinkExpired, Description: DescLinkExpired}
	}

	result, err := s.activate(ctx, info)
	if err != nil {
		return nil, err
	}

	// 标记未删除时不返回会话，避免同一链接重复生效
	if err := s.store.Invalidate(ctx, email); err != nil {
		return nil, dependency("Invalidate", err)
	}
	if err := s.store.ReleaseUsername(ctx, info.User.UserName, email); err != nil {
		utils.LogPrintf("[REGISTER] WARN: Failed to release username reservation: username=%s, error=%v",
			info.User.UserName, err)
	}

	return result, nil
}

// Wait 等待所有激活邮件发送结束（优雅关闭与测试使用）
func (s *RegistrationService) Wait() {
	s.wg.Wait()
}

// ActivationLink 拼接激活链接，token 已经过 URL 编码
func ActivationLink(origin, token string) string {
	return origin + ActivationPath + "?" + ActivationParam + "=" + token
}

// ====================  私有方法 ====================

// activate 挂起标记有效时的用户处理
func (s *RegistrationService) activate(ctx context.Context, info RegistrationInfo) (*ActivationResult, error) {
	email := info.User.Email

	existing, err := s.identity.FindByEmail(ctx, email)
	switch {
	case err == nil:
		utils.LogPrintf("[REGISTER] WARN: Activation for registered email, password reset pending: email=%s", email)
		ticket, err := s.identity.SignIn(ctx, existing, true)
		if err != nil {
			return nil, dependency("SignIn", err)
		}
		return &ActivationResult{
			Outcome:     OutcomePasswordResetPending,
			User:        existing,
			Ticket:      ticket,
			Description: DescPasswordResetPending,
		}, nil
	case !errors.Is(err, models.ErrUserNotFound):
		return nil, dependency("FindByEmail", err)
	}

	signed, err := s.identity.UpsertAndSignIn(ctx, EmailKey(email), Profile{
		UserName: info.User.UserName,
		Email:    email,
		Password: info.Password,
		Nickname: info.User.UserName,
	}, true)
	if err != nil {
		if errors.Is(err, models.ErrUsernameExists) || errors.Is(err, models.ErrEmailExists) {
			return nil, &WorkflowError{Kind: ErrAlreadyExists, Description: DescAlreadyExists, Err: err}
		}
		return nil, dependency("UpsertAndSignIn", err)
	}

	utils.LogPrintf("[REGISTER] Account activated: userID=%d, username=%s", signed.User.ID, signed.User.Username)
	return &ActivationResult{
		Outcome:     OutcomeActivated,
		User:        signed.User,
		Ticket:      signed.Ticket,
		Description: DescActivated,
	}, nil
}

// notify 在独立协程中发送激活邮件，结果只记录日志
func (s *RegistrationService) notify(ctx context.Context, m ActivationMail) {
	if s.notifier == nil {
		utils.LogPrintf("[REGISTER] WARN: Email not configured, activation link for %s: %s", m.To, m.Link)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				utils.LogPrintf("[REGISTER] ERROR: Activation mail panic: to=%s, panic=%v", m.To, r)
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.NotifyTimeout)
		defer cancel()

		if err := s.notifier.SendActivation(sendCtx, m); err != nil {
			utils.LogPrintf("[REGISTER] ERROR: 邮件发送失败: to=%s, error=%v", m.To, err)
			return
		}
		utils.LogPrintf("[REGISTER] 邮件发送成功: to=%s", m.To)
	}()
}

// dependency 记录并包装依赖故障
func dependency(op string, err error) error {
	utils.LogPrintf("[REGISTER] ERROR: %s failed: %v", op, err)
	return &WorkflowError{Kind: ErrDependency, Description: DescDependency, Err: fmt.Errorf("%s: %w", op, err)}
}
