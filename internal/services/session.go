/**
 * internal/services/session.go
 * 会话管理服务（JWT）
 *
 * 功能：
 * - 签发会话 Token（携带用户 ID、昵称、安全戳）
 * - 持久会话（记住我）与浏览器会话两种有效期
 * - Token 验证与错误分类
 *
 * 依赖：
 * - github.com/golang-jwt/jwt/v5
 */

package services

import (
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"time"

	"hiblogs-account/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ====================  错误定义 ====================

var (
	// ErrSessionEmptySecret JWT 密钥为空
	ErrSessionEmptySecret = errors.New("SESSION_EMPTY_SECRET")
	// ErrNoToken 未提供 Token
	ErrNoToken = errors.New("NO_TOKEN")
	// ErrTokenExpired Token 已过期
	ErrTokenExpired = errors.New("TOKEN_EXPIRED")
	// ErrInvalidToken Token 无效（签名、格式、声明）
	ErrInvalidToken = errors.New("INVALID_TOKEN")
	// ErrTokenGenerationFailed Token 签发失败
	ErrTokenGenerationFailed = errors.New("TOKEN_GENERATION_FAILED")
)

// ====================  常量定义 ====================

const (
	minSessionTTL   = time.Minute
	maxSessionTTL   = 90 * 24 * time.Hour
	minSecretLength = 32

	// sessionIssuer 签发者标识
	sessionIssuer = "hiblogs"
)

// ====================  数据结构 ====================

// Claims JWT 声明
type Claims struct {
	UserID     int64  `json:"userId"`
	Nickname   string `json:"nickname"`
	Stamp      string `json:"stamp"`
	Persistent bool   `json:"persistent"`
	jwt.RegisteredClaims
}

// SessionTicket 已签发的会话
// 由处理器写入 Cookie，Persistent 决定 Cookie 是否带有效期
type SessionTicket struct {
	Token      string
	Persistent bool
	ExpiresAt  time.Time
}

// SessionService 会话服务
type SessionService struct {
	secret        []byte
	persistentTTL time.Duration
	browserTTL    time.Duration
}

// ====================  构造函数 ====================

// NewSessionService 创建会话服务
//
// 参数：
//   - secret: HS256 签名密钥
//   - persistentTTL: 记住我会话有效期
//   - browserTTL: 普通会话有效期
//
// 返回：
//   - *SessionService: 服务实例
//   - error: 密钥为空时返回 ErrSessionEmptySecret
func NewSessionService(secret string, persistentTTL, browserTTL time.Duration) (*SessionService, error) {
	if secret == "" {
		utils.LogPrintf("[SESSION] ERROR: JWT secret is empty")
		return nil, ErrSessionEmptySecret
	}
	if len(secret) < minSecretLength {
		utils.LogPrintf("[SESSION] WARN: JWT secret is too short (%d chars), recommended minimum is %d",
			len(secret), minSecretLength)
	}

	return &SessionService{
		secret:        []byte(secret),
		persistentTTL: clampTTL(persistentTTL, 60*24*time.Hour),
		browserTTL:    clampTTL(browserTTL, 12*time.Hour),
	}, nil
}

// ====================  公开方法 ====================

// Issue 为用户签发会话 Token
//
// 参数：
//   - user: 已登录用户
//   - persistent: 是否为持久会话
//
// 返回：
//   - *SessionTicket: 会话票据
//   - error: 用户无效或签名失败
func (s *SessionService) Issue(user *models.User, persistent bool) (*SessionTicket, error) {
	if user == nil || user.ID <= 0 {
		return nil, fmt.Errorf("%w: invalid user", ErrTokenGenerationFailed)
	}

	ttl := s.browserTTL
	if persistent {
		ttl = s.persistentTTL
	}

	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := &Claims{
		UserID:     user.ID,
		Nickname:   user.DisplayName(),
		Stamp:      user.SecurityStamp,
		Persistent: persistent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		utils.LogPrintf("[SESSION] ERROR: Failed to sign token: userID=%d, error=%v", user.ID, err)
		return nil, fmt.Errorf("%w: %v", ErrTokenGenerationFailed, err)
	}

	return &SessionTicket{Token: signed, Persistent: persistent, ExpiresAt: expiresAt}, nil
}

// VerifyToken 验证 Token 并返回声明
func (s *SessionService) VerifyToken(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		utils.LogPrintf("[SESSION] WARN: Token rejected: %v", err)
		return nil, ErrInvalidToken
	}

	if claims.UserID <= 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ====================  辅助函数 ====================

// clampTTL 将有效期限制在 [minSessionTTL, maxSessionTTL]，非正数使用默认值
func clampTTL(ttl, fallback time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return fallback
	case ttl < minSessionTTL:
		return minSessionTTL
	case ttl > maxSessionTTL:
		return maxSessionTTL
	}
	return ttl
}
