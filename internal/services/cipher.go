/**
 * internal/services/cipher.go
 * 激活串加解密
 *
 * 功能：
 * - 将注册信息（用户名、邮箱、密码）加密为可放入 URL 的激活串
 * - 按激活串的到达方式（链接点击 / 页面提交）解密
 *
 * 依赖：
 * - internal/utils: AES-256-GCM
 */

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"hiblogs-account/internal/utils"
	"net/url"
)

// ====================  错误定义 ====================

// ErrDecode 激活串无法解码（格式错误、密钥不匹配、被篡改）
var ErrDecode = errors.New("DECODE_ERROR")

// ====================  数据结构 ====================

// TransportKind 激活串的到达方式
type TransportKind int

const (
	// TransportLinkClick 用户点击邮件链接，查询参数已被 URL 解码
	TransportLinkClick TransportKind = iota
	// TransportProgrammatic 页面脚本原样提交查询串，激活串仍是 URL 编码形式
	TransportProgrammatic
)

// String 返回到达方式名称（用于日志）
func (k TransportKind) String() string {
	switch k {
	case TransportLinkClick:
		return "link"
	case TransportProgrammatic:
		return "programmatic"
	}
	return fmt.Sprintf("TransportKind(%d)", int(k))
}

// UserStub 注册时提交的用户基本信息
type UserStub struct {
	UserName string `json:"userName"`
	Email    string `json:"email"`
}

// RegistrationInfo 激活串中携带的注册信息
type RegistrationInfo struct {
	User     UserStub `json:"user"`
	Password string   `json:"password"`
}

// RegistrationCipher 激活串加解密器
type RegistrationCipher struct {
	key []byte
}

// ====================  构造函数 ====================

// NewRegistrationCipher 使用配置中的密钥创建加解密器
//
// 参数：
//   - secret: ACTIVATION_KEY，64 字符 hex 或任意字符串
//
// 返回：
//   - *RegistrationCipher: 加解密器
//   - error: 密钥为空
func NewRegistrationCipher(secret string) (*RegistrationCipher, error) {
	key, err := utils.DeriveKeyFromString(secret)
	if err != nil {
		return nil, fmt.Errorf("activation key: %w", err)
	}
	return &RegistrationCipher{key: key}, nil
}

// ====================  公开方法 ====================

// Seal 加密注册信息并进行 URL 编码，结果可直接拼接到查询串
func (c *RegistrationCipher) Seal(info RegistrationInfo) (string, error) {
	payload, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal registration info: %w", err)
	}

	sealed, err := utils.EncryptAESGCM(payload, c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt registration info: %w", err)
	}

	return url.QueryEscape(sealed), nil
}

// Open 解密激活串
//
// 参数：
//   - token: 激活串
//   - kind: 到达方式，TransportProgrammatic 会先做一次 URL 解码
//
// 返回：
//   - RegistrationInfo: 注册信息
//   - error: 任何失败都返回 ErrDecode
func (c *RegistrationCipher) Open(token string, kind TransportKind) (RegistrationInfo, error) {
	var info RegistrationInfo

	raw := token
	if kind == TransportProgrammatic {
		unescaped, err := url.QueryUnescape(token)
		if err != nil {
			return info, fmt.Errorf("%w: unescape: %v", ErrDecode, err)
		}
		raw = unescaped
	}

	payload, err := utils.DecryptAESGCM(raw, c.key)
	if err != nil {
		return info, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if err := json.Unmarshal(payload, &info); err != nil {
		return info, fmt.Errorf("%w: payload: %v", ErrDecode, err)
	}

	if info.User.UserName == "" || info.User.Email == "" || info.Password == "" {
		return info, fmt.Errorf("%w: incomplete payload", ErrDecode)
	}

	return info, nil
}
