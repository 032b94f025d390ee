/**
 * internal/utils/validators.go
 * 数据验证模块
 *
 * 功能：
 * - 邮箱格式验证
 * - 用户名验证（注册时）
 * - 密码长度验证
 * - 第三方头像 URL 验证（SSRF 防护）
 * - 登录跳转地址验证（防开放重定向）
 */

package utils

import (
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ====================  错误码定义 ====================

const (
	ErrInvalidEmail     = "INVALID_EMAIL"
	ErrInvalidUsername  = "INVALID_USERNAME"
	ErrUsernameTooLong  = "USERNAME_TOO_LONG"
	ErrInvalidPassword  = "INVALID_PASSWORD"
	ErrPasswordTooShort = "PASSWORD_TOO_SHORT"
	ErrPasswordTooLong  = "PASSWORD_TOO_LONG"
	ErrInvalidURL       = "INVALID_URL"
)

// ====================  常量定义 ====================

const (
	emailMaxLength    = 254 // RFC 5321
	usernameMaxLength = 20
	passwordMinLength = 6
	passwordMaxLength = 64
	urlMaxLength      = 2048
)

// ====================  数据结构 ====================

// ValidationResult 验证结果
type ValidationResult struct {
	Valid     bool   `json:"valid"`
	Value     string `json:"value,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ====================  邮箱验证 ====================

// ValidateEmail 验证邮箱格式
// 返回值中的 Value 为去空格、转小写后的邮箱，注册挂起记录以此为键
func ValidateEmail(email string) ValidationResult {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" || len(trimmed) > emailMaxLength || !emailRegex.MatchString(trimmed) {
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidEmail}
	}
	return ValidationResult{Valid: true, Value: trimmed}
}

// ====================  用户名验证 ====================

// ValidateUsername 验证用户名
// 规则：
//   - 去除首尾空格后 1-20 个字符（Unicode 计数）
//   - 不允许包含空白和控制字符
//
// 用户名大小写敏感，这里不做大小写转换
func ValidateUsername(username string) ValidationResult {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidUsername}
	}

	if utf8.RuneCountInString(trimmed) > usernameMaxLength {
		return ValidationResult{Valid: false, ErrorCode: ErrUsernameTooLong}
	}

	for _, r := range trimmed {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			LogPrintf("[VALIDATOR] Username validation failed: contains whitespace or control char")
			return ValidationResult{Valid: false, ErrorCode: ErrInvalidUsername}
		}
	}

	return ValidationResult{Valid: true, Value: trimmed}
}

// ====================  密码验证 ====================

// ValidatePassword 验证密码长度（6-64 字节）
func ValidatePassword(password string) ValidationResult {
	switch {
	case password == "":
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidPassword}
	case len(password) < passwordMinLength:
		return ValidationResult{Valid: false, ErrorCode: ErrPasswordTooShort}
	case len(password) > passwordMaxLength:
		return ValidationResult{Valid: false, ErrorCode: ErrPasswordTooLong}
	}
	return ValidationResult{Valid: true}
}

// ====================  URL 验证 ====================

// ValidateRemoteImageURL 验证第三方平台返回的头像 URL
// 只允许 http/https，拒绝内网、回环、链路本地地址
func ValidateRemoteImageURL(raw string) ValidationResult {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > urlMaxLength {
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidURL}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidURL}
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidURL}
	}

	hostname := strings.ToLower(parsed.Hostname())
	if hostname == "" || isBlockedHost(hostname) {
		LogPrintf("[VALIDATOR] WARN: Blocked avatar host: %s", hostname)
		return ValidationResult{Valid: false, ErrorCode: ErrInvalidURL}
	}

	return ValidationResult{Valid: true, Value: trimmed}
}

// SafeReturnURL 规范化登录后的跳转地址
// 仅接受站内相对路径（以单个 / 开头），其余一律返回 "/"
func SafeReturnURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return "/"
	}
	// //evil.com 与 /\evil.com 会被浏览器当作协议相对地址
	if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/\\") {
		return "/"
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return "/"
	}
	return trimmed
}

// isBlockedHost 检查是否为禁止访问的内网地址
func isBlockedHost(hostname string) bool {
	if hostname == "localhost" {
		return true
	}

	ip := net.ParseIP(hostname)
	if ip == nil {
		return false
	}

	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
