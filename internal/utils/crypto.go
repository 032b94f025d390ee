/**
 * internal/utils/crypto.go
 * 加密工具模块
 *
 * 功能：
 * - 安全随机 Token 生成（64 字符 hex）
 * - AES-256-GCM 加密/解密（激活串载荷）
 * - Argon2id 密码哈希和验证
 * - 配置字符串到 AES 密钥的派生
 *
 * 依赖：
 * - golang.org/x/crypto/argon2
 */

package utils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ====================  错误定义 ====================

var (
	// ErrInvalidKeyLength 密钥长度无效（必须为 32 字节）
	ErrInvalidKeyLength = errors.New("INVALID_KEY_LENGTH")

	// ErrDecryptionFailed 解密失败（格式错误、密钥错误或数据被篡改）
	ErrDecryptionFailed = errors.New("DECRYPTION_FAILED")

	// ErrInvalidHash 哈希格式无效
	ErrInvalidHash = errors.New("INVALID_HASH")

	// ErrRandomGeneration 随机数生成失败
	ErrRandomGeneration = errors.New("RANDOM_GENERATION_FAILED")

	// ErrEmptyPassword 密码为空
	ErrEmptyPassword = errors.New("EMPTY_PASSWORD")

	// ErrEmptyPlaintext 明文为空
	ErrEmptyPlaintext = errors.New("EMPTY_PLAINTEXT")

	// ErrEmptyKey 密钥字符串为空
	ErrEmptyKey = errors.New("EMPTY_KEY")
)

// ====================  常量定义 ====================

// Argon2id 参数
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16
)

const (
	aesKeySize    = 32 // AES-256
	tokenByteSize = 32 // hex 编码后 64 字符
)

// ====================  随机 Token ====================

// GenerateSecureToken 生成 64 字符的安全随机 Token
func GenerateSecureToken() (string, error) {
	buf := make([]byte, tokenByteSize)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		LogPrintf("[CRYPTO] ERROR: Failed to generate secure token: %v", err)
		return "", fmt.Errorf("%w: %v", ErrRandomGeneration, err)
	}
	return hex.EncodeToString(buf), nil
}

// ====================  密码哈希（Argon2id）====================

// HashPassword 使用 Argon2id 哈希密码
// 返回格式：$argon2id$v=19$m=65536,t=1,p=4$salt$hash
//
// 参数：
//   - password: 原始密码（不能为空）
//
// 返回：
//   - string: Argon2id 格式的哈希字符串
//   - error: 密码为空或随机数生成失败时返回错误
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, argon2SaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		LogPrintf("[CRYPTO] ERROR: Failed to generate salt: %v", err)
		return "", fmt.Errorf("%w: %v", ErrRandomGeneration, err)
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword 验证密码是否匹配存储的 Argon2id 哈希
// 哈希参数从字符串中解析，调整 argon2 常量后旧哈希仍可验证
//
// 返回：
//   - bool: 密码是否匹配
//   - error: 哈希格式无效时返回 ErrInvalidHash
func VerifyPassword(password, encodedHash string) (bool, error) {
	if password == "" {
		return false, ErrEmptyPassword
	}

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, fmt.Errorf("%w: version", ErrInvalidHash)
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return false, fmt.Errorf("%w: parameters", ErrInvalidHash)
	}
	if memory == 0 || iterations == 0 || threads == 0 {
		return false, fmt.Errorf("%w: zero parameters", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false, fmt.Errorf("%w: salt", ErrInvalidHash)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, fmt.Errorf("%w: hash", ErrInvalidHash)
	}

	hash := argon2.IDKey([]byte(password), salt, iterations, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1, nil
}

// ====================  AES-256-GCM ====================

// EncryptAESGCM 使用 AES-256-GCM 加密数据
// 输出为标准 base64 编码的 nonce || ciphertext || tag
// 标准 base64 含有 + / =，放入 URL 前需要转义
//
// 参数：
//   - plaintext: 明文
//   - key: 32 字节密钥
//
// 返回：
//   - string: base64 密文
//   - error: 参数无效或随机数生成失败
func EncryptAESGCM(plaintext []byte, key []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", ErrEmptyPlaintext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		LogPrintf("[CRYPTO] ERROR: Failed to generate nonce: %v", err)
		return "", fmt.Errorf("%w: %v", ErrRandomGeneration, err)
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptAESGCM 解密 EncryptAESGCM 的输出
// 任何格式错误、密钥不匹配或篡改都返回 ErrDecryptionFailed
func DecryptAESGCM(encoded string, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecryptionFailed, err)
	}
	if len(raw) < gcm.NonceSize()+gcm.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrDecryptionFailed)
	}

	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// newGCM 创建 AES-256-GCM AEAD
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != aesKeySize {
		return nil, ErrInvalidKeyLength
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyLength, err)
	}
	return cipher.NewGCM(block)
}

// ====================  密钥派生 ====================

// DeriveKeyFromString 从配置字符串派生 32 字节密钥
// 64 字符 hex 直接解码，其余字符串取 SHA-256 摘要
//
// 参数：
//   - keyStr: 密钥字符串
//
// 返回：
//   - []byte: 32 字节密钥
//   - error: 字符串为空时返回 ErrEmptyKey
func DeriveKeyFromString(keyStr string) ([]byte, error) {
	if keyStr == "" {
		return nil, ErrEmptyKey
	}

	if len(keyStr) == 64 {
		if decoded, err := hex.DecodeString(keyStr); err == nil {
			return decoded, nil
		}
	}

	if len(keyStr) < 16 {
		LogPrintf("[CRYPTO] WARN: Key string is short (%d bytes), consider a 64-char hex key", len(keyStr))
	}

	sum := sha256.Sum256([]byte(keyStr))
	return sum[:], nil
}
