package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("123qwe")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := VerifyPassword("123qwe", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("123qwE", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = VerifyPassword("123qwe", "$bcrypt$whatever")
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = HashPassword("")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestAESGCMRoundTrip(t *testing.T) {
	key, err := DeriveKeyFromString("hiblogs-activation-secret")
	require.NoError(t, err)
	require.Len(t, key, 32)

	sealed, err := EncryptAESGCM([]byte(`{"user":"x"}`), key)
	require.NoError(t, err)

	plain, err := DecryptAESGCM(sealed, key)
	require.NoError(t, err)
	assert.Equal(t, `{"user":"x"}`, string(plain))

	other, err := DeriveKeyFromString("another-secret")
	require.NoError(t, err)
	_, err = DecryptAESGCM(sealed, other)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptAESGCM("not base64 !!", key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	_, err = DecryptAESGCM("AAAA", key)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDeriveKeyFromHex(t *testing.T) {
	hexKey := strings.Repeat("ab", 32)
	key, err := DeriveKeyFromString(hexKey)
	require.NoError(t, err)
	assert.Equal(t, byte(0xab), key[0])

	_, err = DeriveKeyFromString("")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestValidators(t *testing.T) {
	r := ValidateEmail("  Foo@Example.COM ")
	assert.True(t, r.Valid)
	assert.Equal(t, "foo@example.com", r.Value)
	assert.False(t, ValidateEmail("no-at-sign").Valid)

	assert.True(t, ValidateUsername("Alice").Valid)
	assert.Equal(t, "Alice", ValidateUsername(" Alice ").Value)
	assert.False(t, ValidateUsername("has space").Valid)
	assert.Equal(t, ErrUsernameTooLong, ValidateUsername(strings.Repeat("名", 21)).ErrorCode)

	assert.True(t, ValidatePassword("123qwe").Valid)
	assert.Equal(t, ErrPasswordTooShort, ValidatePassword("12345").ErrorCode)

	assert.True(t, ValidateRemoteImageURL("https://q.qlogo.cn/qqapp/1/2/100").Valid)
	assert.False(t, ValidateRemoteImageURL("http://127.0.0.1/a.png").Valid)
	assert.False(t, ValidateRemoteImageURL("file:///etc/passwd").Valid)
}

func TestSafeReturnURL(t *testing.T) {
	cases := map[string]string{
		"":                    "/",
		"/blog/1":             "/blog/1",
		"/a?b=c":              "/a?b=c",
		"https://evil.com":    "/",
		"//evil.com":          "/",
		"/\\evil.com":         "/",
		"javascript:alert(1)": "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, SafeReturnURL(in), "input %q", in)
	}
}

func TestMaskSensitiveData(t *testing.T) {
	out := maskSensitiveData("[MAIL] sent to alice@example.com link=https://h/Admin/Account/Activation?desstring=abc%2Bdef")
	assert.NotContains(t, out, "alice@example.com")
	assert.NotContains(t, out, "abc%2Bdef")
	assert.Contains(t, out, "desstring=***[MASKED]")
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, zapcore.ErrorLevel, levelOf("[REGISTER] ERROR: redis down"))
	assert.Equal(t, zapcore.WarnLevel, levelOf("[REGISTER] WARN: 邮箱 a 连续注册 3 次"))
	assert.Equal(t, zapcore.InfoLevel, levelOf("[REGISTER] ok"))
}
