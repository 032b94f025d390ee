package services

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *RegistrationCipher {
	t.Helper()
	c, err := NewRegistrationCipher("activation-secret-for-tests")
	require.NoError(t, err)
	return c
}

func sampleInfo() RegistrationInfo {
	return RegistrationInfo{
		User:     UserStub{UserName: "张三", Email: "zhang@example.com"},
		Password: "p@ss+word/=&",
	}
}

func TestCipherRoundTripBothTransports(t *testing.T) {
	c := newTestCipher(t)
	info := sampleInfo()

	token, err := c.Seal(info)
	require.NoError(t, err)

	// 页面脚本原样提交
	got, err := c.Open(token, TransportProgrammatic)
	require.NoError(t, err)
	assert.Equal(t, info, got)

	// 点击链接后查询参数已被解码
	decoded, err := url.QueryUnescape(token)
	require.NoError(t, err)
	got, err = c.Open(decoded, TransportLinkClick)
	require.NoError(t, err)
	assert.Equal(t, info, got)
}

func TestCipherTokenIsQuerySafe(t *testing.T) {
	c := newTestCipher(t)

	for i := 0; i < 20; i++ {
		token, err := c.Seal(sampleInfo())
		require.NoError(t, err)
		assert.False(t, strings.ContainsAny(token, "+/=&? "), "token not query safe: %s", token)

		q, err := url.ParseQuery(ActivationParam + "=" + token)
		require.NoError(t, err)
		_, err = c.Open(q.Get(ActivationParam), TransportLinkClick)
		require.NoError(t, err)
	}
}

func TestCipherSealIsRandomized(t *testing.T) {
	c := newTestCipher(t)
	a, err := c.Seal(sampleInfo())
	require.NoError(t, err)
	b, err := c.Seal(sampleInfo())
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipherOpenFailures(t *testing.T) {
	c := newTestCipher(t)
	token, err := c.Seal(sampleInfo())
	require.NoError(t, err)

	other, err := NewRegistrationCipher("another-secret")
	require.NoError(t, err)
	_, err = other.Open(token, TransportProgrammatic)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Open("", TransportLinkClick)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Open("%zz", TransportProgrammatic)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Open("!!!not-base64!!!", TransportLinkClick)
	assert.ErrorIs(t, err, ErrDecode)

	// 篡改密文
	decoded, err := url.QueryUnescape(token)
	require.NoError(t, err)
	flipped := []byte(decoded)
	if flipped[10] == 'A' {
		flipped[10] = 'B'
	} else {
		flipped[10] = 'A'
	}
	_, err = c.Open(string(flipped), TransportLinkClick)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCipherRejectsIncompletePayload(t *testing.T) {
	c := newTestCipher(t)
	token, err := c.Seal(RegistrationInfo{User: UserStub{UserName: "a"}})
	require.NoError(t, err)

	_, err = c.Open(token, TransportProgrammatic)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNewRegistrationCipherEmptyKey(t *testing.T) {
	_, err := NewRegistrationCipher("")
	assert.Error(t, err)
}

func TestTransportKindString(t *testing.T) {
	assert.Equal(t, "link", TransportLinkClick.String())
	assert.Equal(t, "programmatic", TransportProgrammatic.String())
	assert.Equal(t, "TransportKind(9)", TransportKind(9).String())
}
