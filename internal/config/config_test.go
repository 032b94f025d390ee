package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/hiblogs")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("ACTIVATION_KEY", "fedcba9876543210fedcba9876543210")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequired(t)

	require.NoError(t, Reload())
	c := Get()

	assert.Equal(t, "3000", c.Port)
	assert.Equal(t, 30*time.Minute, c.ActivationTTL)
	assert.Equal(t, 3, c.RegisterMaxTries)
	assert.Equal(t, 60*24*time.Hour, c.JWTExpiresIn)
	assert.Equal(t, "123qwe", c.AdminInitialPassword)
	assert.True(t, c.SeedOnStart)
	assert.Equal(t, "http://localhost:3000/api/account/oauth/callback?type=qq", c.QQRedirectURI)
	assert.Empty(t, c.AllowOrigins)
	assert.False(t, c.IsR2Configured())
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("BASE_URL", "https://blog.example.com/")
	t.Setenv("APP_ENV", "production")
	t.Setenv("ACTIVATION_TTL", "45m")
	t.Setenv("REGISTER_MAX_TRIES", "5")
	t.Setenv("SEED_ON_START", "false")
	t.Setenv("ALLOW_ORIGINS", "https://a.example.com, ,https://b.example.com")
	t.Setenv("EMAIL", "noreply@example.com")
	t.Setenv("EMAIL_KEY", "smtp-pass")

	require.NoError(t, Reload())
	c := Get()

	assert.Equal(t, "https://blog.example.com", c.BaseURL)
	assert.True(t, c.IsProduction)
	assert.Equal(t, 45*time.Minute, c.ActivationTTL)
	assert.Equal(t, 5, c.RegisterMaxTries)
	assert.False(t, c.SeedOnStart)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.AllowOrigins)
	assert.Equal(t, "noreply@example.com", c.SMTPUser)
	assert.Equal(t, "noreply@example.com", c.SMTPFrom)
	assert.True(t, c.IsEmailConfigured())
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setRequired(t)
	t.Setenv("ACTIVATION_KEY", "")
	t.Setenv("REDIS_URL", "")

	err := Reload()
	require.ErrorIs(t, err, ErrMissingRequired)
	assert.Contains(t, err.Error(), "REDIS_URL")
	assert.Contains(t, err.Error(), "ACTIVATION_KEY")
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	v, err := getEnvInt("TEST_INT", 7)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, 7, v)

	t.Setenv("TEST_INT", "-1")
	_, err = getEnvInt("TEST_INT", 7)
	assert.ErrorIs(t, err, ErrInvalidValue)

	t.Setenv("TEST_DURATION", "2")
	d, err := getEnvDuration("TEST_DURATION", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	t.Setenv("TEST_DURATION", "soon")
	d, err = getEnvDuration("TEST_DURATION", time.Minute)
	assert.ErrorIs(t, err, ErrInvalidValue)
	assert.Equal(t, time.Minute, d)

	t.Setenv("TEST_BOOL", "maybe")
	assert.True(t, getEnvBool("TEST_BOOL", true))
}
