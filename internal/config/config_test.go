package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dom/livechat/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "access-secret")
	t.Setenv("REFRESH_TOKEN_SECRET", "refresh-secret")
}

func TestLoad_Defaults(t *testing.T) {
	setSecrets(t)
	t.Setenv("CONFIG_FILE", "")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 8*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.SecureCookies)
}

func TestLoad_RequiresSecrets(t *testing.T) {
	tests := []struct {
		name    string
		jwt     string
		refresh string
	}{
		{name: "missing access secret", refresh: "r"},
		{name: "missing refresh secret", jwt: "a"},
		{name: "identical secrets", jwt: "same", refresh: "same"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", tt.jwt)
			t.Setenv("REFRESH_TOKEN_SECRET", tt.refresh)

			_, err := config.LoadFile("")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_YAMLThenEnv(t *testing.T) {
	setSecrets(t)
	path := filepath.Join(t.TempDir(), "livechat.yaml")
	yamlBody := []byte(`
port: "9000"
environment: production
redisUrl: redis://cache:6379/0
allowedOrigins:
  - https://chat.example.com
maxMessageLength: 500
`)
	require.NoError(t, os.WriteFile(path, yamlBody, 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := config.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port, "env overrides yaml")
	assert.Equal(t, "redis://cache:6379/0", cfg.RedisURL)
	assert.Equal(t, 500, cfg.MaxMessageLength)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.SecureCookies)
}

func TestLoadFile_Missing(t *testing.T) {
	setSecrets(t)
	_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
