package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 10*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 10, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, 500, cfg.History.Retention)
	assert.Equal(t, 50, cfg.History.ReplaySize)
	assert.Zero(t, cfg.Limits.MaxUsernameLength, "usernames are uncapped by default")
	assert.Zero(t, cfg.Limits.MaxContentLength, "content is uncapped by default")
	assert.False(t, cfg.Archive.Enabled())
	assert.False(t, cfg.Replication.Enabled())
	assert.Empty(t, cfg.Moderation.Words)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"zero rate window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"zero quota", func(c *Config) { c.RateLimit.MaxPerWindow = 0 }},
		{"replay larger than retention", func(c *Config) { c.History.ReplaySize = c.History.Retention + 1 }},
		{"zero retention", func(c *Config) { c.History.Retention = 0 }},
		{"username limit below minimum", func(c *Config) { c.Limits.MaxUsernameLength = 1 }},
		{"negative content limit", func(c *Config) { c.Limits.MaxContentLength = -1 }},
		{"read timeout not above ping", func(c *Config) { c.WebSocket.ReadTimeout = c.WebSocket.PingInterval }},
		{"no allowed origins", func(c *Config) { c.WebSocket.AllowedOrigins = nil }},
		{"unknown env", func(c *Config) { c.Env = "staging" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"missing section", func(c *Config) { c.Archive = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateAllowsZeroReplay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.History.ReplaySize = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateAllowsOptionalLimits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxUsernameLength = 32
	cfg.Limits.MaxContentLength = 2000
	require.NoError(t, cfg.Validate())

	cfg.Limits.MaxUsernameLength = 0
	cfg.Limits.MaxContentLength = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFileLiftsLimits(t *testing.T) {
	base := DefaultConfig()
	base.Limits.MaxUsernameLength = 32
	base.Limits.MaxContentLength = 2000

	path := writeConfigFile(t, `{"limits": {"max_username_length": 0}}`)
	cfg, err := LoadFromFile(path, base)
	require.NoError(t, err)

	assert.Zero(t, cfg.Limits.MaxUsernameLength)
	assert.Equal(t, 2000, cfg.Limits.MaxContentLength)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RELAY_ENV", "development")
	t.Setenv("RELAY_LOG_LEVEL", "debug")
	t.Setenv("RELAY_HTTP_PORT", "9090")
	t.Setenv("RELAY_RATE_LIMIT_WINDOW", "5s")
	t.Setenv("RELAY_RATE_LIMIT_MAX_PER_WINDOW", "3")
	t.Setenv("RELAY_HISTORY_RETENTION", "20")
	t.Setenv("RELAY_HISTORY_REPLAY_SIZE", "5")
	t.Setenv("RELAY_MODERATION_WORDS", "spam,scam")
	t.Setenv("RELAY_REPLICATION_REDIS_URL", "redis://localhost:6379/0")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.Window)
	assert.Equal(t, 3, cfg.RateLimit.MaxPerWindow)
	assert.Equal(t, 20, cfg.History.Retention)
	assert.Equal(t, 5, cfg.History.ReplaySize)
	assert.Equal(t, []string{"spam", "scam"}, cfg.Moderation.Words)
	assert.True(t, cfg.Replication.Enabled())

	// untouched values keep their defaults
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, "chatrelay:events", cfg.Replication.Channel)
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv("RELAY_HTTP_PORT", "not-a-number")

	_, err := LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadFromFileOverlaysBase(t *testing.T) {
	path := writeConfigFile(t, `{
		"log_level": "warn",
		"http": {"port": 7000, "read_timeout": "5s"},
		"websocket": {"ping_interval": "10s", "allowed_origins": ["https://chat.example.com"]},
		"history": {"replay_size": 0},
		"identity": {"reserved_names": ["root"]},
		"archive": {"path": "/tmp/transcript.db"}
	}`)

	base := DefaultConfig()
	base.HTTP.Host = "127.0.0.1"

	cfg, err := LoadFromFile(path, base)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, 7000, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, 10*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 0, cfg.History.ReplaySize)
	assert.Equal(t, 500, cfg.History.Retention)
	assert.Equal(t, []string{"root"}, cfg.Identity.ReservedNames)
	assert.True(t, cfg.Archive.Enabled())
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{not json`), nil)
	assert.Error(t, err)

	_, err = LoadFromFile(writeConfigFile(t, `{"rate_limit": {"window": "ten seconds"}}`), nil)
	assert.ErrorContains(t, err, "rate_limit.window")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfigFile(t, `{"http": {"port": 7001}}`)
	t.Setenv("RELAY_HTTP_PORT", "9091")
	t.Setenv("RELAY_HTTP_HOST", "127.0.0.1")
	t.Setenv(FileEnvVar, path)

	cfg, err := Load()
	require.NoError(t, err)

	// file beats environment, environment beats defaults
	assert.Equal(t, 7001, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
}

func TestLoadValidatesResult(t *testing.T) {
	t.Setenv("RELAY_HISTORY_RETENTION", "10")
	t.Setenv("RELAY_HISTORY_REPLAY_SIZE", "11")
	t.Setenv(FileEnvVar, "")

	_, err := Load()
	assert.ErrorContains(t, err, "ReplaySize")
}
