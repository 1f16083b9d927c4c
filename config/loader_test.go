package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoader_Defaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", cfg.Gemini.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 120*time.Second, cfg.Polling.MaxInterval)
	assert.Equal(t, 24*time.Hour, cfg.Polling.Timeout)
	assert.Equal(t, "auto", cfg.Input.Mode)
	assert.Equal(t, 15*1024*1024, cfg.Input.InlineThreshold)
	assert.True(t, cfg.Storage.StoreResponsePayloads)
	assert.Equal(t, 30, cfg.Storage.PruneAfterDays)
}

func TestLoader_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
gemini:
  api_key: test-key
  model: gemini-2.5-pro
polling:
  interval: 10s
  max_interval: 60s
input:
  mode: file
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-2.5-pro", cfg.Gemini.Model)
	assert.Equal(t, 10*time.Second, cfg.Polling.Interval)
	assert.Equal(t, 60*time.Second, cfg.Polling.MaxInterval)
	assert.Equal(t, "file", cfg.Input.Mode)

	// Untouched values keep their defaults.
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta", cfg.Gemini.BaseURL)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini:\n  model: from-file\n"), 0o600))

	t.Setenv("GEMBATCH_GEMINI_MODEL", "from-env")
	t.Setenv("GEMBATCH_QUEUE_WORKERS", "8")
	t.Setenv("GEMBATCH_POLLING_INTERVAL", "45s")
	t.Setenv("GEMBATCH_STORAGE_STORE_RESPONSE_PAYLOADS", "false")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gemini.Model)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, 45*time.Second, cfg.Polling.Interval)
	assert.False(t, cfg.Storage.StoreResponsePayloads)
}

func TestLoader_PlainSecondsDuration(t *testing.T) {
	t.Setenv("GEMBATCH_POLLING_TIMEOUT", "86400")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, cfg.Polling.Timeout)
}

func TestLoader_MissingFile(t *testing.T) {
	_, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"bad input mode", func(c *Config) { c.Input.Mode = "maybe" }, true},
		{"zero threshold", func(c *Config) { c.Input.InlineThreshold = 0 }, true},
		{"max below base interval", func(c *Config) { c.Polling.MaxInterval = c.Polling.Interval / 2 }, true},
		{"zero workers", func(c *Config) { c.Queue.Workers = 0 }, true},
		{"bad driver", func(c *Config) { c.Database.Driver = "oracle" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().WithValidator(func(c *Config) error {
		called = true
		return nil
	}).Load()
	require.NoError(t, err)
	assert.True(t, called)
}
