package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haricheung/thor-planner/internal/types"
)

func requireConfigError(t *testing.T, err error, field string) {
	t.Helper()
	var ce *types.ConfigurationError
	require.True(t, errors.As(err, &ce), "expected *ConfigurationError, got %v", err)
	assert.Equal(t, field, ce.Field)
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENROUTER_API_KEY", "API_KEY", "PORT", "PLANNER_MAX_RETRIES", "PIPELINE_TIMEOUT", "CARD_URL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 9009, cfg.Port)
	assert.Equal(t, "deepseek/deepseek-chat", cfg.Model)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.BaseURL)
	assert.Equal(t, float32(0.5), cfg.Temperature)
	assert.Equal(t, 1024, cfg.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.AttemptTimeout)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 180*time.Second, cfg.PipelineTimeout)
	assert.Equal(t, 4, cfg.BatchConcurrency)
	assert.Equal(t, "http://0.0.0.0:9009/", cfg.AdvertisedURL())
}

func TestLoad_MissingCredential(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	requireConfigError(t, err, "OPENROUTER_API_KEY")
}

func TestLoad_APIKeyFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("API_KEY", "sk-legacy")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy", cfg.Credential())

	t.Setenv("OPENROUTER_API_KEY", "sk-primary")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-primary", cfg.Credential())
}

func TestLoad_UnparseableValue(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("PIPELINE_TIMEOUT", "soon")
	_, err := Load()
	requireConfigError(t, err, "PIPELINE_TIMEOUT")
}

func TestValidate_RejectsBadBounds(t *testing.T) {
	base := func() Config {
		return Config{
			APIKey: "k", Model: "m", BaseURL: "u", Port: 9009,
			AttemptTimeout: time.Second, PipelineTimeout: time.Second,
			MaxTokens: 1, BatchConcurrency: 1,
		}
	}
	require.NoError(t, func() error { c := base(); return c.Validate() }())

	cases := map[string]func(*Config){
		"PLANNER_MAX_RETRIES":     func(c *Config) { c.MaxRetries = -1 },
		"PLANNER_ATTEMPT_TIMEOUT": func(c *Config) { c.AttemptTimeout = 0 },
		"PIPELINE_TIMEOUT":        func(c *Config) { c.PipelineTimeout = -time.Second },
		"PORT":                    func(c *Config) { c.Port = 70000 },
		"OPENROUTER_MODEL":        func(c *Config) { c.Model = " " },
		"BATCH_CONCURRENCY":       func(c *Config) { c.BatchConcurrency = 0 },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			c := base()
			mutate(&c)
			requireConfigError(t, c.Validate(), field)
		})
	}
}

func TestAdvertisedURL_PrefersCardURL(t *testing.T) {
	c := Config{Host: "127.0.0.1", Port: 8080, CardURL: "https://planner.example.com/"}
	assert.Equal(t, "https://planner.example.com/", c.AdvertisedURL())
	c.CardURL = ""
	assert.Equal(t, "http://127.0.0.1:8080/", c.AdvertisedURL())
}

func TestLoadDotEnv(t *testing.T) {
	// Missing file is fine
	require.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("THOR_DOTENV_PROBE=loaded\n"), 0o600))
	t.Setenv("THOR_DOTENV_PROBE", "")
	os.Unsetenv("THOR_DOTENV_PROBE")
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("THOR_DOTENV_PROBE"))
}
