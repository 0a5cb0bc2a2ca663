package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/haricheung/thor-planner/internal/types"
)

// Config is the process configuration, read from the environment.
type Config struct {
	Host    string `envconfig:"HOST" default:"0.0.0.0"`
	Port    int    `envconfig:"PORT" default:"9009"`
	CardURL string `envconfig:"CARD_URL"`

	APIKey       string `envconfig:"OPENROUTER_API_KEY"`
	LegacyAPIKey string `envconfig:"API_KEY"`
	Model        string `envconfig:"OPENROUTER_MODEL" default:"deepseek/deepseek-chat"`
	BaseURL      string `envconfig:"OPENROUTER_BASE_URL" default:"https://openrouter.ai/api/v1"`

	Temperature    float32       `envconfig:"PLANNER_TEMPERATURE" default:"0.5"`
	MaxTokens      int           `envconfig:"PLANNER_MAX_TOKENS" default:"1024"`
	AttemptTimeout time.Duration `envconfig:"PLANNER_ATTEMPT_TIMEOUT" default:"60s"`
	MaxRetries     int           `envconfig:"PLANNER_MAX_RETRIES" default:"2"`
	RetryDelay     time.Duration `envconfig:"PLANNER_RETRY_DELAY" default:"500ms"`

	PipelineTimeout  time.Duration `envconfig:"PIPELINE_TIMEOUT" default:"180s"`
	BatchConcurrency int           `envconfig:"BATCH_CONCURRENCY" default:"4"`
	AuditLog         string        `envconfig:"AUDIT_LOG"`

	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`
}

// LoadDotEnv loads an optional .env file from the working directory. A
// missing file is not an error; existing environment variables win.
func LoadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &types.ConfigurationError{Field: ".env", Reason: err.Error()}
	}
	return nil
}

// Load reads the environment into a Config and validates it.
//
// Expectations:
//   - Defaults apply for every unset variable except the credential
//   - OPENROUTER_API_KEY wins over API_KEY; either satisfies the credential
//   - Missing credential → *types.ConfigurationError{Field: "OPENROUTER_API_KEY"}
//   - Unparseable values → *types.ConfigurationError naming the variable
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		var perr *envconfig.ParseError
		if errors.As(err, &perr) {
			return nil, &types.ConfigurationError{Field: perr.KeyName, Reason: fmt.Sprintf("cannot parse %q as %s", perr.Value, perr.TypeName)}
		}
		return nil, &types.ConfigurationError{Field: "env", Reason: err.Error()}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Credential returns the provider API key, honouring the API_KEY fallback.
func (c *Config) Credential() string {
	if k := strings.TrimSpace(c.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(c.LegacyAPIKey)
}

// Validate checks the values that would otherwise fail only on the first
// request. Call it again after applying flag overrides.
func (c *Config) Validate() error {
	switch {
	case c.Credential() == "":
		return &types.ConfigurationError{Field: "OPENROUTER_API_KEY", Reason: "provider credential is required (or set API_KEY)"}
	case strings.TrimSpace(c.Model) == "":
		return &types.ConfigurationError{Field: "OPENROUTER_MODEL", Reason: "model identifier is required"}
	case strings.TrimSpace(c.BaseURL) == "":
		return &types.ConfigurationError{Field: "OPENROUTER_BASE_URL", Reason: "base URL is required"}
	case c.Port <= 0 || c.Port > 65535:
		return &types.ConfigurationError{Field: "PORT", Reason: fmt.Sprintf("%d is not a valid port", c.Port)}
	case c.AttemptTimeout <= 0:
		return &types.ConfigurationError{Field: "PLANNER_ATTEMPT_TIMEOUT", Reason: "must be positive"}
	case c.MaxRetries < 0:
		return &types.ConfigurationError{Field: "PLANNER_MAX_RETRIES", Reason: "must not be negative"}
	case c.RetryDelay < 0:
		return &types.ConfigurationError{Field: "PLANNER_RETRY_DELAY", Reason: "must not be negative"}
	case c.PipelineTimeout <= 0:
		return &types.ConfigurationError{Field: "PIPELINE_TIMEOUT", Reason: "must be positive"}
	case c.MaxTokens <= 0:
		return &types.ConfigurationError{Field: "PLANNER_MAX_TOKENS", Reason: "must be positive"}
	case c.BatchConcurrency <= 0:
		return &types.ConfigurationError{Field: "BATCH_CONCURRENCY", Reason: "must be positive"}
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AdvertisedURL is the URL published in the agent card.
func (c *Config) AdvertisedURL() string {
	if c.CardURL != "" {
		return c.CardURL
	}
	return "http://" + c.Addr() + "/"
}

// Fields renders the configuration for a startup log line, without secrets.
func (c *Config) Fields() []zap.Field {
	return []zap.Field{
		zap.String("addr", c.Addr()),
		zap.String("card_url", c.AdvertisedURL()),
		zap.String("model", c.Model),
		zap.String("base_url", c.BaseURL),
		zap.Float32("temperature", c.Temperature),
		zap.Int("max_tokens", c.MaxTokens),
		zap.Duration("attempt_timeout", c.AttemptTimeout),
		zap.Int("max_retries", c.MaxRetries),
		zap.Duration("retry_delay", c.RetryDelay),
		zap.Duration("pipeline_timeout", c.PipelineTimeout),
		zap.Int("batch_concurrency", c.BatchConcurrency),
		zap.Bool("api_key_set", c.Credential() != ""),
	}
}
