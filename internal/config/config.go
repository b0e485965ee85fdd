// Package config provides configuration loading and validation for the
// server and CLI. Values come from defaults, an optional JSON or YAML file,
// and FLEET_-prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "FLEET"

// Models overrides the provider's default model per tier
type Models struct {
	Lite     string `mapstructure:"lite" json:"lite,omitempty"`
	Standard string `mapstructure:"standard" json:"standard,omitempty"`
	Advanced string `mapstructure:"advanced" json:"advanced,omitempty"`
}

// Config represents the runtime configuration
type Config struct {
	Port        int    `mapstructure:"port" json:"port"`
	DatabaseURL string `mapstructure:"database_url" json:"database_url,omitempty"` // PostgreSQL connection URL; empty uses the in-memory store
	Verbose     bool   `mapstructure:"verbose" json:"verbose,omitempty"`

	// Model provider
	Provider string `mapstructure:"provider" json:"provider"`
	APIKey   string `mapstructure:"api_key" json:"-"`
	Models   Models `mapstructure:"models" json:"models"`

	// Stage budgets
	InferenceTimeout time.Duration `mapstructure:"inference_timeout" json:"inference_timeout"`
	ChatTimeout      time.Duration `mapstructure:"chat_timeout" json:"chat_timeout"`
	MinChunk         int           `mapstructure:"min_chunk" json:"min_chunk"`
	PreviewRows      int           `mapstructure:"preview_rows" json:"preview_rows"`

	// Transport
	QueueSize    int           `mapstructure:"queue_size" json:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" json:"drain_timeout"`

	DispatchConcurrency int `mapstructure:"dispatch_concurrency" json:"dispatch_concurrency"`

	// Rate limiting of the analyze endpoints, per client
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst" json:"rate_limit_burst"`

	AllowedOrigin string `mapstructure:"allowed_origin" json:"allowed_origin"`
}

var defaults = map[string]any{
	"port":                  8080,
	"database_url":          "",
	"verbose":               false,
	"provider":              string(llm.ProviderGemini),
	"api_key":               "",
	"models.lite":           "",
	"models.standard":       "",
	"models.advanced":       "",
	"inference_timeout":     "60s",
	"chat_timeout":          "30s",
	"min_chunk":             40,
	"preview_rows":          50,
	"queue_size":            1024,
	"write_timeout":         "10s",
	"drain_timeout":         "15s",
	"dispatch_concurrency":  4,
	"rate_limit_per_minute": 10,
	"rate_limit_burst":      5,
	"allowed_origin":        "*",
}

// providerKeyEnv is consulted when no api_key is configured
var providerKeyEnv = map[llm.Provider]string{
	llm.ProviderGemini:    "GEMINI_API_KEY",
	llm.ProviderOpenAI:    "OPENAI_API_KEY",
	llm.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Load reads configuration from path (optional) and the environment.
// An empty path loads defaults and environment only; a path that does not
// exist is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("database_url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(providerKeyEnv[llm.Provider(cfg.Provider)])
	}
	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// The API key is not required here since only model-backed commands need it.
func (c *Config) Validate() error {
	if _, ok := providerKeyEnv[llm.Provider(c.Provider)]; !ok {
		return fmt.Errorf("config error: unknown provider %q", c.Provider)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535")
	}

	durations := map[string]time.Duration{
		"inference_timeout": c.InferenceTimeout,
		"chat_timeout":      c.ChatTimeout,
		"write_timeout":     c.WriteTimeout,
		"drain_timeout":     c.DrainTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", name)
		}
	}

	positives := map[string]int{
		"min_chunk":            c.MinChunk,
		"preview_rows":         c.PreviewRows,
		"queue_size":           c.QueueSize,
		"dispatch_concurrency": c.DispatchConcurrency,
	}
	for name, n := range positives {
		if n <= 0 {
			return fmt.Errorf("config error: '%s' must be positive", name)
		}
	}

	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("config error: rate limits must be non-negative")
	}
	return nil
}

// RequireAPIKey reports a missing model API key
func (c *Config) RequireAPIKey() error {
	if c.APIKey != "" {
		return nil
	}
	return fmt.Errorf("config error: no API key for provider %s (set %s_API_KEY or %s)",
		c.Provider, EnvPrefix, providerKeyEnv[llm.Provider(c.Provider)])
}

// LLMConfig returns the provider defaults with any per-tier overrides applied
func (c *Config) LLMConfig() *llm.Config {
	cfg := llm.ConfigFor(llm.Provider(c.Provider))
	overrides := map[llm.ModelTier]string{
		llm.TierLite:     c.Models.Lite,
		llm.TierStandard: c.Models.Standard,
		llm.TierAdvanced: c.Models.Advanced,
	}
	for tier, model := range overrides {
		if model != "" {
			cfg = cfg.WithModel(tier, model)
		}
	}
	return cfg
}
