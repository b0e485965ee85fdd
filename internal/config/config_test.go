package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
)

// clearEnv unsets variables that would otherwise leak into Load
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "PORT", "GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
		"FLEET_PORT", "FLEET_PROVIDER", "FLEET_API_KEY", "FLEET_DATABASE_URL", "FLEET_MODELS_STANDARD",
	} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "gemini", cfg.Provider)
	assert.Equal(t, 60*time.Second, cfg.InferenceTimeout)
	assert.Equal(t, 30*time.Second, cfg.ChatTimeout)
	assert.Equal(t, 40, cfg.MinChunk)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, 4, cfg.DispatchConcurrency)
	assert.Empty(t, cfg.DatabaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	clearEnv(t)

	content := `
provider: OpenAI
port: 9000
inference_timeout: 2m
models:
  standard: gpt-custom
`
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	t.Setenv("FLEET_PORT", "9100")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 9100, cfg.Port, "environment wins over the file")
	assert.Equal(t, 2*time.Minute, cfg.InferenceTimeout)
	assert.Equal(t, "sk-test", cfg.APIKey, "provider key falls back to the provider variable")

	llmCfg := cfg.LLMConfig()
	assert.Equal(t, llm.ProviderOpenAI, llmCfg.Provider)
	assert.Equal(t, "gpt-custom", llmCfg.GetModel(llm.TierStandard))
	assert.Equal(t, "gpt-4o-mini", llmCfg.GetModel(llm.TierLite))
}

func TestLoad_JSONFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "fleet.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"api_key": "k", "queue_size": 8}`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.APIKey)
	assert.Equal(t, 8, cfg.QueueSize)
	assert.NoError(t, cfg.RequireAPIKey())
}

func TestLoad_DatabaseURLFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/fleet")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/fleet", cfg.DatabaseURL)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := Load("/nonexistent/path/fleet.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{ invalid json }`), 0644))
	_, err = Load(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown provider", func(c *Config) { c.Provider = "llama" }, "unknown provider"},
		{"bad port", func(c *Config) { c.Port = 0 }, "'port'"},
		{"zero timeout", func(c *Config) { c.ChatTimeout = 0 }, "'chat_timeout' must be positive"},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, "'queue_size' must be positive"},
		{"negative rate", func(c *Config) { c.RateLimitBurst = -1 }, "rate limits"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRequireAPIKey(t *testing.T) {
	cfg := &Config{Provider: "anthropic"}
	err := cfg.RequireAPIKey()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}
