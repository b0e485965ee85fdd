package ratelimit

import (
	"time"
)

// EndpointConfig represents rate limiting configuration for a specific endpoint.
type EndpointConfig struct {
	Path   string        // Exact path, {name} segments, or a "/"-terminated prefix
	Method string        // HTTP method (GET, POST, etc.)
	Limit  int           // Maximum requests per window
	Window time.Duration // Time window
	Burst  int           // Burst capacity (defaults to Limit if 0)
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	IdleTimeout     time.Duration // Limiters unused for this long are dropped
	Whitelist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// NewConfig builds the server configuration. Analysis endpoints, which each
// start a model call, get perMinute requests with the given burst; every
// other endpoint shares a lenient default. A perMinute of zero disables
// rate limiting.
func NewConfig(perMinute, burst int) *Config {
	if perMinute <= 0 {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    600,
		DefaultWindow:   time.Minute,
		CleanupInterval: 5 * time.Minute,
		IdleTimeout:     time.Hour,
		Whitelist:       make(map[string]bool),
		EndpointConfigs: AnalysisEndpointConfigs(perMinute, burst),
	}
}

// AnalysisEndpointConfigs returns the limits for endpoints that call the model.
func AnalysisEndpointConfigs(perMinute, burst int) []EndpointConfig {
	return []EndpointConfig{
		{Path: "/analyze", Method: "POST", Limit: perMinute, Window: time.Minute, Burst: burst},
		{Path: "/analyze/stream", Method: "POST", Limit: perMinute, Window: time.Minute, Burst: burst},
		{Path: "/chat", Method: "POST", Limit: perMinute * 3, Window: time.Minute, Burst: burst * 3},
	}
}
