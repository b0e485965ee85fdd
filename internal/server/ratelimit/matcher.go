package ratelimit

import (
	"strings"
)

// MatchEndpoint finds the configuration for a request. Paths are compared
// segment by segment: a {name} segment matches any single segment, and a
// configured path ending in "/" matches everything below it. Exact paths
// win over patterns. Health checks and preflight requests are never limited.
func MatchEndpoint(path string, method string, configs []EndpointConfig) *EndpointConfig {
	if (path == "/health" && method == "GET") || method == "OPTIONS" {
		return &EndpointConfig{}
	}

	var pattern *EndpointConfig
	for i := range configs {
		ec := &configs[i]
		if ec.Method != method {
			continue
		}
		if ec.Path == path {
			return ec
		}
		if pattern == nil && matchSegments(ec.Path, path) {
			pattern = ec
		}
	}
	return pattern
}

func matchSegments(pattern, path string) bool {
	prefix := strings.HasSuffix(pattern, "/")
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")

	if len(got) < len(want) || (!prefix && len(got) != len(want)) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") && got[i] != "" {
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}
