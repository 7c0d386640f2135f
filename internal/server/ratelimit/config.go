package ratelimit

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled         bool
	DefaultLimit    int
	DefaultWindow   time.Duration
	CleanupInterval time.Duration
	Whitelist       map[string]bool
	Blacklist       map[string]bool
	EndpointConfigs []EndpointConfig
}

// EndpointConfig limits one route. A Path ending in "/" matches every path
// below it, and all of those paths share one bucket per client.
type EndpointConfig struct {
	Path   string
	Method string
	Limit  int // requests per Window; 0 means unlimited
	Window time.Duration
	Burst  int // defaults to Limit
}

// unlimited routes are never counted.
var unlimited = map[string]bool{
	"GET /health":  true,
	"GET /metrics": true,
}

// LoadConfig reads API_RATE_LIMIT_* environment variables on top of the defaults.
func LoadConfig() *Config {
	if !envValue("API_RATE_LIMIT_ENABLED", true, strconv.ParseBool) {
		return &Config{Enabled: false}
	}

	endpoints := DefaultEndpointConfigs()
	if n := envValue("API_RATE_LIMIT_ACQUIRE_PER_HOUR", 0, strconv.Atoi); n > 0 {
		endpoints[0].Limit = n
		endpoints[0].Burst = min(endpoints[0].Burst, n)
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    envValue("API_RATE_LIMIT_DEFAULT_LIMIT", 1000, strconv.Atoi),
		DefaultWindow:   envValue("API_RATE_LIMIT_DEFAULT_WINDOW", time.Minute, time.ParseDuration),
		CleanupInterval: envValue("API_RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute, time.ParseDuration),
		Whitelist:       parseIPList(os.Getenv("API_RATE_LIMIT_WHITELIST")),
		Blacklist:       parseIPList(os.Getenv("API_RATE_LIMIT_BLACKLIST")),
		EndpointConfigs: endpoints,
	}
}

// DefaultEndpointConfigs returns the per-route limits. The acquire route is first.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		// Every accepted request starts a pipeline run.
		{Path: "/acquire-and-segment", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Path: "/job/", Method: "DELETE", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/job/", Method: "GET", Limit: 600, Window: time.Minute, Burst: 60},
	}
}

// MatchEndpoint returns the configuration for a request, or nil when only
// the default limit applies. Exact paths win over prefixes, and longer
// prefixes win over shorter ones.
func MatchEndpoint(path, method string, configs []EndpointConfig) *EndpointConfig {
	if unlimited[method+" "+path] {
		return &EndpointConfig{Path: path, Method: method}
	}

	var prefixes []*EndpointConfig
	for i := range configs {
		c := &configs[i]
		if c.Method != method {
			continue
		}
		if c.Path == path {
			return c
		}
		if strings.HasSuffix(c.Path, "/") && strings.HasPrefix(path, c.Path) {
			prefixes = append(prefixes, c)
		}
	}
	if len(prefixes) == 0 {
		return nil
	}
	sort.SliceStable(prefixes, func(i, j int) bool {
		return len(prefixes[i].Path) > len(prefixes[j].Path)
	})
	return prefixes[0]
}

func envValue[T any](key string, def T, parse func(string) (T, error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func parseIPList(list string) map[string]bool {
	out := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			out[ip] = true
		}
	}
	return out
}
