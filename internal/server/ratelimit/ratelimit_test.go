package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T, cfg *Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	l := NewLimiter(cfg)
	l.SetClock(clock.Now)
	t.Cleanup(l.Stop)
	return l, clock
}

func TestLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
	})

	for i := 0; i < 10; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 10, info.Limit)
		assert.Equal(t, 9-i, info.Remaining)
	}

	allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 0, info.Remaining)
	assert.InDelta(t, float64(6*time.Second), float64(info.RetryAfter), float64(time.Millisecond))
	assert.True(t, info.ResetTime.After(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)))
}

func TestLimiter_Refill(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: 2 * time.Second,
	})

	for i := 0; i < 2; i++ {
		allowed, _ := limiter.Allow("c", "/test", "GET")
		require.True(t, allowed)
	}
	allowed, _ := limiter.Allow("c", "/test", "GET")
	require.False(t, allowed)

	clock.Advance(time.Second)
	allowed, _ = limiter.Allow("c", "/test", "GET")
	assert.True(t, allowed)
	allowed, _ = limiter.Allow("c", "/test", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Whitelist(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1,
		DefaultWindow: time.Minute,
		Whitelist:     map[string]bool{"127.0.0.1": true},
	})

	for i := 0; i < 100; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
		require.True(t, allowed)
		assert.Equal(t, 0, info.Limit)
	}
}

func TestLimiter_Blacklist(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		Blacklist:     map[string]bool{"192.168.1.1": true},
	})

	allowed, _ := limiter.Allow("192.168.1.1", "/test", "GET")
	assert.False(t, allowed)
}

func TestLimiter_Disabled(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{Enabled: false})

	for i := 0; i < 100; i++ {
		allowed, info := limiter.Allow("127.0.0.1", "/test", "GET")
		require.True(t, allowed)
		assert.Equal(t, 0, info.Limit)
	}
}

func TestLimiter_EndpointSpecific(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  1000,
		DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/acquire-and-segment", Method: "POST", Limit: 5, Window: time.Hour, Burst: 5},
		},
	})

	for i := 0; i < 5; i++ {
		allowed, info := limiter.Allow("c", "/acquire-and-segment", "POST")
		require.True(t, allowed, "request %d", i+1)
		assert.Equal(t, 5, info.Limit)
	}
	allowed, _ := limiter.Allow("c", "/acquire-and-segment", "POST")
	assert.False(t, allowed)

	// Other endpoints and other clients have their own buckets.
	allowed, info := limiter.Allow("c", "/strategies", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
	allowed, _ = limiter.Allow("other", "/acquire-and-segment", "POST")
	assert.True(t, allowed)
}

func TestLimiter_PrefixSharesBucket(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:      true,
		DefaultLimit: 1000, DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/job/", Method: "GET", Limit: 2, Window: time.Minute, Burst: 2},
		},
	})

	allowed, _ := limiter.Allow("c", "/job/a", "GET")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("c", "/job/b", "GET")
	require.True(t, allowed)
	allowed, _ = limiter.Allow("c", "/job/c", "GET")
	assert.False(t, allowed)
	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_Burst(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:      true,
		DefaultLimit: 1000, DefaultWindow: time.Minute,
		EndpointConfigs: []EndpointConfig{
			{Path: "/acquire-and-segment", Method: "POST", Limit: 30, Window: time.Hour, Burst: 2},
		},
	})

	allowed, info := limiter.Allow("c", "/acquire-and-segment", "POST")
	require.True(t, allowed)
	assert.Equal(t, 30, info.Limit)
	assert.Equal(t, 1, info.Remaining)
	allowed, _ = limiter.Allow("c", "/acquire-and-segment", "POST")
	require.True(t, allowed)
	allowed, info = limiter.Allow("c", "/acquire-and-segment", "POST")
	assert.False(t, allowed)
	// One token per two minutes.
	assert.InDelta(t, float64(2*time.Minute), float64(info.RetryAfter), float64(time.Millisecond))
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter, _ := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  100,
		DefaultWindow: time.Hour,
	})

	var allowedCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				if ok, _ := limiter.Allow("c", "/test", "GET"); ok {
					allowedCount.Add(1)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(100), allowedCount.Load())
}

func TestLimiter_Sweep(t *testing.T) {
	limiter, clock := newTestLimiter(t, &Config{
		Enabled:       true,
		DefaultLimit:  10,
		DefaultWindow: time.Minute,
	})

	limiter.Allow("old", "/test", "GET")
	clock.Advance(IdleTTL - time.Minute)
	limiter.Allow("recent", "/test", "GET")
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, limiter.Sweep())
	assert.Equal(t, 1, limiter.Len())
}

func TestLimiter_StopTwice(t *testing.T) {
	limiter := NewLimiter(&Config{Enabled: true, DefaultLimit: 1, DefaultWindow: time.Second, CleanupInterval: time.Minute})
	limiter.Stop()
	assert.NotPanics(t, limiter.Stop)
}

func TestNewLimiter_NilConfig(t *testing.T) {
	limiter := NewLimiter(nil)
	defer limiter.Stop()

	allowed, info := limiter.Allow("c", "/test", "GET")
	assert.True(t, allowed)
	assert.Equal(t, 1000, info.Limit)
}

func TestMatchEndpoint(t *testing.T) {
	configs := DefaultEndpointConfigs()
	tests := []struct {
		name      string
		path      string
		method    string
		wantPath  string
		wantLimit int
		wantNil   bool
	}{
		{"health unlimited", "/health", "GET", "/health", 0, false},
		{"metrics unlimited", "/metrics", "GET", "/metrics", 0, false},
		{"acquire exact", "/acquire-and-segment", "POST", "/acquire-and-segment", 30, false},
		{"job poll prefix", "/job/abc", "GET", "/job/", 600, false},
		{"job cancel prefix", "/job/abc", "DELETE", "/job/", 60, false},
		{"wrong method", "/acquire-and-segment", "GET", "", 0, true},
		{"unknown", "/strategies", "GET", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchEndpoint(tt.path, tt.method, configs)
			if tt.wantNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantPath, got.Path)
			assert.Equal(t, tt.wantLimit, got.Limit)
		})
	}
}

func TestMatchEndpoint_LongestPrefixWins(t *testing.T) {
	configs := []EndpointConfig{
		{Path: "/job/", Method: "GET", Limit: 10, Window: time.Minute},
		{Path: "/job/x/", Method: "GET", Limit: 5, Window: time.Minute},
	}
	got := MatchEndpoint("/job/x/events", "GET", configs)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.Limit)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("API_RATE_LIMIT_DEFAULT_LIMIT", "50")
	t.Setenv("API_RATE_LIMIT_WHITELIST", "10.0.0.1, 10.0.0.2")
	t.Setenv("API_RATE_LIMIT_ACQUIRE_PER_HOUR", "3")
	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 50, cfg.DefaultLimit)
	assert.Equal(t, time.Minute, cfg.DefaultWindow)
	assert.True(t, cfg.Whitelist["10.0.0.2"])
	require.NotEmpty(t, cfg.EndpointConfigs)
	assert.Equal(t, 3, cfg.EndpointConfigs[0].Limit)
	assert.Equal(t, 3, cfg.EndpointConfigs[0].Burst)

	t.Setenv("API_RATE_LIMIT_DEFAULT_LIMIT", "lots")
	assert.Equal(t, 1000, LoadConfig().DefaultLimit)

	t.Setenv("API_RATE_LIMIT_ENABLED", "false")
	assert.False(t, LoadConfig().Enabled)
}
