// Package cache keeps acquired subtitle artifacts so a repeat job for the same
// video does not go back to the upstream. L1 is in-process memory with expiry;
// L2 is an optional Redis instance that survives restarts.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonathan/shorts-agent/internal/types"
)

// Defaults for Options
const (
	DefaultTTL        = 6 * time.Hour
	DefaultMaxEntries = 500
)

// Entry is a cached acquisition.
type Entry struct {
	Artifact types.SubtitleArtifact `json:"artifact"`
	Strategy string                 `json:"strategy"`
	Profile  types.LanguageProfile  `json:"profile"`
	StoredAt time.Time              `json:"stored_at"`
}

// Cache stores acquisitions by key.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool)
	Set(ctx context.Context, key string, e Entry)
}

// Key builds the cache key for a video and the parts of the language plan
// that affect which artifact gets selected.
func Key(videoID string, parts ...string) string {
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return fmt.Sprintf("sa:transcript:%s:%x", videoID, hash[:6])
}

// Options configures a Tiered cache.
type Options struct {
	TTL        time.Duration
	MaxEntries int
	// Redis enables the L2 tier when non-nil.
	Redis  *redis.Client
	Logger *slog.Logger
}

type l1Entry struct {
	data      []byte
	expiresAt time.Time
}

// Tiered is an L1 memory + optional L2 Redis cache. It is safe for concurrent use.
type Tiered struct {
	mu         sync.Mutex
	l1         map[string]l1Entry
	rdb        *redis.Client
	ttl        time.Duration
	maxEntries int
	logger     *slog.Logger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Tiered cache.
func New(opts Options) *Tiered {
	c := &Tiered{
		l1:         make(map[string]l1Entry),
		rdb:        opts.Redis,
		ttl:        opts.TTL,
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        time.Now,
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.maxEntries <= 0 {
		c.maxEntries = DefaultMaxEntries
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unreachable at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// SetClock replaces the time source. Used by tests.
func (c *Tiered) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get tries L1, then L2. An L2 hit is copied into L1.
func (c *Tiered) Get(ctx context.Context, key string) (Entry, bool) {
	c.mu.Lock()
	e, ok := c.l1[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.l1, key)
		ok = false
	}
	c.mu.Unlock()

	if ok {
		var out Entry
		if json.Unmarshal(e.data, &out) == nil {
			c.hits.Add(1)
			return out, true
		}
	}

	if c.rdb != nil {
		data, err := c.rdb.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			var out Entry
			if json.Unmarshal(data, &out) == nil {
				c.store(key, data)
				c.hits.Add(1)
				c.logger.Debug("cache: L2 hit", slog.String("key", key))
				return out, true
			}
		case !errors.Is(err, redis.Nil):
			c.logger.Warn("cache: L2 get failed", slog.String("key", key), slog.Any("error", err))
		}
	}

	c.misses.Add(1)
	return Entry{}, false
}

// Set stores e in both tiers.
func (c *Tiered) Set(ctx context.Context, key string, e Entry) {
	if e.StoredAt.IsZero() {
		e.StoredAt = c.clock()
	}
	data, err := json.Marshal(e)
	if err != nil {
		c.logger.Warn("cache: failed to encode entry", slog.String("key", key), slog.Any("error", err))
		return
	}
	c.store(key, data)

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("cache: L2 set failed", slog.String("key", key), slog.Any("error", err))
		}
	}
}

// Stats returns the hit and miss counters.
func (c *Tiered) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of L1 entries, expired ones included.
func (c *Tiered) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.l1)
}

// Cleanup removes expired L1 entries and returns how many were removed.
func (c *Tiered) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.l1 {
		if !now.Before(e.expiresAt) {
			delete(c.l1, k)
			removed++
		}
	}
	return removed
}

// Run calls Cleanup every interval until ctx is done.
func (c *Tiered) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Cleanup(); n > 0 {
				c.logger.Debug("cache: removed expired entries", slog.Int("count", n))
			}
		}
	}
}

func (c *Tiered) clock() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Tiered) store(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.l1[key]; !exists && len(c.l1) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.l1[key] = l1Entry{data: data, expiresAt: now.Add(c.ttl)}
}

// evictLocked drops expired entries, then the entry closest to expiry if the
// map is still full.
func (c *Tiered) evictLocked(now time.Time) {
	for k, e := range c.l1 {
		if !now.Before(e.expiresAt) {
			delete(c.l1, k)
		}
	}
	for len(c.l1) >= c.maxEntries {
		var oldest string
		var at time.Time
		for k, e := range c.l1 {
			if oldest == "" || e.expiresAt.Before(at) {
				oldest, at = k, e.expiresAt
			}
		}
		delete(c.l1, oldest)
	}
}
