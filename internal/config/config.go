// Package config provides configuration loading and validation for the CLI
// and the HTTP server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/shorts-agent/internal/cooldown"
	"github.com/jonathan/shorts-agent/internal/planner"
)

// Duration is a time.Duration that reads "10m" style strings from JSON.
// Plain numbers are taken as seconds.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", string(b))
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration {
	return time.Duration(d)
}

// Config represents the service configuration that can be loaded from a JSON
// file. All fields are optional; missing values use defaults and environment
// variables override the file.
type Config struct {
	// Extraction policy
	AttemptCeiling     int      `json:"attempt_ceiling,omitempty" validate:"gte=0,lte=100"`
	AttemptWindow      Duration `json:"attempt_window,omitempty" validate:"gte=0"`
	RateLimitCooldown  Duration `json:"rate_limit_cooldown,omitempty" validate:"gte=0"`
	GlobalCooldown     Duration `json:"global_cooldown,omitempty" validate:"gte=0"`
	ProbeTimeout       Duration `json:"probe_timeout,omitempty" validate:"gte=0"`
	YTDLPPath          string   `json:"ytdlp_path,omitempty"`
	CookiesPath        string   `json:"cookies_path,omitempty"`
	CookiesMaxAge      Duration `json:"cookies_max_age,omitempty" validate:"gte=0"`
	CatalogPath        string   `json:"catalog_path,omitempty"`
	DisabledStrategies []string `json:"disabled_strategies,omitempty" validate:"dive,min=1"`
	MajorityLanguage   string   `json:"majority_language,omitempty" validate:"omitempty,min=2,max=8"`
	MinorityLanguage   string   `json:"minority_language,omitempty" validate:"omitempty,min=2,max=8"`

	// Segment planning
	MinDuration    Duration `json:"min_duration,omitempty" validate:"gte=0"`
	MaxDuration    Duration `json:"max_duration,omitempty" validate:"gte=0"`
	GracePeriod    Duration `json:"grace_period,omitempty" validate:"gte=0"`
	TargetSegments int      `json:"target_segments,omitempty" validate:"gte=0,lte=100"`
	ChunkMaxChars  int      `json:"chunk_max_chars,omitempty" validate:"gte=0"`
	AIRequestDelay Duration `json:"ai_request_delay,omitempty" validate:"gte=0"`
	AIRetryBuffer  Duration `json:"ai_retry_buffer,omitempty" validate:"gte=0"`
	AIDefaultWait  Duration `json:"ai_default_wait,omitempty" validate:"gte=0"`
	AIMaxRetries   int      `json:"ai_max_retries,omitempty" validate:"gte=0,lte=20"`
	GeminiAPIKey   string   `json:"gemini_api_key,omitempty"`

	// Jobs and storage
	MaxConcurrentJobs  int      `json:"max_concurrent_jobs,omitempty" validate:"gte=0,lte=64"`
	JobRetention       Duration `json:"job_retention,omitempty" validate:"gte=0"`
	DatabaseURL        string   `json:"database_url,omitempty"`
	RedisURL           string   `json:"redis_url,omitempty"`
	TranscriptCacheTTL Duration `json:"transcript_cache_ttl,omitempty" validate:"gte=0"`

	// Process
	Port      int    `json:"port,omitempty" validate:"gte=0,lte=65535"`
	LogLevel  string `json:"log_level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format,omitempty" validate:"omitempty,oneof=text json"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	cd := cooldown.DefaultConfig()
	pl := planner.DefaultConfig()
	return Config{
		AttemptCeiling:     cd.AttemptCeiling,
		AttemptWindow:      Duration(cd.Window),
		RateLimitCooldown:  Duration(cd.VideoCooldown),
		GlobalCooldown:     Duration(15 * time.Minute),
		ProbeTimeout:       Duration(20 * time.Second),
		YTDLPPath:          "yt-dlp",
		CookiesMaxAge:      Duration(720 * time.Hour),
		MajorityLanguage:   "en",
		MinorityLanguage:   "id",
		MinDuration:        Duration(pl.MinDuration),
		MaxDuration:        Duration(pl.MaxDuration),
		GracePeriod:        Duration(pl.GracePeriod),
		TargetSegments:     pl.TargetSegments,
		ChunkMaxChars:      pl.ChunkMaxChars,
		AIRequestDelay:     Duration(pl.RequestDelay),
		AIRetryBuffer:      Duration(pl.RetryBuffer),
		AIDefaultWait:      Duration(pl.DefaultWait),
		AIMaxRetries:       pl.MaxRetries,
		MaxConcurrentJobs:  2,
		JobRetention:       Duration(24 * time.Hour),
		TranscriptCacheTTL: Duration(6 * time.Hour),
		Port:               8080,
		LogLevel:           "info",
		LogFormat:          "text",
	}
}

// Load reads the optional config file at path, applies environment overrides,
// fills the remaining fields from Defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		cfg, err = LoadConfig(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	merged := cfg.MergeWithDefaults(Defaults())
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &merged, nil
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks field ranges and cross-field constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.MinDuration > 0 && c.MaxDuration > 0 && c.MinDuration > c.MaxDuration {
		return fmt.Errorf("config error: 'min_duration' (%s) exceeds 'max_duration' (%s)", c.MinDuration.D(), c.MaxDuration.D())
	}
	if c.MajorityLanguage != "" && strings.EqualFold(c.MajorityLanguage, c.MinorityLanguage) {
		return fmt.Errorf("config error: 'majority_language' and 'minority_language' must differ")
	}
	if c.CatalogPath != "" {
		if _, err := os.Stat(c.CatalogPath); os.IsNotExist(err) {
			return fmt.Errorf("config error: catalog file not found: %s", c.CatalogPath)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with zero fields filled from defaults.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	mergeString(&result.YTDLPPath, defaults.YTDLPPath)
	mergeString(&result.CookiesPath, defaults.CookiesPath)
	mergeString(&result.CatalogPath, defaults.CatalogPath)
	mergeString(&result.MajorityLanguage, defaults.MajorityLanguage)
	mergeString(&result.MinorityLanguage, defaults.MinorityLanguage)
	mergeString(&result.GeminiAPIKey, defaults.GeminiAPIKey)
	mergeString(&result.DatabaseURL, defaults.DatabaseURL)
	mergeString(&result.RedisURL, defaults.RedisURL)
	mergeString(&result.LogLevel, defaults.LogLevel)
	mergeString(&result.LogFormat, defaults.LogFormat)

	// Int fields: use default if zero
	mergeInt(&result.AttemptCeiling, defaults.AttemptCeiling)
	mergeInt(&result.TargetSegments, defaults.TargetSegments)
	mergeInt(&result.ChunkMaxChars, defaults.ChunkMaxChars)
	mergeInt(&result.AIMaxRetries, defaults.AIMaxRetries)
	mergeInt(&result.MaxConcurrentJobs, defaults.MaxConcurrentJobs)
	mergeInt(&result.Port, defaults.Port)

	// Duration fields
	mergeDuration(&result.AttemptWindow, defaults.AttemptWindow)
	mergeDuration(&result.RateLimitCooldown, defaults.RateLimitCooldown)
	mergeDuration(&result.GlobalCooldown, defaults.GlobalCooldown)
	mergeDuration(&result.ProbeTimeout, defaults.ProbeTimeout)
	mergeDuration(&result.CookiesMaxAge, defaults.CookiesMaxAge)
	mergeDuration(&result.MinDuration, defaults.MinDuration)
	mergeDuration(&result.MaxDuration, defaults.MaxDuration)
	mergeDuration(&result.GracePeriod, defaults.GracePeriod)
	mergeDuration(&result.AIRequestDelay, defaults.AIRequestDelay)
	mergeDuration(&result.AIRetryBuffer, defaults.AIRetryBuffer)
	mergeDuration(&result.AIDefaultWait, defaults.AIDefaultWait)
	mergeDuration(&result.JobRetention, defaults.JobRetention)
	mergeDuration(&result.TranscriptCacheTTL, defaults.TranscriptCacheTTL)

	if len(result.DisabledStrategies) == 0 {
		result.DisabledStrategies = defaults.DisabledStrategies
	}

	return result
}

// CooldownConfig returns the attempt-limiting policy.
func (c *Config) CooldownConfig() cooldown.Config {
	return cooldown.Config{
		AttemptCeiling: c.AttemptCeiling,
		Window:         c.AttemptWindow.D(),
		VideoCooldown:  c.RateLimitCooldown.D(),
	}
}

// PlannerConfig returns the segment policy and model pacing.
func (c *Config) PlannerConfig() planner.Config {
	return planner.Config{
		MinDuration:    c.MinDuration.D(),
		MaxDuration:    c.MaxDuration.D(),
		GracePeriod:    c.GracePeriod.D(),
		TargetSegments: c.TargetSegments,
		ChunkMaxChars:  c.ChunkMaxChars,
		RequestDelay:   c.AIRequestDelay.D(),
		RetryBuffer:    c.AIRetryBuffer.D(),
		DefaultWait:    c.AIDefaultWait.D(),
		MaxRetries:     c.AIMaxRetries,
		MaxOverlap:     planner.DefaultMaxOverlap,
	}
}

func mergeString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

func mergeInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func mergeDuration(dst *Duration, def Duration) {
	if *dst == 0 {
		*dst = def
	}
}
