package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv overrides fields with the environment variables that are set.
// Variable names are the upper-case JSON keys (ATTEMPT_CEILING, REDIS_URL, ...).
// Unparseable values are ignored.
func (c *Config) ApplyEnv() {
	c.AttemptCeiling = getEnvInt("ATTEMPT_CEILING", c.AttemptCeiling)
	c.AttemptWindow = Duration(getEnvDuration("ATTEMPT_WINDOW", c.AttemptWindow.D()))
	c.RateLimitCooldown = Duration(getEnvDuration("RATE_LIMIT_COOLDOWN", c.RateLimitCooldown.D()))
	c.GlobalCooldown = Duration(getEnvDuration("GLOBAL_COOLDOWN", c.GlobalCooldown.D()))
	c.ProbeTimeout = Duration(getEnvDuration("PROBE_TIMEOUT", c.ProbeTimeout.D()))
	c.YTDLPPath = getEnvString("YTDLP_PATH", c.YTDLPPath)
	c.CookiesPath = getEnvString("COOKIES_PATH", c.CookiesPath)
	c.CookiesMaxAge = Duration(getEnvDuration("COOKIES_MAX_AGE", c.CookiesMaxAge.D()))
	c.CatalogPath = getEnvString("CATALOG_PATH", c.CatalogPath)
	if v := getEnvString("DISABLED_STRATEGIES", ""); v != "" {
		c.DisabledStrategies = parseList(v)
	}
	c.MajorityLanguage = getEnvString("MAJORITY_LANGUAGE", c.MajorityLanguage)
	c.MinorityLanguage = getEnvString("MINORITY_LANGUAGE", c.MinorityLanguage)

	c.MinDuration = Duration(getEnvDuration("MIN_DURATION", c.MinDuration.D()))
	c.MaxDuration = Duration(getEnvDuration("MAX_DURATION", c.MaxDuration.D()))
	c.GracePeriod = Duration(getEnvDuration("GRACE_PERIOD", c.GracePeriod.D()))
	c.TargetSegments = getEnvInt("TARGET_SEGMENTS", c.TargetSegments)
	c.ChunkMaxChars = getEnvInt("CHUNK_MAX_CHARS", c.ChunkMaxChars)
	c.AIRequestDelay = Duration(getEnvDuration("AI_REQUEST_DELAY", c.AIRequestDelay.D()))
	c.AIRetryBuffer = Duration(getEnvDuration("AI_RETRY_BUFFER", c.AIRetryBuffer.D()))
	c.AIDefaultWait = Duration(getEnvDuration("AI_DEFAULT_WAIT", c.AIDefaultWait.D()))
	c.AIMaxRetries = getEnvInt("AI_MAX_RETRIES", c.AIMaxRetries)
	c.GeminiAPIKey = getEnvString("GEMINI_API_KEY", c.GeminiAPIKey)

	c.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs)
	c.JobRetention = Duration(getEnvDuration("JOB_RETENTION", c.JobRetention.D()))
	c.DatabaseURL = getEnvString("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getEnvString("REDIS_URL", c.RedisURL)
	c.TranscriptCacheTTL = Duration(getEnvDuration("TRANSCRIPT_CACHE_TTL", c.TranscriptCacheTTL.D()))

	c.Port = getEnvInt("PORT", c.Port)
	c.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(getEnvString("LOG_FORMAT", c.LogFormat))
}

// getEnvString gets an environment variable as a string with a default value.
func getEnvString(key string, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as an integer with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as a duration with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseList splits a comma-separated list, dropping empty items.
func parseList(list string) []string {
	var out []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
