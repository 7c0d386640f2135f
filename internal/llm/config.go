// Package llm provides the model configuration and client abstraction used by
// the segment planner.
package llm

import "os"

// ModelTier represents the capability level of a model
type ModelTier string

const (
	// TierLite fits a known topic into the duration window
	TierLite ModelTier = "lite"
	// TierStandard reads transcript chunks and proposes topics
	TierStandard ModelTier = "standard"
)

// Provider represents an LLM provider
type Provider string

// ProviderGemini is the Google Gemini provider
const ProviderGemini Provider = "gemini"

// Environment variables that override the model for a tier.
const (
	EnvStandardModel = "GEMINI_MODEL_STANDARD"
	EnvLiteModel     = "GEMINI_MODEL_LITE"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Models      map[ModelTier]string
	Temperature float32
	// MaxOutputTokens caps each response. Zero leaves the provider default.
	MaxOutputTokens int32
}

// DefaultConfig returns the Gemini configuration with environment overrides applied.
func DefaultConfig() *Config {
	c := &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
		},
		Temperature:     0.2,
		MaxOutputTokens: 8192,
	}
	c.applyEnv()
	return c
}

func (c *Config) applyEnv() {
	if m := os.Getenv(EnvStandardModel); m != "" {
		c.Models[TierStandard] = m
	}
	if m := os.Getenv(EnvLiteModel); m != "" {
		c.Models[TierLite] = m
	}
}

// GetModel returns the model name for a tier. A missing tier borrows the
// other tier's model.
func (c *Config) GetModel(tier ModelTier) string {
	if model := c.Models[tier]; model != "" {
		return model
	}
	if tier == TierLite {
		return c.Models[TierStandard]
	}
	return c.Models[TierLite]
}
