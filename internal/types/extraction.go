// Package types provides type definitions for structured data used throughout the shorts-agent system.
package types

import "time"

// ExtractionRequest is one invocation of the pipeline for a single video.
type ExtractionRequest struct {
	VideoID       string    `json:"video_id"`
	LanguageHints []string  `json:"language_hints,omitempty"`
	Title         string    `json:"title,omitempty"`
	Channel       string    `json:"channel,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Tool identifies the external program that executes a strategy.
type Tool string

const (
	// ToolYTDLP runs the yt-dlp binary
	ToolYTDLP Tool = "yt-dlp"
	// ToolWatchPage scrapes caption tracks from the watch page
	ToolWatchPage Tool = "watchpage"
)

// Subtitle kinds a strategy asks for
const (
	KindsManual = "manual"
	KindsAuto   = "auto"
	KindsBoth   = "both"
)

// ExtractionStrategy is one self-consistent way of asking the upstream for subtitles.
// Strategies are catalog data and are never mutated at runtime.
type ExtractionStrategy struct {
	ID                       string   `json:"id" validate:"required"`
	Tool                     Tool     `json:"tool" validate:"required,oneof=yt-dlp watchpage"`
	ClientIdentity           string   `json:"client_identity" validate:"required"`
	UsesAuthentication       bool     `json:"uses_authentication"`
	SubtitleKinds            string   `json:"subtitle_kinds" validate:"required,oneof=manual auto both"`
	SubtitleFormats          []string `json:"subtitle_formats,omitempty"`
	SubtitleLanguagePriority []string `json:"subtitle_language_priority,omitempty"`
	TimeoutMs                int      `json:"timeout_ms" validate:"gt=0"`
	MaxRetries               int      `json:"max_retries" validate:"gte=0,lte=5"`
	Enabled                  bool     `json:"enabled"`
}

// Timeout returns the strategy timeout as a duration.
func (s ExtractionStrategy) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// CoversManual reports whether a notFound from this strategy is definitive,
// i.e. it asked for both manual and automatic subtitles.
func (s ExtractionStrategy) CoversManual() bool {
	return s.SubtitleKinds == KindsBoth
}

// WithLanguages returns a copy of the strategy with a different language priority.
func (s ExtractionStrategy) WithLanguages(langs []string) ExtractionStrategy {
	s.SubtitleLanguagePriority = append([]string(nil), langs...)
	return s
}

// Outcome is the classified result of one extraction attempt.
type Outcome string

const (
	OutcomeSuccess        Outcome = "success"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAuthBlocked    Outcome = "auth_blocked"
	OutcomeRateLimited    Outcome = "rate_limited"
	OutcomeTransientError Outcome = "transient_error"
)

// ExtractionAttempt records one execution of a strategy.
type ExtractionAttempt struct {
	StrategyID     string        `json:"strategy_id"`
	VideoID        string        `json:"video_id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration_ns"`
	Outcome        Outcome       `json:"outcome"`
	Retries        int           `json:"retries,omitempty"`
	Detail         string        `json:"detail,omitempty"`
	RawArtifactRef string        `json:"raw_artifact_ref,omitempty"`
}

// SourceKind distinguishes human-authored subtitles from automatic captions.
type SourceKind string

const (
	SourceManual        SourceKind = "manual"
	SourceAutoGenerated SourceKind = "auto_generated"
)

// SubtitleArtifact is a raw subtitle file returned by a strategy.
type SubtitleArtifact struct {
	Language   string     `json:"language"`
	SourceKind SourceKind `json:"source_kind"`
	Format     string     `json:"format,omitempty"`
	RawText    string     `json:"raw_text"`
	Ref        string     `json:"ref,omitempty"`
}
