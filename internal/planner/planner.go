// Package planner turns a cleaned transcript into short-form segments with a
// two-pass model pipeline: duration-free topic discovery over transcript
// chunks, then duration refinement of the topics that run too long. Verbatim
// text is reconstructed from the transcript and overlapping results are
// removed.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jonathan/shorts-agent/internal/llm"
	"github.com/jonathan/shorts-agent/internal/retry"
	"github.com/jonathan/shorts-agent/internal/schemas"
	"github.com/jonathan/shorts-agent/internal/types"
	"golang.org/x/time/rate"
)

// Config holds the segment policy and the model pacing.
type Config struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// GracePeriod is the accepted overshoot above MaxDuration.
	GracePeriod    time.Duration
	TargetSegments int
	// ChunkMaxChars bounds the transcript text sent in one discovery call.
	ChunkMaxChars int

	// RequestDelay is the minimum spacing between model calls.
	RequestDelay time.Duration
	// RetryBuffer is added to the provider's wait hint.
	RetryBuffer time.Duration
	// DefaultWait is used when a rate limit carries no hint.
	DefaultWait time.Duration
	// MaxRetries is the rate-limit retry ceiling per model call.
	MaxRetries int
	// MaxOverlap is the overlap fraction above which a segment is a duplicate.
	MaxOverlap float64
}

// DefaultConfig returns the default segment policy.
func DefaultConfig() Config {
	return Config{
		MinDuration:    30 * time.Second,
		MaxDuration:    90 * time.Second,
		GracePeriod:    15 * time.Second,
		TargetSegments: 12,
		ChunkMaxChars:  12000,
		RequestDelay:   4 * time.Second,
		RetryBuffer:    2 * time.Second,
		DefaultWait:    20 * time.Second,
		MaxRetries:     3,
		MaxOverlap:     DefaultMaxOverlap,
	}
}

// Phase is a planner stage reported to progress callbacks.
type Phase string

const (
	PhaseDiscovery  Phase = "discovery"
	PhaseRefinement Phase = "refinement"
	PhaseExtraction Phase = "extraction"
)

// PhaseFunc is called when a phase starts. detail is a short human summary.
type PhaseFunc func(phase Phase, detail string)

// PlanningError is returned when the model phases yield no usable segment.
type PlanningError struct {
	Message string
	Cause   error
}

func (e *PlanningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("segment planning failed: %s: %v", e.Message, e.Cause)
	}
	return "segment planning failed: " + e.Message
}

func (e *PlanningError) Unwrap() error {
	return e.Cause
}

// Kind places the error in the pipeline failure taxonomy.
func (e *PlanningError) Kind() types.FailureKind {
	return types.FailurePlanning
}

// Options configures a Planner.
type Options struct {
	Client llm.Client
	Config Config
	// Sleep waits between rate-limit retries. Defaults to retry.SleepContext.
	Sleep  retry.SleepFunc
	Logger *slog.Logger
}

// Planner runs the segment pipeline. Model calls made through one Planner are
// paced by a single limiter, so concurrent runs share the request budget.
type Planner struct {
	client  llm.Client
	cfg     Config
	limiter *rate.Limiter
	sleep   retry.SleepFunc
	logger  *slog.Logger
}

// New creates a Planner. Zero config fields fall back to DefaultConfig.
func New(opts Options) *Planner {
	cfg := withDefaults(opts.Config)
	p := &Planner{
		client: opts.Client,
		cfg:    cfg,
		sleep:  opts.Sleep,
		logger: opts.Logger,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.sleep == nil {
		p.sleep = retry.SleepContext
	}
	if cfg.RequestDelay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(cfg.RequestDelay), 1)
	} else {
		p.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return p
}

func withDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = def.MinDuration
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = def.MaxDuration
	}
	if cfg.GracePeriod < 0 {
		cfg.GracePeriod = 0
	}
	if cfg.TargetSegments <= 0 {
		cfg.TargetSegments = def.TargetSegments
	}
	if cfg.ChunkMaxChars <= 0 {
		cfg.ChunkMaxChars = def.ChunkMaxChars
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = def.DefaultWait
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.MaxOverlap <= 0 || cfg.MaxOverlap > 1 {
		cfg.MaxOverlap = def.MaxOverlap
	}
	return cfg
}

// Config returns the effective configuration.
func (p *Planner) Config() Config {
	return p.cfg
}

// Plan runs discovery, refinement, verbatim extraction and deduplication in
// order and returns at most TargetSegments segments sorted by start time.
// onPhase may be nil.
func (p *Planner) Plan(ctx context.Context, segments []types.TimedSegment, language string, onPhase PhaseFunc) ([]types.FinalSegment, error) {
	report := func(phase Phase, detail string) {
		if onPhase != nil {
			onPhase(phase, detail)
		}
	}
	if len(segments) == 0 {
		return nil, &PlanningError{Message: "transcript has no timed segments"}
	}

	chunks := Chunk(segments, p.cfg.ChunkMaxChars)
	report(PhaseDiscovery, fmt.Sprintf("discovering topics in %d transcript chunk(s)", len(chunks)))
	topics, err := p.discoverChunks(ctx, chunks, language)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &PlanningError{Message: "topic discovery failed", Cause: err}
	}
	if len(topics) == 0 {
		return nil, &PlanningError{Message: "no topics discovered"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(PhaseRefinement, fmt.Sprintf("refining %d of %d topic(s)", p.countTooLong(topics), len(topics)))
	refined, err := p.Refine(ctx, topics, segments, language)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report(PhaseExtraction, fmt.Sprintf("extracting verbatim text for %d segment(s)", len(refined)))
	final := p.selectFinal(refined, segments)
	if len(final) == 0 {
		return nil, &PlanningError{Message: fmt.Sprintf("none of %d topic(s) fit the %s-%s window", len(topics), p.cfg.MinDuration, p.cfg.MaxDuration+p.cfg.GracePeriod)}
	}
	return final, nil
}

// selectFinal extracts, deduplicates and caps the refined segments.
func (p *Planner) selectFinal(refined []types.RefinedSegment, segments []types.TimedSegment) []types.FinalSegment {
	var candidates []scored
	for _, r := range refined {
		f, ok := extractOne(r, segments)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{FinalSegment: f, score: r.Score})
	}

	candidates = dedupe(candidates, p.cfg.MaxOverlap, func(c scored) (float64, float64) { return c.Start, c.End })

	if len(candidates) > p.cfg.TargetSegments {
		sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
		candidates = candidates[:p.cfg.TargetSegments]
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].Start < candidates[j].Start })

	out := make([]types.FinalSegment, len(candidates))
	for i, c := range candidates {
		out[i] = c.FinalSegment
	}
	return out
}

type scored struct {
	types.FinalSegment
	score float64
}

// generate makes one paced model call and validates the JSON against schema.
// Rate limits are retried after the provider's wait hint plus RetryBuffer.
func (p *Planner) generate(ctx context.Context, prompt string, tier llm.ModelTier, schema string) (string, error) {
	policy := retry.Policy{
		MaxRetries: p.cfg.MaxRetries,
		Sleep:      p.sleep,
		Classify: func(err error, _ int) retry.Decision {
			rl, ok := llm.IsRateLimit(err)
			if !ok {
				return retry.Stop
			}
			wait := rl.RetryAfter
			if wait <= 0 {
				wait = p.cfg.DefaultWait
			}
			return retry.Decision{Retry: true, Wait: wait + p.cfg.RetryBuffer}
		},
		OnRetry: func(n int, err error, wait time.Duration) {
			p.logger.Warn("model rate limited, backing off",
				slog.String("tier", string(tier)),
				slog.Int("retry", n+1),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		},
	}

	return retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		if err := p.limiter.Wait(ctx); err != nil {
			return "", err
		}
		text, err := p.client.GenerateJSON(ctx, prompt, tier)
		if err != nil {
			return "", llm.WrapError(err)
		}
		text = llm.CleanJSONBlock(text)
		if err := schemas.Validate(schema, text); err != nil {
			return "", fmt.Errorf("model output does not match %s: %w", schema, err)
		}
		return text, nil
	})
}

func (p *Planner) countTooLong(topics []types.CandidateTopic) int {
	n := 0
	for _, t := range topics {
		if t.Duration() > p.cfg.MaxDuration.Seconds() {
			n++
		}
	}
	return n
}
