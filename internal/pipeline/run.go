// Package pipeline provides the high-level orchestration from a video ID to a
// list of short-form segments.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/shorts-agent/internal/cache"
	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/planner"
	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

// Stage names reported in progress events
const (
	StageAcquisition = "acquisition"
	StageCleaning    = "cleaning"
	StageDiscovery   = "discovery"
	StageRefinement  = "refinement"
	StageExtraction  = "extraction"
	StageComplete    = "complete"
)

const defaultMetadataTimeout = 5 * time.Second

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	VideoID string `json:"video_id,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Acquirer fetches a subtitle artifact for a request.
type Acquirer interface {
	Profile(req types.ExtractionRequest) types.LanguageProfile
	Acquire(ctx context.Context, req types.ExtractionRequest) (*extraction.Result, error)
}

// SegmentPlanner turns timed segments into final segments.
type SegmentPlanner interface {
	Plan(ctx context.Context, segments []types.TimedSegment, language string, onPhase planner.PhaseFunc) ([]types.FinalSegment, error)
}

// Options configures a Runner.
type Options struct {
	Acquirer Acquirer
	Planner  SegmentPlanner
	// Metadata fills missing title/channel hints. Optional.
	Metadata        extraction.MetadataResolver
	MetadataTimeout time.Duration
	// Cache short-circuits acquisition for repeat videos. Optional.
	Cache  cache.Cache
	Logger *slog.Logger
}

// Runner executes the full pipeline. It holds no per-run state.
type Runner struct {
	acquirer        Acquirer
	planner         SegmentPlanner
	metadata        extraction.MetadataResolver
	metadataTimeout time.Duration
	cache           cache.Cache
	logger          *slog.Logger
}

// Output is the result of one successful run.
type Output struct {
	VideoID    string                    `json:"video_id"`
	Strategy   string                    `json:"strategy"`
	Language   string                    `json:"language"`
	SourceKind types.SourceKind          `json:"source_kind"`
	Profile    types.LanguageProfile     `json:"profile"`
	Attempts   []types.ExtractionAttempt `json:"attempts,omitempty"`
	Cached     bool                      `json:"cached"`
	Transcript []types.TimedSegment      `json:"-"`
	Segments   []types.FinalSegment      `json:"segments"`
}

// NewRunner creates a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Acquirer == nil {
		return nil, fmt.Errorf("pipeline: acquirer is required")
	}
	if opts.Planner == nil {
		return nil, fmt.Errorf("pipeline: planner is required")
	}
	r := &Runner{
		acquirer:        opts.Acquirer,
		planner:         opts.Planner,
		metadata:        opts.Metadata,
		metadataTimeout: opts.MetadataTimeout,
		cache:           opts.Cache,
		logger:          opts.Logger,
	}
	if r.metadataTimeout <= 0 {
		r.metadataTimeout = defaultMetadataTimeout
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r, nil
}

// Run acquires, cleans and plans one video. onProgress may be nil. Errors keep
// their taxonomy kind (see types.KindOf); an unparseable video ID is reported
// as not_found.
func (r *Runner) Run(ctx context.Context, req types.ExtractionRequest, onProgress ProgressCallback) (*Output, error) {
	videoID, err := extraction.NormalizeVideoID(req.VideoID)
	if err != nil {
		return nil, &extraction.AcquisitionError{
			Reason:  types.FailureNotFound,
			VideoID: req.VideoID,
			Message: err.Error(),
			Cause:   err,
		}
	}
	req.VideoID = videoID
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now()
	}

	emit := func(stage, message string) {
		if onProgress != nil {
			onProgress(ProgressEvent{Stage: stage, Message: message, VideoID: videoID})
		}
	}
	log := r.logger.With(slog.String("video_id", videoID))

	r.resolveHints(ctx, &req, log)

	emit(StageAcquisition, "Fetching transcript")
	out, err := r.acquire(ctx, req, log)
	if err != nil {
		return nil, err
	}
	emit(StageAcquisition, fmt.Sprintf("Transcript acquired (%s, %s, via %s)", out.Language, out.SourceKind, out.Strategy))

	emit(StageCleaning, "Cleaning subtitles")
	segments, err := subtitles.Clean(out.rawText)
	if err != nil {
		return nil, &planner.PlanningError{Message: "subtitle artifact could not be parsed", Cause: err}
	}
	out.Transcript = segments
	log.Info("transcript cleaned",
		slog.Int("segments", len(segments)),
		slog.String("language", out.Language))

	final, err := r.planner.Plan(ctx, segments, out.Language, func(phase planner.Phase, detail string) {
		switch phase {
		case planner.PhaseDiscovery:
			emit(StageDiscovery, "Discovering topics: "+detail)
		case planner.PhaseRefinement:
			emit(StageRefinement, "Refining segments: "+detail)
		case planner.PhaseExtraction:
			emit(StageExtraction, "Extracting verbatim text: "+detail)
		}
	})
	if err != nil {
		return nil, err
	}
	out.Segments = final

	emit(StageComplete, fmt.Sprintf("Found %d segment(s)", len(final)))
	log.Info("pipeline completed", slog.Int("segments", len(final)), slog.Bool("cached", out.Cached))
	return &out.Output, nil
}

type acquired struct {
	Output
	rawText string
}

func (r *Runner) acquire(ctx context.Context, req types.ExtractionRequest, log *slog.Logger) (*acquired, error) {
	var key string
	if r.cache != nil {
		profile := r.acquirer.Profile(req)
		key = cache.Key(req.VideoID, string(profile.Ordering), profile.PrimaryLanguage, profile.SecondaryLanguage)
		if e, ok := r.cache.Get(ctx, key); ok {
			log.Info("transcript cache hit", slog.String("strategy", e.Strategy))
			return &acquired{
				Output: Output{
					VideoID:    req.VideoID,
					Strategy:   e.Strategy,
					Language:   e.Artifact.Language,
					SourceKind: e.Artifact.SourceKind,
					Profile:    e.Profile,
					Cached:     true,
				},
				rawText: e.Artifact.RawText,
			}, nil
		}
	}

	res, err := r.acquirer.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, key, cache.Entry{Artifact: res.Artifact, Strategy: res.Strategy, Profile: res.Profile})
	}
	return &acquired{
		Output: Output{
			VideoID:    req.VideoID,
			Strategy:   res.Strategy,
			Language:   res.Artifact.Language,
			SourceKind: res.Artifact.SourceKind,
			Profile:    res.Profile,
			Attempts:   res.Attempts,
		},
		rawText: res.Artifact.RawText,
	}, nil
}

// resolveHints asks the metadata resolver for title and channel when the
// caller supplied neither. Lookup failures leave the hints empty.
func (r *Runner) resolveHints(ctx context.Context, req *types.ExtractionRequest, log *slog.Logger) {
	if r.metadata == nil || req.Title != "" || req.Channel != "" {
		return
	}
	mdCtx, cancel := context.WithTimeout(ctx, r.metadataTimeout)
	defer cancel()
	md, err := r.metadata.Resolve(mdCtx, req.VideoID)
	if err != nil {
		log.Debug("metadata lookup failed", slog.Any("error", err))
		return
	}
	req.Title = md.Title
	req.Channel = md.Channel
}
