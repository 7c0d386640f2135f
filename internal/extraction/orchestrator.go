package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/shorts-agent/internal/cooldown"
	"github.com/jonathan/shorts-agent/internal/language"
	"github.com/jonathan/shorts-agent/internal/retry"
	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

// Defaults for Options
const (
	DefaultGlobalCooldown = 15 * time.Minute
	DefaultProbeTimeout   = 20 * time.Second
)

// maxDetailLen bounds the error text kept on an attempt record.
const maxDetailLen = 500

// Options configures an Orchestrator. Zero values get defaults.
type Options struct {
	Catalog     *Catalog
	Executor    Executor
	Store       *cooldown.Store
	Global      *cooldown.Global
	Credentials CredentialStore
	Profiler    *language.Profiler

	GlobalCooldown time.Duration
	ProbeTimeout   time.Duration
	Backoff        retry.Backoff
	Sleep          retry.SleepFunc
	Logger         *slog.Logger
	Now            func() time.Time
}

// Orchestrator drives the strategy catalog for one video at a time. It is safe
// for concurrent use; all shared state lives in the cooldown stores.
type Orchestrator struct {
	catalog        *Catalog
	exec           Executor
	store          *cooldown.Store
	global         *cooldown.Global
	creds          CredentialStore
	profiler       *language.Profiler
	globalCooldown time.Duration
	probeTimeout   time.Duration
	backoff        retry.Backoff
	sleep          retry.SleepFunc
	logger         *slog.Logger
	now            func() time.Time
}

// Result is a successful acquisition.
type Result struct {
	Artifact types.SubtitleArtifact
	Strategy string
	Profile  types.LanguageProfile
	Attempts []types.ExtractionAttempt
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		catalog:        opts.Catalog,
		exec:           opts.Executor,
		store:          opts.Store,
		global:         opts.Global,
		creds:          opts.Credentials,
		profiler:       opts.Profiler,
		globalCooldown: opts.GlobalCooldown,
		probeTimeout:   opts.ProbeTimeout,
		backoff:        opts.Backoff,
		sleep:          opts.Sleep,
		logger:         opts.Logger,
		now:            opts.Now,
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.catalog == nil {
		o.catalog = DefaultCatalog()
	}
	if o.exec == nil {
		o.exec = Executors{
			types.ToolYTDLP:     NewYTDLP(""),
			types.ToolWatchPage: NewWatchPage(o.logger),
		}
	}
	if o.store == nil {
		o.store = cooldown.NewStore(cooldown.DefaultConfig())
	}
	if o.global == nil {
		o.global = cooldown.NewGlobal()
	}
	if o.creds == nil {
		o.creds = StaticCredentials{Reason: "no credential store configured"}
	}
	if o.profiler == nil {
		o.profiler = language.NewProfiler(language.DefaultConfig())
	}
	if o.globalCooldown == 0 {
		o.globalCooldown = DefaultGlobalCooldown
	}
	if o.probeTimeout == 0 {
		o.probeTimeout = DefaultProbeTimeout
	}
	if o.backoff == (retry.Backoff{}) {
		o.backoff = retry.DefaultBackoff()
	}
	if o.sleep == nil {
		o.sleep = retry.SleepContext
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Profile derives the language profile for a request.
func (o *Orchestrator) Profile(req types.ExtractionRequest) types.LanguageProfile {
	return o.profiler.Profile(req.VideoID, req.Title, req.Channel, req.LanguageHints...)
}

// Plan returns the enabled strategies in catalog order with their language
// priority set from the profile. In a quick-probe run the first strategy is
// the probe: minority language first and a shortened timeout.
func (o *Orchestrator) Plan(profile types.LanguageProfile) []types.ExtractionStrategy {
	strategies := o.catalog.Strategies()
	for i := range strategies {
		probe := i == 0 && profile.Ordering == types.OrderQuickProbe
		s := strategies[i].WithLanguages(orderLanguages(strategies[i].SubtitleLanguagePriority, profile.Languages(probe)))
		if probe && o.probeTimeout > 0 && (s.TimeoutMs == 0 || o.probeTimeout < s.Timeout()) {
			s.TimeoutMs = int(o.probeTimeout / time.Millisecond)
		}
		strategies[i] = s
	}
	return strategies
}

// Acquire runs strategies in planned order and returns the first success.
// Every failure is an *AcquisitionError carrying the attempt log, except
// context cancellation which is returned as is.
func (o *Orchestrator) Acquire(ctx context.Context, req types.ExtractionRequest) (*Result, error) {
	log := o.logger.With(slog.String("video_id", req.VideoID))

	if active, remaining := o.global.Active(); active {
		return nil, &AcquisitionError{
			Reason:     types.FailureGlobalCooldown,
			VideoID:    req.VideoID,
			Message:    "upstream blocking detected (" + o.global.Reason() + ")",
			RetryAfter: remaining,
		}
	}
	if err := o.store.Check(req.VideoID); err != nil {
		return nil, limitFailure(req.VideoID, err, nil)
	}

	profile := o.Profile(req)
	plan := o.Plan(profile)
	cred := o.credential(plan)
	log.Debug("acquisition plan",
		slog.String("ordering", string(profile.Ordering)),
		slog.Float64("confidence", profile.Confidence),
		slog.Int("strategies", len(plan)))

	var attempts []types.ExtractionAttempt
	rateLimited := false

	for i, s := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !runnable(s, cred) {
			log.Info("skipping authenticated strategy",
				slog.String("strategy", s.ID),
				slog.String("reason", cred.Reason))
			continue
		}

		opts := cooldown.ReserveOptions{IgnoreCooldown: rateLimited && !s.UsesAuthentication}
		if _, err := o.store.Reserve(req.VideoID, opts); err != nil {
			return nil, limitFailure(req.VideoID, err, attempts)
		}

		attempt, artifacts := o.run(ctx, req.VideoID, s, cred.Handle)
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var selected types.SubtitleArtifact
		if attempt.Outcome == types.OutcomeSuccess {
			var ok bool
			selected, ok = subtitles.Select(artifacts, profile.PrimaryLanguage)
			if ok {
				attempt.RawArtifactRef = selected.Ref
			} else {
				attempt.Outcome = types.OutcomeNotFound
				attempt.Detail = "tool returned only empty subtitle files"
			}
		}
		attempts = append(attempts, attempt)
		log.Info("extraction attempt",
			slog.String("strategy", s.ID),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Duration("duration", attempt.Duration),
			slog.Int("retries", attempt.Retries))

		switch attempt.Outcome {
		case types.OutcomeSuccess:
			return &Result{Artifact: selected, Strategy: s.ID, Profile: profile, Attempts: attempts}, nil

		case types.OutcomeNotFound:
			if s.CoversManual() {
				return nil, &AcquisitionError{
					Reason:   types.FailureNotFound,
					VideoID:  req.VideoID,
					Message:  attempt.Detail,
					Attempts: attempts,
				}
			}

		case types.OutcomeAuthBlocked:
			o.global.Activate(o.globalCooldown, s.ID+": "+attempt.Detail)
			_, remaining := o.global.Active()
			log.Warn("global cooldown activated",
				slog.String("strategy", s.ID),
				slog.Duration("until", remaining))
			return nil, &AcquisitionError{
				Reason:     types.FailureGlobalCooldown,
				VideoID:    req.VideoID,
				Message:    "upstream requires sign-in: " + attempt.Detail,
				RetryAfter: remaining,
				Attempts:   attempts,
			}

		case types.OutcomeRateLimited:
			until := o.store.MarkRateLimited(req.VideoID)
			rateLimited = true
			next, ok := nextRunnable(plan[i+1:], cred)
			if !ok || next.UsesAuthentication {
				return nil, &AcquisitionError{
					Reason:     types.FailureRateLimited,
					VideoID:    req.VideoID,
					Message:    attempt.Detail,
					RetryAfter: o.remaining(until),
					Attempts:   attempts,
				}
			}
		}
	}

	failure := &AcquisitionError{
		Reason:   types.FailureExhausted,
		VideoID:  req.VideoID,
		Message:  fmt.Sprintf("all %d attempted strategies failed", len(attempts)),
		Attempts: attempts,
	}
	if rateLimited {
		if until := o.store.Snapshot(req.VideoID).CooldownUntil; until != nil {
			failure.RetryAfter = o.remaining(*until)
		}
	}
	return nil, failure
}

// run executes one strategy, retrying in place only for transient errors.
func (o *Orchestrator) run(ctx context.Context, videoID string, s types.ExtractionStrategy, handle string) (types.ExtractionAttempt, []types.SubtitleArtifact) {
	attempt := types.ExtractionAttempt{StrategyID: s.ID, VideoID: videoID, StartedAt: o.now()}
	inv := Invocation{VideoID: videoID, Strategy: s}
	if s.UsesAuthentication {
		inv.CredentialHandle = handle
	}

	policy := retry.Policy{
		MaxRetries: s.MaxRetries,
		Sleep:      o.sleep,
		Classify: func(err error, n int) retry.Decision {
			if ctx.Err() != nil || ClassifyError(err) != types.OutcomeTransientError {
				return retry.Stop
			}
			return retry.Decision{Retry: true, Wait: o.backoff.Delay(n)}
		},
		OnRetry: func(n int, err error, wait time.Duration) {
			attempt.Retries++
			o.logger.Debug("retrying strategy",
				slog.String("video_id", videoID),
				slog.String("strategy", s.ID),
				slog.Int("retry", n+1),
				slog.Duration("wait", wait),
				slog.String("error", err.Error()))
		},
	}

	timeout := s.Timeout()
	artifacts, err := retry.Do(ctx, policy, func(ctx context.Context) ([]types.SubtitleArtifact, error) {
		if timeout <= 0 {
			return o.exec.Execute(ctx, inv)
		}
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return o.exec.Execute(callCtx, inv)
	})
	attempt.Duration = o.now().Sub(attempt.StartedAt)

	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			err = exhausted.Last
		}
		attempt.Outcome = ClassifyError(err)
		attempt.Detail = truncate(err.Error(), maxDetailLen)
		return attempt, nil
	}

	attempt.Outcome = types.OutcomeSuccess
	attempt.Detail = fmt.Sprintf("%d subtitle artifact(s)", len(artifacts))
	return attempt, artifacts
}

func (o *Orchestrator) credential(plan []types.ExtractionStrategy) Credential {
	for _, s := range plan {
		if s.UsesAuthentication {
			return o.creds.Credential()
		}
	}
	return Credential{}
}

func (o *Orchestrator) remaining(until time.Time) time.Duration {
	d := until.Sub(o.now())
	if d < 0 {
		return 0
	}
	return d
}

func runnable(s types.ExtractionStrategy, cred Credential) bool {
	return !s.UsesAuthentication || cred.Valid
}

func nextRunnable(rest []types.ExtractionStrategy, cred Credential) (types.ExtractionStrategy, bool) {
	for _, s := range rest {
		if runnable(s, cred) {
			return s, true
		}
	}
	return types.ExtractionStrategy{}, false
}

func limitFailure(videoID string, err error, attempts []types.ExtractionAttempt) error {
	failure := &AcquisitionError{
		Reason:   types.FailureRateLimited,
		VideoID:  videoID,
		Message:  err.Error(),
		Attempts: attempts,
		Cause:    err,
	}
	var le *cooldown.LimitError
	if errors.As(err, &le) {
		failure.Message = string(le.Reason)
		failure.RetryAfter = le.RetryAfter
	}
	return failure
}

// orderLanguages puts the profile's languages first (in profile order) and
// keeps any other languages the strategy asked for after them.
func orderLanguages(own, profile []string) []string {
	if len(own) == 0 {
		return profile
	}
	out := make([]string, 0, len(own)+len(profile))
	seen := make(map[string]bool)
	for _, p := range profile {
		for _, l := range own {
			if !seen[l] && subtitles.SameLanguage(l, p) {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	for _, l := range own {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
