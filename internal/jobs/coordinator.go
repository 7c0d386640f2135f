package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/observability"
	"github.com/jonathan/shorts-agent/internal/pipeline"
	"github.com/jonathan/shorts-agent/internal/types"
)

// Defaults for Options
const (
	DefaultMaxConcurrent = 2
	DefaultRetention     = 24 * time.Hour
)

var (
	// ErrCanceled is the cancellation cause of a job canceled by a caller.
	ErrCanceled = errors.New("job canceled")
	// ErrShutdown is the cancellation cause of jobs interrupted by Shutdown.
	ErrShutdown = errors.New("coordinator shutting down")
	// ErrFinished is returned when canceling a job that already ended.
	ErrFinished = errors.New("job already finished")
	// ErrClosed is returned by Create after Shutdown.
	ErrClosed = errors.New("coordinator is closed")
)

// Runner executes one pipeline request.
type Runner interface {
	Run(ctx context.Context, req types.ExtractionRequest, onProgress pipeline.ProgressCallback) (*pipeline.Output, error)
}

// Options configures a Coordinator.
type Options struct {
	Runner Runner
	Store  Store
	// MaxConcurrent bounds running pipelines; queued jobs stay pending.
	MaxConcurrent int
	// Retention is how long finished jobs stay available for polling.
	Retention time.Duration
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// Coordinator owns job records. Each job is written only by the goroutine
// running it; Status reads a copy from the store.
type Coordinator struct {
	runner    Runner
	store     Store
	sem       *semaphore.Weighted
	retention time.Duration
	metrics   *observability.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	base context.Context
	stop context.CancelCauseFunc

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
	closed  bool
	wg      sync.WaitGroup
}

// New creates a Coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Runner == nil {
		return nil, fmt.Errorf("jobs: runner is required")
	}
	c := &Coordinator{
		runner:    opts.Runner,
		store:     opts.Store,
		retention: opts.Retention,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       opts.Now,
		newID:     opts.NewID,
		cancels:   make(map[string]context.CancelCauseFunc),
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}
	c.sem = semaphore.NewWeighted(int64(limit))
	if c.retention <= 0 {
		c.retention = DefaultRetention
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	c.base, c.stop = context.WithCancelCause(context.Background())
	return c, nil
}

// Create records a pending job and starts it in the background.
func (c *Coordinator) Create(ctx context.Context, req types.ExtractionRequest) (string, error) {
	now := c.now()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = now
	}
	job := &types.Job{
		ID:              c.newID(),
		Status:          types.JobPending,
		ProgressMessage: "Queued",
		Request:         req,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrClosed
	}
	if err := c.store.Save(ctx, job); err != nil {
		c.mu.Unlock()
		return "", fmt.Errorf("failed to save job: %w", err)
	}
	runCtx, cancel := context.WithCancelCause(c.base)
	c.cancels[job.ID] = cancel
	c.wg.Add(1)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.JobsCreated.Add(1)
	}
	c.logger.Info("job created",
		slog.String("job_id", job.ID),
		slog.String("video_id", req.VideoID))

	go c.execute(runCtx, job)
	return job.ID, nil
}

// Status returns a snapshot of a job.
func (c *Coordinator) Status(ctx context.Context, id string) (*types.Job, error) {
	return c.store.Get(ctx, id)
}

// Cancel stops a pending or running job. The job ends as failed with kind
// canceled once its goroutine observes the cancellation.
func (c *Coordinator) Cancel(ctx context.Context, id string) error {
	c.mu.Lock()
	cancel, ok := c.cancels[id]
	c.mu.Unlock()
	if ok {
		cancel(ErrCanceled)
		return nil
	}
	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	return ErrFinished
}

// Wait blocks until every started job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Shutdown stops accepting jobs, cancels the running ones and waits for them
// to record their final state or for ctx to end.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.stop(ErrShutdown)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cleanup deletes finished jobs older than the retention period.
func (c *Coordinator) Cleanup(ctx context.Context) (int, error) {
	return c.store.DeleteCompletedBefore(ctx, c.now().Add(-c.retention))
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (c *Coordinator) RunCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.Cleanup(ctx)
			if err != nil {
				c.logger.Warn("job cleanup failed", slog.Any("error", err))
			} else if n > 0 {
				c.logger.Info("expired jobs removed", slog.Int("count", n))
			}
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, job *types.Job) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, job.ID)
		c.mu.Unlock()
	}()
	log := c.logger.With(slog.String("job_id", job.ID), slog.String("video_id", job.Request.VideoID))

	if err := c.sem.Acquire(ctx, 1); err != nil {
		c.fail(ctx, job, err, log)
		return
	}
	defer c.sem.Release(1)

	if c.metrics != nil {
		c.metrics.JobsRunning.Add(1)
		defer c.metrics.JobsRunning.Add(-1)
	}
	c.update(job, types.JobRunning, "Starting", log)

	out, err := c.run(ctx, job, log)
	if err != nil {
		c.fail(ctx, job, err, log)
		return
	}

	c.metrics.RecordAttempts(out.Attempts)
	c.metrics.RecordSuccess(len(out.Segments))
	job.Result = out.Segments
	c.finish(job, types.JobCompleted, fmt.Sprintf("Completed: %d segment(s)", len(out.Segments)), log)
	log.Info("job completed", slog.Int("segments", len(out.Segments)), slog.String("strategy", out.Strategy))
}

// run invokes the pipeline and converts panics into errors so a job never
// stays running.
func (c *Coordinator) run(ctx context.Context, job *types.Job, log *slog.Logger) (out *pipeline.Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	return c.runner.Run(ctx, job.Request, func(e pipeline.ProgressEvent) {
		c.update(job, types.JobRunning, e.Message, log)
	})
}

func (c *Coordinator) fail(ctx context.Context, job *types.Job, err error, log *slog.Logger) {
	jobErr := Failure(ctx, err)
	job.Error = jobErr
	c.metrics.RecordAttempts(jobErr.Attempts)
	c.metrics.RecordFailure(jobErr.Kind)
	c.finish(job, types.JobFailed, "Failed: "+jobErr.Message, log)
	log.Warn("job failed",
		slog.String("kind", string(jobErr.Kind)),
		slog.String("error", jobErr.Message),
		slog.Int("attempts", len(jobErr.Attempts)))
}

func (c *Coordinator) update(job *types.Job, status types.JobStatus, message string, log *slog.Logger) {
	if job.Status != status {
		log.Info("job status changed", slog.String("from", string(job.Status)), slog.String("to", string(status)))
	}
	job.Status = status
	job.ProgressMessage = message
	job.UpdatedAt = c.now()
	c.save(job, log)
}

func (c *Coordinator) finish(job *types.Job, status types.JobStatus, message string, log *slog.Logger) {
	now := c.now()
	job.CompletedAt = &now
	c.update(job, status, message, log)
}

func (c *Coordinator) save(job *types.Job, log *slog.Logger) {
	// The job context may already be canceled; the final write must still land.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.store.Save(ctx, job); err != nil {
		log.Error("failed to save job", slog.Any("error", err))
	}
}

// Failure converts a pipeline error into the structured job error.
func Failure(ctx context.Context, err error) *types.JobError {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		msg := ErrCanceled.Error()
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			msg = cause.Error()
		}
		return &types.JobError{Kind: types.FailureCanceled, Message: msg}
	}

	jobErr := &types.JobError{Kind: types.KindOf(err), Message: err.Error()}
	var acqErr *extraction.AcquisitionError
	if errors.As(err, &acqErr) {
		jobErr.Attempts = acqErr.Attempts
		if acqErr.RetryAfter > 0 {
			jobErr.RetryAfterSeconds = int(math.Ceil(acqErr.RetryAfter.Seconds()))
		}
	}
	return jobErr
}
