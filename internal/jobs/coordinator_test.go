package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/observability"
	"github.com/jonathan/shorts-agent/internal/pipeline"
	"github.com/jonathan/shorts-agent/internal/planner"
	"github.com/jonathan/shorts-agent/internal/types"
)

// MockRunner implements Runner for testing
type MockRunner struct {
	RunFunc func(ctx context.Context, req types.ExtractionRequest, onProgress pipeline.ProgressCallback) (*pipeline.Output, error)
}

func (m *MockRunner) Run(ctx context.Context, req types.ExtractionRequest, onProgress pipeline.ProgressCallback) (*pipeline.Output, error) {
	return m.RunFunc(ctx, req, onProgress)
}

// recordingStore keeps every progress message written for a job.
type recordingStore struct {
	*MemoryStore
	mu       sync.Mutex
	messages map[string][]string
	statuses map[string][]types.JobStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		MemoryStore: NewMemoryStore(),
		messages:    map[string][]string{},
		statuses:    map[string][]types.JobStatus{},
	}
}

func (s *recordingStore) Save(ctx context.Context, job *types.Job) error {
	s.mu.Lock()
	s.messages[job.ID] = append(s.messages[job.ID], job.ProgressMessage)
	s.statuses[job.ID] = append(s.statuses[job.ID], job.Status)
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, job)
}

func (s *recordingStore) history(id string) ([]string, []types.JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages[id]...), append([]types.JobStatus(nil), s.statuses[id]...)
}

func successRunner() *MockRunner {
	return &MockRunner{RunFunc: func(_ context.Context, req types.ExtractionRequest, onProgress pipeline.ProgressCallback) (*pipeline.Output, error) {
		onProgress(pipeline.ProgressEvent{Stage: pipeline.StageAcquisition, Message: "Fetching transcript"})
		onProgress(pipeline.ProgressEvent{Stage: pipeline.StageDiscovery, Message: "Discovering topics"})
		return &pipeline.Output{
			VideoID:  req.VideoID,
			Strategy: "ytdlp-web",
			Segments: []types.FinalSegment{{Title: "one", Start: 0, End: 45}, {Title: "two", Start: 60, End: 120}},
			Attempts: []types.ExtractionAttempt{{Outcome: types.OutcomeTransientError}, {Outcome: types.OutcomeSuccess}},
		}, nil
	}}
}

// blockingRunner blocks every run until release is closed or ctx ends.
func blockingRunner(started chan<- string, release <-chan struct{}) *MockRunner {
	return &MockRunner{RunFunc: func(ctx context.Context, req types.ExtractionRequest, onProgress pipeline.ProgressCallback) (*pipeline.Output, error) {
		onProgress(pipeline.ProgressEvent{Message: "Fetching transcript"})
		started <- req.VideoID
		select {
		case <-release:
			return &pipeline.Output{Segments: []types.FinalSegment{{Title: "done"}}}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Shutdown(ctx)
	})
	return c
}

func waitTerminal(t *testing.T, c *Coordinator, id string) *types.Job {
	t.Helper()
	var job *types.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = c.Status(context.Background(), id)
		return err == nil && job.Status.Terminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestCoordinator_Success(t *testing.T) {
	store := newRecordingStore()
	metrics := observability.NewMetrics()
	c := newTestCoordinator(t, Options{Runner: successRunner(), Store: store, Metrics: metrics})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job := waitTerminal(t, c, id)
	assert.Equal(t, types.JobCompleted, job.Status)
	assert.Len(t, job.Result, 2)
	assert.Nil(t, job.Error)
	require.NotNil(t, job.CompletedAt)
	assert.Equal(t, "Completed: 2 segment(s)", job.ProgressMessage)
	assert.False(t, job.Request.RequestedAt.IsZero())

	messages, statuses := store.history(id)
	assert.Equal(t, []string{"Queued", "Starting", "Fetching transcript", "Discovering topics", "Completed: 2 segment(s)"}, messages)
	assert.Equal(t, types.JobPending, statuses[0])
	assert.Equal(t, types.JobCompleted, statuses[len(statuses)-1])

	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap["jobs_created"])
	assert.Equal(t, int64(1), snap["jobs_completed"])
	assert.Equal(t, int64(2), snap["segments_produced"])
	assert.Equal(t, int64(1), snap["extraction_attempts_transient_error"])
}

func TestCoordinator_AcquisitionFailure(t *testing.T) {
	attempts := []types.ExtractionAttempt{{StrategyID: "ytdlp-web", Outcome: types.OutcomeRateLimited}}
	runner := &MockRunner{RunFunc: func(context.Context, types.ExtractionRequest, pipeline.ProgressCallback) (*pipeline.Output, error) {
		return nil, &extraction.AcquisitionError{
			Reason:     types.FailureRateLimited,
			VideoID:    "dQw4w9WgXcQ",
			RetryAfter: 89500 * time.Millisecond,
			Attempts:   attempts,
		}
	}}
	metrics := observability.NewMetrics()
	c := newTestCoordinator(t, Options{Runner: runner, Metrics: metrics})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)

	job := waitTerminal(t, c, id)
	assert.Equal(t, types.JobFailed, job.Status)
	assert.Empty(t, job.Result)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailureRateLimited, job.Error.Kind)
	assert.Equal(t, 90, job.Error.RetryAfterSeconds)
	assert.Equal(t, attempts, job.Error.Attempts)
	assert.Equal(t, int64(1), metrics.Snapshot()["jobs_failed_rate_limited"])
}

func TestCoordinator_PlanningFailure(t *testing.T) {
	runner := &MockRunner{RunFunc: func(context.Context, types.ExtractionRequest, pipeline.ProgressCallback) (*pipeline.Output, error) {
		return nil, &planner.PlanningError{Message: "no topics discovered"}
	}}
	c := newTestCoordinator(t, Options{Runner: runner})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)

	job := waitTerminal(t, c, id)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailurePlanning, job.Error.Kind)
	assert.Contains(t, job.ProgressMessage, "no topics discovered")
}

func TestCoordinator_PanicBecomesInternalFailure(t *testing.T) {
	runner := &MockRunner{RunFunc: func(context.Context, types.ExtractionRequest, pipeline.ProgressCallback) (*pipeline.Output, error) {
		panic("boom")
	}}
	c := newTestCoordinator(t, Options{Runner: runner})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)

	job := waitTerminal(t, c, id)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailureInternal, job.Error.Kind)
	assert.Contains(t, job.Error.Message, "boom")
}

func TestCoordinator_Cancel(t *testing.T) {
	started := make(chan string, 1)
	c := newTestCoordinator(t, Options{Runner: blockingRunner(started, make(chan struct{}))})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	<-started

	running, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, types.JobRunning, running.Status)
	assert.Equal(t, "Fetching transcript", running.ProgressMessage)

	require.NoError(t, c.Cancel(context.Background(), id))
	job := waitTerminal(t, c, id)
	assert.Equal(t, types.JobFailed, job.Status)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailureCanceled, job.Error.Kind)
	assert.Equal(t, ErrCanceled.Error(), job.Error.Message)

	c.Wait()
	assert.ErrorIs(t, c.Cancel(context.Background(), id), ErrFinished)
	assert.ErrorIs(t, c.Cancel(context.Background(), "missing"), ErrNotFound)
}

func TestCoordinator_ConcurrencyBound(t *testing.T) {
	started := make(chan string, 2)
	release := make(chan struct{})
	c := newTestCoordinator(t, Options{Runner: blockingRunner(started, release), MaxConcurrent: 1})

	first, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	assert.Equal(t, "aaaaaaaaaaa", <-started)

	second, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "bbbbbbbbbbb"})
	require.NoError(t, err)

	select {
	case id := <-started:
		t.Fatalf("second job %s started while the first held the only slot", id)
	case <-time.After(50 * time.Millisecond):
	}
	queued, err := c.Status(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, types.JobPending, queued.Status)
	assert.Equal(t, "Queued", queued.ProgressMessage)

	close(release)
	assert.Equal(t, "bbbbbbbbbbb", <-started)
	assert.Equal(t, types.JobCompleted, waitTerminal(t, c, first).Status)
	assert.Equal(t, types.JobCompleted, waitTerminal(t, c, second).Status)
}

func TestCoordinator_CancelPendingJob(t *testing.T) {
	started := make(chan string, 2)
	c := newTestCoordinator(t, Options{Runner: blockingRunner(started, make(chan struct{})), MaxConcurrent: 1})

	_, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "aaaaaaaaaaa"})
	require.NoError(t, err)
	<-started
	queued, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "bbbbbbbbbbb"})
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), queued))
	job := waitTerminal(t, c, queued)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailureCanceled, job.Error.Kind)
}

func TestCoordinator_Shutdown(t *testing.T) {
	started := make(chan string, 1)
	c, err := New(Options{Runner: blockingRunner(started, make(chan struct{}))})
	require.NoError(t, err)

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Shutdown(ctx))

	job, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job.Error)
	assert.Equal(t, types.FailureCanceled, job.Error.Kind)
	assert.Equal(t, ErrShutdown.Error(), job.Error.Message)

	_, err = c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCoordinator_Cleanup(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	store := NewMemoryStore()
	c := newTestCoordinator(t, Options{Runner: successRunner(), Store: store, Retention: time.Hour, Now: clock})

	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)
	waitTerminal(t, c, id)
	c.Wait()

	mu.Lock()
	now = now.Add(59 * time.Minute)
	mu.Unlock()
	n, err := c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	n, err = c.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = c.Status(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCoordinator_StatusReturnsCopy(t *testing.T) {
	c := newTestCoordinator(t, Options{Runner: successRunner()})
	id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: "dQw4w9WgXcQ"})
	require.NoError(t, err)

	job := waitTerminal(t, c, id)
	job.Result[0].Title = "mutated"
	job.Status = types.JobPending

	again, err := c.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "one", again.Result[0].Title)
	assert.Equal(t, types.JobCompleted, again.Status)
}

func TestCoordinator_UniqueIDs(t *testing.T) {
	c := newTestCoordinator(t, Options{Runner: successRunner()})
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		id, err := c.Create(context.Background(), types.ExtractionRequest{VideoID: fmt.Sprintf("video%06d", i)})
		require.NoError(t, err)
		assert.False(t, seen[id])
		seen[id] = true
	}
	c.Wait()
}

func TestFailure(t *testing.T) {
	canceled, cancel := context.WithCancelCause(context.Background())
	cancel(ErrCanceled)

	tests := []struct {
		name  string
		ctx   context.Context
		err   error
		kind  types.FailureKind
		retry int
	}{
		{"not found", context.Background(), &extraction.AcquisitionError{Reason: types.FailureNotFound}, types.FailureNotFound, 0},
		{"global cooldown", context.Background(), &extraction.AcquisitionError{Reason: types.FailureGlobalCooldown, RetryAfter: 14 * time.Minute}, types.FailureGlobalCooldown, 840},
		{"wrapped", context.Background(), fmt.Errorf("run: %w", &planner.PlanningError{Message: "x"}), types.FailurePlanning, 0},
		{"plain error", context.Background(), errors.New("disk full"), types.FailureInternal, 0},
		{"canceled", canceled, context.Canceled, types.FailureCanceled, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Failure(tt.ctx, tt.err)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.retry, got.RetryAfterSeconds)
			assert.NotEmpty(t, got.Message)
		})
	}
}
