package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/shorts-agent/internal/jobs"
	"github.com/jonathan/shorts-agent/internal/observability"
	"github.com/jonathan/shorts-agent/internal/server/ratelimit"
	"github.com/jonathan/shorts-agent/internal/types"
)

// MockCoordinator implements Coordinator with overridable functions.
type MockCoordinator struct {
	CreateFunc func(ctx context.Context, req types.ExtractionRequest) (string, error)
	StatusFunc func(ctx context.Context, id string) (*types.Job, error)
	CancelFunc func(ctx context.Context, id string) error
}

func (m *MockCoordinator) Create(ctx context.Context, req types.ExtractionRequest) (string, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req)
	}
	return "job-1", nil
}

func (m *MockCoordinator) Status(ctx context.Context, id string) (*types.Job, error) {
	if m.StatusFunc != nil {
		return m.StatusFunc(ctx, id)
	}
	return nil, jobs.ErrNotFound
}

func (m *MockCoordinator) Cancel(ctx context.Context, id string) error {
	if m.CancelFunc != nil {
		return m.CancelFunc(ctx, id)
	}
	return nil
}

type fakeCacheStats struct{}

func (fakeCacheStats) Stats() (int64, int64) { return 5, 2 }
func (fakeCacheStats) Len() int              { return 4 }

func newTestServer(t *testing.T, coord Coordinator, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		Coordinator:    coord,
		RateLimit:      &ratelimit.Config{Enabled: false},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		StreamInterval: time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.rateLimiter.Stop)
	return s
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNew_RequiresCoordinator(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})

	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestAcquire_Success(t *testing.T) {
	var got types.ExtractionRequest
	s := newTestServer(t, &MockCoordinator{
		CreateFunc: func(_ context.Context, req types.ExtractionRequest) (string, error) {
			got = req
			return "abc-123", nil
		},
	})

	w := do(t, s, http.MethodPost, "/acquire-and-segment",
		`{"videoId": "https://youtu.be/dQw4w9WgXcQ?t=10", "languageHints": ["id"], "title": "Ngobrol"}`)

	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "/job/abc-123", w.Header().Get("Location"))

	var resp types.AcquireResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "abc-123", resp.JobID)

	assert.Equal(t, "dQw4w9WgXcQ", got.VideoID)
	assert.Equal(t, []string{"id"}, got.LanguageHints)
	assert.Equal(t, "Ngobrol", got.Title)
}

func TestAcquire_BadRequests(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"invalid json", `{"videoId":`, "body"},
		{"missing video id", `{}`, "VideoID"},
		{"too short", `{"videoId": "abc"}`, "VideoID"},
		{"not a youtube reference", `{"videoId": "https://example.com/watch?v=dQw4w9WgXcQ"}`, "videoId"},
		{"empty hint", `{"videoId": "dQw4w9WgXcQ", "languageHints": [""]}`, "LanguageHints[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created := false
			s := newTestServer(t, &MockCoordinator{
				CreateFunc: func(context.Context, types.ExtractionRequest) (string, error) {
					created = true
					return "x", nil
				},
			})

			w := do(t, s, http.MethodPost, "/acquire-and-segment", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "invalid_request", resp.Error)
			assert.Contains(t, resp.Message, tt.field)
			assert.False(t, created)
		})
	}
}

func TestAcquire_CoordinatorClosed(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{
		CreateFunc: func(context.Context, types.ExtractionRequest) (string, error) {
			return "", jobs.ErrClosed
		},
	})

	w := do(t, s, http.MethodPost, "/acquire-and-segment", `{"videoId": "dQw4w9WgXcQ"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "unavailable", decodeError(t, w).Error)
}

func TestJob_Found(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{
		StatusFunc: func(_ context.Context, id string) (*types.Job, error) {
			return &types.Job{
				ID:              id,
				Status:          types.JobCompleted,
				ProgressMessage: "Completed: 1 segment(s)",
				Result:          []types.FinalSegment{{Title: "Intro", Start: 10, End: 55}},
			}, nil
		},
	})

	w := do(t, s, http.MethodGet, "/job/j1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var job types.Job
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &job))
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, types.JobCompleted, job.Status)
	require.Len(t, job.Result, 1)
	assert.Equal(t, "Intro", job.Result[0].Title)
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestJob_FailedWithRetryAfter(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{
		StatusFunc: func(_ context.Context, id string) (*types.Job, error) {
			return &types.Job{
				ID:     id,
				Status: types.JobFailed,
				Error:  &types.JobError{Kind: types.FailureRateLimited, Message: "rate limited", RetryAfterSeconds: 300},
			}, nil
		},
	})

	w := do(t, s, http.MethodGet, "/job/j1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"kind":"rate_limited"`)
}

func TestJob_NotFound(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})

	w := do(t, s, http.MethodGet, "/job/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "job_not_found", decodeError(t, w).Error)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"running", nil, http.StatusAccepted},
		{"finished", jobs.ErrFinished, http.StatusConflict},
		{"unknown", jobs.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var canceled string
			s := newTestServer(t, &MockCoordinator{
				CancelFunc: func(_ context.Context, id string) error {
					canceled = id
					return tt.err
				},
			})

			w := do(t, s, http.MethodDelete, "/job/j9", "")
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "j9", canceled)
		})
	}
}

func stagedStatus(steps ...types.Job) func(context.Context, string) (*types.Job, error) {
	var calls atomic.Int64
	return func(_ context.Context, _ string) (*types.Job, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(steps) {
			i = len(steps) - 1
		}
		job := steps[i]
		return &job, nil
	}
}

func TestJobEvents_StreamsUntilTerminal(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	running := types.Job{ID: "j1", Status: types.JobRunning, ProgressMessage: "Fetching transcript", UpdatedAt: t0}
	done := types.Job{ID: "j1", Status: types.JobCompleted, ProgressMessage: "Completed: 3 segment(s)", UpdatedAt: t0.Add(time.Second)}
	s := newTestServer(t, &MockCoordinator{StatusFunc: stagedStatus(running, running, running, done)})

	w := do(t, s, http.MethodGet, "/job/j1/events", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: progress"))
	assert.Contains(t, body, "Fetching transcript")
	assert.Contains(t, body, "event: complete")
	assert.Contains(t, body, `"status":"completed"`)
	assert.NotContains(t, body, "event: failed")
}

func TestJobEvents_Failed(t *testing.T) {
	failed := types.Job{
		ID:     "j1",
		Status: types.JobFailed,
		Error:  &types.JobError{Kind: types.FailureNotFound, Message: "no transcript"},
	}
	s := newTestServer(t, &MockCoordinator{StatusFunc: stagedStatus(failed)})

	body := do(t, s, http.MethodGet, "/job/j1/events", "").Body.String()
	assert.Equal(t, 1, strings.Count(body, "event: progress"))
	assert.Contains(t, body, "event: failed")
	assert.Contains(t, body, `"kind":"not_found"`)
	assert.Contains(t, body, `"status":"failed"`)
}

func TestJobEvents_NotFound(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})

	w := do(t, s, http.MethodGet, "/job/missing/events", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStrategies(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})

	w := do(t, s, http.MethodGet, "/strategies", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Version    int                        `json:"version"`
		Strategies []types.ExtractionStrategy `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.Version, 1)
	assert.NotEmpty(t, resp.Strategies)
}

func TestMetrics(t *testing.T) {
	m := observability.NewMetrics()
	m.JobsCreated.Add(3)
	s := newTestServer(t, &MockCoordinator{}, func(c *Config) {
		c.Metrics = m
		c.Cache = fakeCacheStats{}
	})

	w := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	body := w.Body.String()
	assert.Contains(t, body, "jobs_created 3\n")
	assert.Contains(t, body, "transcript_cache_hits 5\n")
	assert.Contains(t, body, "transcript_cache_misses 2\n")
	assert.Contains(t, body, "transcript_cache_entries 4\n")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{}, func(c *Config) {
		c.RateLimit = &ratelimit.Config{
			Enabled:       true,
			DefaultLimit:  100,
			DefaultWindow: time.Minute,
			EndpointConfigs: []ratelimit.EndpointConfig{
				{Path: "/acquire-and-segment", Method: "POST", Limit: 1, Window: time.Hour, Burst: 1},
			},
		}
	})

	body := `{"videoId": "dQw4w9WgXcQ"}`
	w := do(t, s, http.MethodPost, "/acquire-and-segment", body)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))

	w = do(t, s, http.MethodPost, "/acquire-and-segment", body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	resp := decodeError(t, w)
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
	assert.Positive(t, resp.RetryAfterSeconds)

	// Health is never limited.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
	}
}

func TestCORS_Preflight(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})

	w := do(t, s, http.MethodOptions, "/acquire-and-segment", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestServe_GracefulShutdown(t *testing.T) {
	s := newTestServer(t, &MockCoordinator{})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
