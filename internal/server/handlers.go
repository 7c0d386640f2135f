package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/types"
)

const (
	maxRequestBody = 64 << 10
	// pingEvery is the number of unchanged polls between keep-alive comments.
	pingEvery = 30
)

// handleAcquire validates the request and starts a job.
func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req types.AcquireRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.errorResponse(w, &ErrValidation{Field: "body", Message: "invalid request body: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		s.errorResponse(w, validationError(err))
		return
	}
	videoID, err := extraction.NormalizeVideoID(req.VideoID)
	if err != nil {
		s.errorResponse(w, &ErrValidation{Field: "videoId", Message: err.Error()})
		return
	}

	id, err := s.coordinator.Create(r.Context(), types.ExtractionRequest{
		VideoID:       videoID,
		LanguageHints: req.LanguageHints,
		Title:         req.Title,
		Channel:       req.Channel,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	s.logger.Info("job accepted", slog.String("job_id", id), slog.String("video_id", videoID))
	w.Header().Set("Location", "/job/"+id)
	s.jsonResponse(w, http.StatusAccepted, types.AcquireResponse{JobID: id})
}

// handleJob returns the current job record.
func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.coordinator.Status(r.Context(), r.PathValue("jobId"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if job.Error != nil && job.Error.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(job.Error.RetryAfterSeconds))
	}
	s.jsonResponse(w, http.StatusOK, job)
}

// handleCancel cancels a pending or running job.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("jobId")
	if err := s.coordinator.Cancel(r.Context(), id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"jobId": id, "status": "canceling"})
}

// handleJobEvents streams job snapshots as server-sent events until the job
// reaches a terminal state or the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("jobId")
	job, err := s.coordinator.Status(r.Context(), id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	var (
		sent        bool
		last        time.Time
		lastMessage string
		idle        int
	)
	for {
		if !sent || !job.UpdatedAt.Equal(last) || job.ProgressMessage != lastMessage {
			if err := sse.WriteEvent("progress", job); err != nil {
				s.logger.Debug("event stream closed", slog.String("job_id", id), slog.Any("error", err))
				return
			}
			sent, last, lastMessage = true, job.UpdatedAt, job.ProgressMessage
			idle = 0
		} else {
			idle++
			if idle%pingEvery == 0 {
				if err := sse.Ping(); err != nil {
					return
				}
			}
		}
		if job.Status.Terminal() {
			if job.Error != nil {
				sse.WriteEvent("failed", job.Error) //nolint:errcheck
			}
			sse.WriteComplete(job.ID, string(job.Status))
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		job, err = s.coordinator.Status(r.Context(), id)
		if err != nil {
			sse.WriteError(err.Error())
			return
		}
	}
}

// handleStrategies returns the effective strategy catalog, disabled entries included.
func (s *Server) handleStrategies(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.catalog)
}

// handleMetrics returns counters in a plain name/value text format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	extra := map[string]int64{}
	if s.cache != nil {
		hits, misses := s.cache.Stats()
		extra["transcript_cache_hits"] = hits
		extra["transcript_cache_misses"] = misses
		extra["transcript_cache_entries"] = int64(s.cache.Len())
	}
	extra["rate_limit_clients"] = int64(s.rateLimiter.Len())

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.metrics.FormatMetrics(extra)))
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
