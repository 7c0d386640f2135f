// Package jobs runs pipeline requests as detached units of work and exposes
// their state for polling.
package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonathan/shorts-agent/internal/types"
)

// ErrNotFound is returned for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// Store persists job records. Implementations must return copies so callers
// never share a record with the running job.
type Store interface {
	Save(ctx context.Context, job *types.Job) error
	Get(ctx context.Context, id string) (*types.Job, error)
	// DeleteCompletedBefore removes terminal jobs completed before cutoff.
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]types.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]types.Job)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, job *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(*job)
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(job)
	return &out, nil
}

// DeleteCompletedBefore implements Store.
func (s *MemoryStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, job := range s.jobs {
		if job.Status.Terminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored jobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func cloneJob(j types.Job) types.Job {
	if j.Result != nil {
		j.Result = append([]types.FinalSegment(nil), j.Result...)
	}
	if j.Error != nil {
		e := *j.Error
		e.Attempts = append([]types.ExtractionAttempt(nil), e.Attempts...)
		j.Error = &e
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		j.CompletedAt = &t
	}
	j.Request.LanguageHints = append([]string(nil), j.Request.LanguageHints...)
	return j
}
