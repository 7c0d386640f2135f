package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/shorts-agent/internal/jobs"
	"github.com/jonathan/shorts-agent/internal/types"
)

// JobStore implements jobs.Store on PostgreSQL. The full job is stored as a
// JSONB document; status and timestamps are duplicated into columns for
// cleanup queries.
type JobStore struct {
	db *DB
}

// NewJobStore creates a JobStore. Call EnsureSchema first.
func NewJobStore(db *DB) *JobStore {
	return &JobStore{db: db}
}

// Save upserts the job document.
func (s *JobStore) Save(ctx context.Context, job *types.Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.db.pool.Exec(ctx,
		`INSERT INTO shorts_jobs (id, video_id, status, document, created_at, updated_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET status = $3, document = $4, updated_at = $6, completed_at = $7`,
		job.ID, job.Request.VideoID, string(job.Status), doc, job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// Get loads a job by ID. Unknown IDs return jobs.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id string) (*types.Job, error) {
	var doc []byte
	err := s.db.pool.QueryRow(ctx,
		`SELECT document FROM shorts_jobs WHERE id = $1`, id,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return decodeJob(doc)
}

// DeleteCompletedBefore removes jobs that finished before cutoff.
func (s *JobStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.db.pool.Exec(ctx,
		`DELETE FROM shorts_jobs WHERE completed_at IS NOT NULL AND completed_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListByVideo returns the most recent jobs for a video, newest first.
func (s *JobStore) ListByVideo(ctx context.Context, videoID string, limit int) ([]types.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.pool.Query(ctx,
		`SELECT document FROM shorts_jobs WHERE video_id = $1 ORDER BY created_at DESC LIMIT $2`,
		videoID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs for %s: %w", videoID, err)
	}
	defer rows.Close()

	var out []types.Job
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job, err := decodeJob(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

func decodeJob(doc []byte) (*types.Job, error) {
	var job types.Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job document: %w", err)
	}
	return &job, nil
}
