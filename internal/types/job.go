package types

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// FailureKind is the taxonomy of terminal pipeline failures.
type FailureKind string

const (
	FailureNotFound       FailureKind = "not_found"
	FailureGlobalCooldown FailureKind = "global_cooldown"
	FailureRateLimited    FailureKind = "rate_limited"
	FailureExhausted      FailureKind = "exhausted"
	FailurePlanning       FailureKind = "planning_failed"
	FailureCanceled       FailureKind = "canceled"
	FailureInternal       FailureKind = "internal"
)

// Retryable reports whether the caller should be told to try again later.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureGlobalCooldown, FailureRateLimited, FailureExhausted:
		return true
	default:
		return false
	}
}

// Kinded is implemented by errors that belong to the failure taxonomy.
type Kinded interface {
	Kind() FailureKind
}

// KindOf maps an error onto the failure taxonomy.
func KindOf(err error) FailureKind {
	var k Kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return FailureInternal
}

// JobError is the structured failure stored on a job.
type JobError struct {
	Kind              FailureKind         `json:"kind"`
	Message           string              `json:"message"`
	RetryAfterSeconds int                 `json:"retry_after_seconds,omitempty"`
	Attempts          []ExtractionAttempt `json:"attempts,omitempty"`
}

// Job is the polling-friendly record of one pipeline run.
type Job struct {
	ID              string            `json:"id"`
	Status          JobStatus         `json:"status"`
	ProgressMessage string            `json:"progress_message"`
	Request         ExtractionRequest `json:"request"`
	Result          []FinalSegment    `json:"result,omitempty"`
	Error           *JobError         `json:"error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// AcquireRequest is the body of POST /acquire-and-segment.
// VideoID may be a bare ID or a watch URL.
type AcquireRequest struct {
	VideoID       string   `json:"videoId" validate:"required,min=11,max=200"`
	LanguageHints []string `json:"languageHints,omitempty" validate:"max=10,dive,min=1,max=200"`
	Title         string   `json:"title,omitempty" validate:"max=500"`
	Channel       string   `json:"channel,omitempty" validate:"max=200"`
}

// Validate validates the AcquireRequest using the validator.
func (r *AcquireRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// AcquireResponse is returned by POST /acquire-and-segment.
type AcquireResponse struct {
	JobID string `json:"jobId"`
}
