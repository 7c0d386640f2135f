package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/shorts-agent/internal/jobs"
	"github.com/jonathan/shorts-agent/internal/types"
)

func TestErrValidation(t *testing.T) {
	err := &ErrValidation{Field: "videoId", Message: "invalid format"}
	assert.Equal(t, "validation error: videoId - invalid format", err.Error())
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
		code     string
	}{
		{"validation", &ErrValidation{Field: "videoId", Message: "required"}, http.StatusBadRequest, "invalid_request"},
		{"wrapped validation", fmt.Errorf("decode: %w", &ErrValidation{Field: "body"}), http.StatusBadRequest, "invalid_request"},
		{"not found", jobs.ErrNotFound, http.StatusNotFound, "job_not_found"},
		{"wrapped not found", fmt.Errorf("get: %w", jobs.ErrNotFound), http.StatusNotFound, "job_not_found"},
		{"finished", jobs.ErrFinished, http.StatusConflict, "job_finished"},
		{"closed", jobs.ErrClosed, http.StatusServiceUnavailable, "unavailable"},
		{"unknown", assert.AnError, http.StatusInternalServerError, "internal"},
		{"nil", nil, http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HTTPStatus(tt.err))
			assert.Equal(t, tt.code, ErrorCode(tt.err))
		})
	}
}

func TestValidationError(t *testing.T) {
	req := types.AcquireRequest{VideoID: "short"}
	err := validationError(req.Validate())
	assert.Equal(t, "VideoID", err.Field)
	assert.Equal(t, "failed on 'min=11'", err.Message)

	err = validationError(assert.AnError)
	assert.Equal(t, "body", err.Field)
}
