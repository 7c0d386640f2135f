package extraction

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonathan/shorts-agent/internal/types"
)

// ErrNoSubtitles is returned by a tool that ran cleanly but produced no subtitle files.
var ErrNoSubtitles = errors.New("no subtitles found")

// ErrToolMissing is returned when the extraction binary cannot be found.
var ErrToolMissing = errors.New("extraction tool not installed")

// AcquisitionError is the structured failure of Orchestrator.Acquire.
type AcquisitionError struct {
	Reason     types.FailureKind
	VideoID    string
	Message    string
	RetryAfter time.Duration
	Attempts   []types.ExtractionAttempt
	Cause      error
}

func (e *AcquisitionError) Error() string {
	msg := fmt.Sprintf("acquisition failed for %s: %s", e.VideoID, e.Reason)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter.Round(time.Second))
	}
	return msg
}

func (e *AcquisitionError) Unwrap() error {
	return e.Cause
}

// Kind maps the failure onto the pipeline taxonomy.
func (e *AcquisitionError) Kind() types.FailureKind {
	return e.Reason
}

// ToolError carries the diagnostic text of a failed tool invocation. The text
// is what Classify inspects.
type ToolError struct {
	Tool     types.Tool
	Strategy string
	Text     string
	Cause    error
}

func (e *ToolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Tool, e.Strategy, e.Text, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Tool, e.Strategy, e.Text)
}

func (e *ToolError) Unwrap() error {
	return e.Cause
}
