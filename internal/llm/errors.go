package llm

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jonathan/shorts-agent/internal/retry"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RateLimitError is returned when the provider rejects a call for quota reasons.
// RetryAfter is the provider's own wait suggestion, zero when it gave none.
type RateLimitError struct {
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return "rate limited: " + e.Message
}

func (e *RateLimitError) Unwrap() error {
	return e.Cause
}

var quotaPattern = regexp.MustCompile(`(?i)\b429\b|resource[_ ]exhausted|rate ?limit|quota|too many requests`)

// retryDelayPattern matches the RetryInfo detail Gemini includes in quota errors.
var retryDelayPattern = regexp.MustCompile(`retry_?[Dd]elay"?\s*[:=]\s*"?(?:seconds:)?\s*(\d+(?:\.\d+)?)s?`)

// WrapError converts provider quota failures into *RateLimitError and returns
// every other error unchanged.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return err
	}
	if !isQuotaError(err) {
		return err
	}

	text := err.Error()
	wait, ok := retry.ParseWaitHint(text)
	if !ok {
		if m := retryDelayPattern.FindStringSubmatch(text); m != nil {
			wait, _ = retry.ParseWaitHint("retry " + m[1] + "s")
		}
	}
	return &RateLimitError{Message: text, RetryAfter: wait, Cause: err}
}

// IsRateLimit reports whether err is a provider rate limit.
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

func isQuotaError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if status.Code(err) == codes.ResourceExhausted {
		return true
	}
	return quotaPattern.MatchString(err.Error())
}
