package extraction

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jonathan/shorts-agent/internal/types"
)

// pattern is one known upstream wording for an outcome.
type pattern struct {
	outcome types.Outcome
	re      *regexp.Regexp
}

// patterns are checked in order; the first match wins. Rate limiting is
// checked first because a 429 page often also contains sign-in wording.
var patterns = []pattern{
	{types.OutcomeRateLimited, regexp.MustCompile(`(?i)\b429\b|too many requests|rate[- ]?limit|quota exceeded`)},
	{types.OutcomeNotFound, regexp.MustCompile(`(?i)private video|video unavailable|video is unavailable|has been removed|been terminated|no longer available|no (?:automatic )?(?:subtitles|captions)|subtitles (?:are )?disabled|captions (?:are )?disabled|does not exist|not found|\b404\b`)},
	{types.OutcomeAuthBlocked, regexp.MustCompile(`(?i)sign in|log ?in required|login_required|confirm you(?:'|’)?re not a bot|use --cookies|cookies|authenticat|members[- ]only|age[- ]restricted|\b403\b`)},
}

// Classify maps a tool's reported error text onto an extraction outcome.
// Anything unrecognized is transient.
func Classify(text string) types.Outcome {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.OutcomeTransientError
	}
	for _, p := range patterns {
		if p.re.MatchString(text) {
			return p.outcome
		}
	}
	return types.OutcomeTransientError
}

// ClassifyError classifies an executor error. Timeouts are transient; the
// diagnostic text of a ToolError is preferred over the wrapped error.
func ClassifyError(err error) types.Outcome {
	if err == nil {
		return types.OutcomeSuccess
	}
	if errors.Is(err, ErrNoSubtitles) {
		return types.OutcomeNotFound
	}
	if errors.Is(err, ErrToolMissing) || errors.Is(err, context.DeadlineExceeded) {
		return types.OutcomeTransientError
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return Classify(toolErr.Text)
	}
	return Classify(err.Error())
}
