package retry

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const waitUnit = `(?:milliseconds?|ms|seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h)`

// waitHintPatterns match the wait suggestions providers embed in error text,
// e.g. "Please try again in 4.2s", "retry in 1m30s" or "retryDelay":"17s".
var waitHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:try again|retry|wait|retry-after)\D{0,20}?((?:\d+(?:\.\d+)?\s*` + waitUnit + `\s*)+\b|\d+(?:\.\d+)?)`),
}

// waitHintPart is one number and unit of a possibly compound hint.
var waitHintPart = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*([a-z]*)`)

// ParseWaitHint extracts a wait duration from an upstream error message.
// Compound hints are summed; a number without a unit is taken as seconds.
func ParseWaitHint(text string) (time.Duration, bool) {
	for _, re := range waitHintPatterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		var total time.Duration
		for _, part := range waitHintPart.FindAllStringSubmatch(m[1], -1) {
			value, err := strconv.ParseFloat(part[1], 64)
			if err != nil {
				return 0, false
			}
			total += toDuration(value, strings.ToLower(part[2]))
		}
		return total, true
	}
	return 0, false
}

func toDuration(value float64, unit string) time.Duration {
	scale := time.Second
	switch {
	case unit == "ms" || strings.HasPrefix(unit, "millisecond"):
		scale = time.Millisecond
	case unit == "m" || strings.HasPrefix(unit, "min"):
		scale = time.Minute
	case unit == "h" || strings.HasPrefix(unit, "hour") || strings.HasPrefix(unit, "hr"):
		scale = time.Hour
	}
	return time.Duration(math.Round(value * float64(scale)))
}
