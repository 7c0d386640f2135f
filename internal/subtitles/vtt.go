package subtitles

import (
	"fmt"
	"math"
	"strings"

	"github.com/jonathan/shorts-agent/internal/types"
)

// FormatVTT renders segments as a WebVTT document.
func FormatVTT(segments []types.TimedSegment) string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	for _, s := range segments {
		fmt.Fprintf(&sb, "%s --> %s\n%s\n\n", FormatTimestamp(s.Start), FormatTimestamp(s.End), s.Text)
	}
	return sb.String()
}

// FormatTimestamp renders seconds as hh:mm:ss.mmm.
func FormatTimestamp(seconds float64) string {
	ms := int64(math.Round(seconds * 1000))
	if ms < 0 {
		ms = 0
	}
	h := ms / 3_600_000
	m := (ms / 60_000) % 60
	s := (ms / 1000) % 60
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms%1000)
}

// PlainText joins segment texts with single spaces.
func PlainText(segments []types.TimedSegment) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}
