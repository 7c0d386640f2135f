package planner

import (
	"regexp"
	"strings"

	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

// MaxKeyQuoteWords bounds the fallback key quote.
const MaxKeyQuoteWords = 25

var (
	// fillerRe matches hesitation tokens in English and Indonesian speech
	fillerRe   = regexp.MustCompile(`(?i)(^|[\s,])(?:u+h+m*|u+m+|e+r+m*|hmm+|e+h+m*|a+h+|e{3,}|anu)([\s,.!?]|$)`)
	sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]*`)
	spaceRe    = regexp.MustCompile(`\s+`)
	punctRe    = regexp.MustCompile(`\s+([,.!?])`)
	commaRe    = regexp.MustCompile(`,{2,}`)
)

// Extract builds final segments from refined spans. Each segment gets exactly
// the cues whose start lies in [Start, End), joined in time order. Segments
// with no text are skipped.
func Extract(segments []types.RefinedSegment, full []types.TimedSegment) []types.FinalSegment {
	out := make([]types.FinalSegment, 0, len(segments))
	for _, s := range segments {
		if f, ok := extractOne(s, full); ok {
			out = append(out, f)
		}
	}
	return out
}

func extractOne(s types.RefinedSegment, full []types.TimedSegment) (types.FinalSegment, bool) {
	cues := cuesStartingIn(full, s.Start, s.End)
	parts := make([]string, 0, len(cues))
	for _, c := range cues {
		parts = append(parts, c.Text)
	}
	text := Sanitize(strings.Join(parts, " "))
	if text == "" {
		return types.FinalSegment{}, false
	}

	return types.FinalSegment{
		Title:        s.Title,
		Description:  s.Description,
		Start:        s.Start,
		End:          s.End,
		VerbatimText: text,
		KeyQuote:     KeyQuote(s.KeyQuote, text),
	}, true
}

// cuesStartingIn returns the cues with start in the half-open range [start, end).
func cuesStartingIn(full []types.TimedSegment, start, end float64) []types.TimedSegment {
	var out []types.TimedSegment
	for _, c := range full {
		if c.Start >= end {
			break
		}
		if c.Start >= start {
			out = append(out, c)
		}
	}
	return out
}

// Sanitize removes stutter and filler words left in concatenated cue text.
func Sanitize(text string) string {
	text = subtitles.CleanText(text)
	for {
		next := fillerRe.ReplaceAllString(text, "$1$2")
		next = punctRe.ReplaceAllString(spaceRe.ReplaceAllString(next, " "), "$1")
		next = commaRe.ReplaceAllString(next, ",")
		next = strings.TrimLeft(strings.TrimSpace(next), ",.!? ")
		next = subtitles.CleanText(next)
		if next == text {
			return text
		}
		text = next
	}
}

// KeyQuote returns the model's quote when it occurs in text, otherwise the
// first sentence of text cut to MaxKeyQuoteWords words.
func KeyQuote(quote, text string) string {
	quote = strings.Trim(strings.TrimSpace(quote), `"'`)
	if quote != "" && strings.Contains(normalizeQuote(text), normalizeQuote(quote)) {
		return quote
	}

	first := strings.TrimSpace(sentenceRe.FindString(text))
	words := strings.Fields(first)
	if len(words) > MaxKeyQuoteWords {
		words = words[:MaxKeyQuoteWords]
		return strings.Join(words, " ") + "..."
	}
	return strings.Join(words, " ")
}

func normalizeQuote(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', '"', '\'', ';', ':':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
