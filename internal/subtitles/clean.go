package subtitles

import (
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/jonathan/shorts-agent/internal/types"
)

// maxRepeatRun is the longest phrase, in tokens, checked for adjacent repetition.
const maxRepeatRun = 8

var (
	// tagRe matches inline markup: <c>, <i>, <font ...>, and karaoke timestamps <00:00:01.000>.
	tagRe = regexp.MustCompile(`<[^<>]*>`)
	// bracketRe matches bracketed annotations like [Music] or [Applause].
	bracketRe = regexp.MustCompile(`\[[^\[\]]*\]`)
	// soundRe matches parenthesised sound annotations.
	soundRe = regexp.MustCompile(`(?i)\((?:music|applause|laughter|laughs|laughing|inaudible|crosstalk|silence|cheering|musik|tepuk tangan|tertawa)\)`)
	// noiseRe matches music notes, speaker-change chevrons and stray cue arrows.
	noiseRe = regexp.MustCompile(`[♪♫]+|>>+|-->`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// CleanText strips markup and annotations from one cue's text, collapses
// whitespace and removes immediately repeated words and phrases.
// CleanText(CleanText(s)) == CleanText(s).
func CleanText(text string) string {
	for {
		next := cleanOnce(text)
		if next == text {
			return text
		}
		text = next
	}
}

func cleanOnce(text string) string {
	text = unescapeAll(text)
	text = replaceAll(tagRe, text, " ")
	text = replaceAll(bracketRe, text, " ")
	text = soundRe.ReplaceAllString(text, " ")
	text = noiseRe.ReplaceAllString(text, " ")
	text = strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
	return strings.Join(collapseRepeats(strings.Fields(text)), " ")
}

// Clean parses raw subtitle content and returns ordered, non-overlapping
// segments. Cues that only repeat the previous cue are discarded, a cue that
// starts inside the previous one is clamped to its end, and a cue fully
// contained in the previous one is merged into it.
func Clean(raw string) ([]types.TimedSegment, error) {
	cues, _, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Normalize(cues), nil
}

// maxNormalizePasses bounds Normalize; real input settles in two passes.
const maxNormalizePasses = 16

// Normalize applies Clean's rules to already-parsed cues, repeating until the
// result no longer changes so that its output is a fixed point.
func Normalize(cues []types.TimedSegment) []types.TimedSegment {
	out := normalizeOnce(cues)
	for i := 0; i < maxNormalizePasses; i++ {
		next := normalizeOnce(out)
		if segmentsEqual(next, out) {
			break
		}
		out = next
	}
	return out
}

func normalizeOnce(cues []types.TimedSegment) []types.TimedSegment {
	sorted := make([]types.TimedSegment, 0, len(cues))
	for _, c := range cues {
		c.Text = CleanText(c.Text)
		if c.Text == "" {
			continue
		}
		if c.End < c.Start {
			c.End = c.Start
		}
		sorted = append(sorted, c)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]types.TimedSegment, 0, len(sorted))
	for _, c := range sorted {
		if len(out) == 0 {
			out = append(out, c)
			continue
		}
		last := &out[len(out)-1]

		tokens := stripCarryOver(last.Text, strings.Fields(c.Text))
		if len(tokens) == 0 {
			continue
		}
		c.Text = strings.Join(tokens, " ")

		if c.Start < last.End {
			if c.End <= last.End {
				last.Text = CleanText(last.Text + " " + c.Text)
				continue
			}
			c.Start = last.End
		}
		out = append(out, c)
	}
	return out
}

// stripCarryOver removes leading tokens of next that repeat the tail of prev.
// Automatic captions re-emit the end of one cue at the start of the next.
// It repeats until no overlap remains.
func stripCarryOver(prev string, next []string) []string {
	prevTokens := strings.Fields(prev)
	for len(next) > 0 {
		k := longestOverlap(prevTokens, next)
		if k == 0 {
			break
		}
		next = next[k:]
	}
	return next
}

// longestOverlap returns the largest k such that the last k tokens of a equal
// the first k tokens of b.
func longestOverlap(a, b []string) int {
	maxK := min(len(a), len(b))
	for k := maxK; k > 0; k-- {
		if tokensEqual(a[len(a)-k:], b[:k]) {
			return k
		}
	}
	return 0
}

// collapseRepeats removes immediately repeated runs of 1..maxRepeatRun tokens
// until none remain.
func collapseRepeats(tokens []string) []string {
	for {
		changed := false
		for n := 1; n <= maxRepeatRun && 2*n <= len(tokens); n++ {
			for i := 0; i+2*n <= len(tokens); {
				if tokensEqual(tokens[i:i+n], tokens[i+n:i+2*n]) {
					tokens = append(tokens[:i+n], tokens[i+2*n:]...)
					changed = true
					continue
				}
				i++
			}
		}
		if !changed {
			return tokens
		}
	}
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if normToken(a[i]) != normToken(b[i]) {
			return false
		}
	}
	return true
}

// normToken compares tokens case-insensitively and ignores surrounding punctuation.
func normToken(s string) string {
	trimmed := strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	if trimmed == "" {
		trimmed = s
	}
	return strings.ToLower(trimmed)
}

func unescapeAll(s string) string {
	for {
		next := html.UnescapeString(s)
		if next == s {
			return s
		}
		s = next
	}
}

func segmentsEqual(a, b []types.TimedSegment) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func replaceAll(re *regexp.Regexp, s, repl string) string {
	for {
		next := re.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}
