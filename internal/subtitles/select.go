package subtitles

import (
	"strings"

	"github.com/jonathan/shorts-agent/internal/types"
)

// Select picks exactly one artifact by strict priority, first match wins:
//  1. manual in the primary language
//  2. manual in any other language
//  3. auto-generated in the primary language
//  4. auto-generated in any other language
//
// Within a rule, input order breaks ties. Empty artifacts are never chosen.
func Select(artifacts []types.SubtitleArtifact, primary string) (types.SubtitleArtifact, bool) {
	rules := []func(types.SubtitleArtifact) bool{
		func(a types.SubtitleArtifact) bool {
			return a.SourceKind == types.SourceManual && SameLanguage(a.Language, primary)
		},
		func(a types.SubtitleArtifact) bool { return a.SourceKind == types.SourceManual },
		func(a types.SubtitleArtifact) bool {
			return a.SourceKind == types.SourceAutoGenerated && SameLanguage(a.Language, primary)
		},
		func(a types.SubtitleArtifact) bool { return a.SourceKind == types.SourceAutoGenerated },
	}

	for _, rule := range rules {
		for _, a := range artifacts {
			if strings.TrimSpace(a.RawText) == "" {
				continue
			}
			if rule(a) {
				return a, true
			}
		}
	}
	return types.SubtitleArtifact{}, false
}

// SameLanguage compares base language subtags, so "en-US" matches "en" and
// yt-dlp's "en-orig" matches "en".
func SameLanguage(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return baseLanguage(a) == baseLanguage(b)
}

func baseLanguage(code string) string {
	code = strings.ToLower(code)
	if i := strings.IndexAny(code, "-_"); i >= 0 {
		code = code[:i]
	}
	return code
}
