// Package language picks the order in which subtitle languages are requested.
// It is a heuristic over title and channel text, not a classifier: both
// languages are always attempted, only the order changes.
package language

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jonathan/shorts-agent/internal/types"
)

// MinorityThreshold is the keyword fraction at which the minority language goes first.
const MinorityThreshold = 0.5

// Config describes the language pair and the signals used to order it.
type Config struct {
	// Majority is requested first unless the hints point at the minority language.
	Majority string
	// Minority is the language scored by Keywords.
	Minority string
	// Keywords are lowercase tokens typical of the minority language.
	Keywords []string
	// MajorityMarkers match titles or channels known to publish in the majority language.
	MajorityMarkers []*regexp.Regexp
}

// DefaultConfig profiles Indonesian against English.
func DefaultConfig() Config {
	return Config{
		Majority:        "en",
		Minority:        "id",
		Keywords:        indonesianKeywords,
		MajorityMarkers: defaultMajorityMarkers,
	}
}

var indonesianKeywords = []string{
	"yang", "dan", "di", "ke", "dari", "ini", "itu", "untuk", "dengan", "tidak",
	"ada", "akan", "bisa", "sudah", "juga", "saya", "kita", "kami", "kamu", "aku",
	"apa", "anda", "mereka", "cara", "bagaimana", "kenapa", "mengapa", "kapan",
	"siapa", "dimana", "sangat", "banyak", "baru", "lagi", "jadi", "atau", "karena",
	"tapi", "tetapi", "harus", "belum", "pernah", "semua", "sama", "seperti",
	"pertama", "terbaik", "hari", "tahun", "orang", "indonesia", "jakarta",
	"bahasa", "belajar", "membuat", "menjadi", "tentang", "tanpa", "rahasia",
	"bikin", "banget", "nih", "dong", "gak", "nggak", "enggak", "gimana",
	"kok", "sih", "yuk", "ayo", "lho", "deh", "aja", "udah", "cuma", "kalo",
	"kalau", "sampai", "waktu", "uang", "sukses", "tips", "trik", "kisah",
	"cerita", "resep", "masak", "makan", "jalan", "rumah", "anak", "ibu",
	"bapak", "teman", "hidup", "kerja", "bisnis", "pengalaman", "episode",
}

var defaultMajorityMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(tedx?|ted-ed|bbc|cnn|nbc|cbs|abc news|fox news|vox|vice|wired|the verge|bloomberg|cnbc|kurzgesagt|veritasium|vsauce|mkbhd|linus tech tips)\b`),
	regexp.MustCompile(`(?i)\b(full episode|official trailer|official video|lecture|keynote|interview with)\b`),
}

var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,4})?$`)

// Profiler derives a LanguageProfile from request hints.
type Profiler struct {
	cfg      Config
	keywords map[string]bool
}

// NewProfiler creates a profiler. Zero-valued fields fall back to DefaultConfig.
func NewProfiler(cfg Config) *Profiler {
	def := DefaultConfig()
	if cfg.Majority == "" {
		cfg.Majority = def.Majority
	}
	if cfg.Minority == "" {
		cfg.Minority = def.Minority
	}
	if cfg.Keywords == nil {
		cfg.Keywords = def.Keywords
	}
	if cfg.MajorityMarkers == nil {
		cfg.MajorityMarkers = def.MajorityMarkers
	}

	kw := make(map[string]bool, len(cfg.Keywords))
	for _, k := range cfg.Keywords {
		kw[strings.ToLower(k)] = true
	}
	return &Profiler{cfg: cfg, keywords: kw}
}

// Profile scores the hints and picks an ordering. It never fails: with no
// signal the result has zero confidence and the quick-probe ordering.
// extraHints may contain language codes, which override the text score.
func (p *Profiler) Profile(_ string, titleHint, channelHint string, extraHints ...string) types.LanguageProfile {
	var freeText []string
	for _, h := range extraHints {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if languageCodePattern.MatchString(h) {
			if profile, ok := p.explicit(h); ok {
				return profile
			}
		}
		freeText = append(freeText, h)
	}

	text := strings.Join(append([]string{titleHint, channelHint}, freeText...), " ")
	confidence := p.Score(text)

	switch {
	case confidence >= MinorityThreshold:
		return p.build(types.OrderSecondaryFirst, confidence)
	case p.hasMajorityMarker(titleHint, channelHint):
		return p.build(types.OrderPrimaryFirst, confidence)
	default:
		return p.build(types.OrderQuickProbe, confidence)
	}
}

// Score returns the fraction of tokens in text that are minority-language keywords.
func (p *Profiler) Score(text string) float64 {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return 0
	}
	matched := 0
	for _, tok := range tokens {
		if p.keywords[tok] {
			matched++
		}
	}
	return min(1.0, float64(matched)/float64(len(tokens)))
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func (p *Profiler) explicit(code string) (types.LanguageProfile, bool) {
	base := strings.ToLower(strings.SplitN(code, "-", 2)[0])
	switch base {
	case p.cfg.Minority:
		return p.build(types.OrderSecondaryFirst, 1.0), true
	case p.cfg.Majority:
		return p.build(types.OrderPrimaryFirst, 1.0), true
	}
	return types.LanguageProfile{}, false
}

func (p *Profiler) hasMajorityMarker(texts ...string) bool {
	for _, t := range texts {
		if t == "" {
			continue
		}
		for _, re := range p.cfg.MajorityMarkers {
			if re.MatchString(t) {
				return true
			}
		}
	}
	return false
}

func (p *Profiler) build(ordering types.Ordering, confidence float64) types.LanguageProfile {
	primary, secondary := p.cfg.Majority, p.cfg.Minority
	if ordering == types.OrderSecondaryFirst {
		primary, secondary = p.cfg.Minority, p.cfg.Majority
	}
	return types.LanguageProfile{
		PrimaryLanguage:   primary,
		SecondaryLanguage: secondary,
		Confidence:        confidence,
		Ordering:          ordering,
		Majority:          p.cfg.Majority,
		Minority:          p.cfg.Minority,
	}
}
