package types

// Ordering selects how language candidates are requested across strategies.
type Ordering string

const (
	// OrderPrimaryFirst requests the majority language first everywhere
	OrderPrimaryFirst Ordering = "primary_first"
	// OrderSecondaryFirst requests the minority language first everywhere
	OrderSecondaryFirst Ordering = "secondary_first"
	// OrderQuickProbe runs a short minority-language probe, then majority-first
	OrderQuickProbe Ordering = "quick_probe_then_secondary"
)

// LanguageProfile is derived once per request and never changes during a run.
type LanguageProfile struct {
	PrimaryLanguage   string   `json:"primary_language"`
	SecondaryLanguage string   `json:"secondary_language"`
	Confidence        float64  `json:"confidence"`
	Ordering          Ordering `json:"strategy_ordering"`
	// Majority and Minority keep the configured language pair for ordering.
	Majority string `json:"majority"`
	Minority string `json:"minority"`
}

// Languages returns the language request order for one strategy.
// probe is true only for the first strategy of a quick-probe run.
func (p LanguageProfile) Languages(probe bool) []string {
	switch p.Ordering {
	case OrderSecondaryFirst:
		return dedupe(p.Minority, p.Majority)
	case OrderQuickProbe:
		if probe {
			return dedupe(p.Minority, p.Majority)
		}
		return dedupe(p.Majority, p.Minority)
	default:
		return dedupe(p.Majority, p.Minority)
	}
}

func dedupe(langs ...string) []string {
	seen := make(map[string]bool, len(langs))
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}
