// Package extraction acquires subtitle artifacts from YouTube by driving an
// ordered catalog of extraction strategies against shared cooldown state.
package extraction

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/shorts-agent/internal/types"
)

//go:embed catalog.json
var defaultCatalogJSON []byte

// Catalog is the ordered, versioned list of extraction strategies.
type Catalog struct {
	Version int                        `json:"version" validate:"gte=1"`
	Entries []types.ExtractionStrategy `json:"strategies" validate:"required,min=1,dive"`
}

// ParseCatalog decodes and validates a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse strategy catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultCatalog returns the embedded catalog.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded strategy catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog file, or returns the embedded catalog when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Validate checks field constraints and that strategy IDs are unique.
func (c *Catalog) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid strategy catalog: %w", err)
	}
	seen := make(map[string]bool, len(c.Entries))
	for _, s := range c.Entries {
		if seen[s.ID] {
			return fmt.Errorf("invalid strategy catalog: duplicate strategy id %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Strategies returns copies of the enabled strategies in catalog order.
func (c *Catalog) Strategies() []types.ExtractionStrategy {
	out := make([]types.ExtractionStrategy, 0, len(c.Entries))
	for _, s := range c.Entries {
		if s.Enabled {
			s = s.WithLanguages(s.SubtitleLanguagePriority)
			s.SubtitleFormats = append([]string(nil), s.SubtitleFormats...)
			out = append(out, s)
		}
	}
	return out
}

// Lookup finds a strategy by ID, enabled or not.
func (c *Catalog) Lookup(id string) (types.ExtractionStrategy, bool) {
	for _, s := range c.Entries {
		if s.ID == id {
			return s, true
		}
	}
	return types.ExtractionStrategy{}, false
}

// WithDisabled returns a copy of the catalog with the given strategies disabled.
// Unknown IDs are an error.
func (c *Catalog) WithDisabled(ids ...string) (*Catalog, error) {
	out := &Catalog{Version: c.Version, Entries: make([]types.ExtractionStrategy, len(c.Entries))}
	copy(out.Entries, c.Entries)
	for _, id := range ids {
		found := false
		for i := range out.Entries {
			if out.Entries[i].ID == id {
				out.Entries[i].Enabled = false
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown strategy id %q", id)
		}
	}
	return out, nil
}
