// Package prompts holds the planner's model prompts. Each embedded JSON file
// maps prompt keys to text/template sources with {{.Field}} placeholders.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// Prompt files and keys used by the planner
const (
	DiscoveryFile  = "discovery.json"
	DiscoverTopics = "discover-topics"

	RefinementFile = "refinement.json"
	RefineSegment  = "refine-segment"
)

//go:embed *.json
var promptFiles embed.FS

var (
	templates   = make(map[string]*template.Template)
	templatesMu sync.Mutex
)

// Get returns the raw template text for a prompt.
func Get(filename, key string) (string, error) {
	set, err := readFile(filename)
	if err != nil {
		return "", err
	}
	text, ok := set[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return text, nil
}

// Render executes a prompt with data. Every placeholder must have a value.
func Render(filename, key string, data map[string]string) (string, error) {
	tmpl, err := lookup(filename, key)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("prompt %s/%s: %w", filename, key, err)
	}
	return b.String(), nil
}

func lookup(filename, key string) (*template.Template, error) {
	id := filename + "/" + key

	templatesMu.Lock()
	defer templatesMu.Unlock()
	if t, ok := templates[id]; ok {
		return t, nil
	}

	text, err := Get(filename, key)
	if err != nil {
		return nil, err
	}
	t, err := template.New(id).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt %s: %w", id, err)
	}
	templates[id] = t
	return t, nil
}

func readFile(filename string) (map[string]string, error) {
	data, err := promptFiles.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", filename, err)
	}
	var set map[string]string
	if err := json.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", filename, err)
	}
	return set, nil
}
