package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_PlannerPrompts(t *testing.T) {
	discover, err := Get(DiscoveryFile, DiscoverTopics)
	require.NoError(t, err)
	assert.Contains(t, discover, "{{.Transcript}}")
	assert.Contains(t, discover, "{{.Count}}")

	refine, err := Get(RefinementFile, RefineSegment)
	require.NoError(t, err)
	assert.Contains(t, refine, "{{.MaxDuration}}")
}

func TestGet_Errors(t *testing.T) {
	_, err := Get("nonexistent.json", "some-key")
	assert.ErrorContains(t, err, "failed to read prompt file")

	_, err = Get(DiscoveryFile, "nonexistent-key")
	assert.ErrorContains(t, err, "not found")
}

func refinementData() map[string]string {
	return map[string]string{
		"Title":       "Why rice burns",
		"Description": "a surprising fact",
		"Start":       "10",
		"End":         "200",
		"MinDuration": "30",
		"MaxDuration": "90",
		"Transcript":  "[10.0] hello {{.Title}}",
	}
}

func TestRender(t *testing.T) {
	out, err := Render(RefinementFile, RefineSegment, refinementData())
	require.NoError(t, err)
	assert.Contains(t, out, "Why rice burns")
	assert.Contains(t, out, "between 30 and 90 seconds")
	// Values are inserted verbatim, never re-expanded.
	assert.Contains(t, out, "[10.0] hello {{.Title}}")
}

func TestRender_MissingValue(t *testing.T) {
	data := refinementData()
	delete(data, "MaxDuration")

	_, err := Render(RefinementFile, RefineSegment, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MaxDuration")
}

func TestRender_Discovery(t *testing.T) {
	out, err := Render(DiscoveryFile, DiscoverTopics, map[string]string{
		"Part":       "1 of 2",
		"Language":   "id",
		"ChunkStart": "0",
		"ChunkEnd":   "600",
		"Count":      "3",
		"Transcript": "[0.0] halo",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "Find up to 3 of the most engaging")
	assert.NotContains(t, out, "{{.")
}
