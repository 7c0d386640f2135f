package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/jonathan/shorts-agent/internal/llm"
	"github.com/jonathan/shorts-agent/internal/prompts"
	"github.com/jonathan/shorts-agent/internal/schemas"
	"github.com/jonathan/shorts-agent/internal/types"
)

// ErrAllChunksFailed is returned by Discover when no chunk produced a response.
var ErrAllChunksFailed = errors.New("every transcript chunk failed")

type discoveryResponse struct {
	Topics []struct {
		Title       string  `json:"title"`
		Description string  `json:"description"`
		KeyQuote    string  `json:"key_quote"`
		Score       float64 `json:"score"`
		Start       float64 `json:"start"`
		End         float64 `json:"end"`
	} `json:"topics"`
}

// Chunk splits segments into consecutive windows whose formatted text stays
// within maxChars. A single oversized line forms its own chunk.
func Chunk(segments []types.TimedSegment, maxChars int) [][]types.TimedSegment {
	var chunks [][]types.TimedSegment
	var current []types.TimedSegment
	size := 0
	for _, s := range segments {
		n := len(formatLine(s)) + 1
		if len(current) > 0 && size+n > maxChars {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, s)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// TopicsPerChunk is how many topics discovery asks for in each chunk, so the
// run overshoots the target by half before refinement and dedup.
func TopicsPerChunk(target, chunks int) int {
	if chunks <= 0 {
		return 2
	}
	n := int(math.Ceil(1.5 * float64(target) / float64(chunks)))
	return max(2, n)
}

// Discover asks the model for engaging topics chunk by chunk, in document
// order and one call at a time. A chunk that fails after its retries is
// skipped; the error is returned only when every chunk failed.
func (p *Planner) Discover(ctx context.Context, segments []types.TimedSegment, language string) ([]types.CandidateTopic, error) {
	return p.discoverChunks(ctx, Chunk(segments, p.cfg.ChunkMaxChars), language)
}

func (p *Planner) discoverChunks(ctx context.Context, chunks [][]types.TimedSegment, language string) ([]types.CandidateTopic, error) {
	count := TopicsPerChunk(p.cfg.TargetSegments, len(chunks))

	var topics []types.CandidateTopic
	var lastErr error
	failed := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := p.discoverChunk(ctx, chunk, i+1, len(chunks), count, language)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failed++
			lastErr = err
			p.logger.Warn("topic discovery failed for chunk",
				slog.Int("chunk", i+1),
				slog.Int("chunks", len(chunks)),
				slog.String("error", err.Error()))
			continue
		}
		p.logger.Debug("topics discovered",
			slog.Int("chunk", i+1),
			slog.Int("topics", len(found)))
		topics = append(topics, found...)
	}

	if len(chunks) > 0 && failed == len(chunks) {
		return nil, fmt.Errorf("%w: %w", ErrAllChunksFailed, lastErr)
	}
	return topics, nil
}

func (p *Planner) discoverChunk(ctx context.Context, chunk []types.TimedSegment, part, parts, count int, language string) ([]types.CandidateTopic, error) {
	start, end := chunk[0].Start, chunk[len(chunk)-1].End
	prompt, err := prompts.Render(prompts.DiscoveryFile, prompts.DiscoverTopics, map[string]string{
		"Part":       fmt.Sprintf("%d of %d", part, parts),
		"Language":   languageName(language),
		"ChunkStart": formatSeconds(start),
		"ChunkEnd":   formatSeconds(end),
		"Count":      strconv.Itoa(count),
		"Transcript": formatLines(chunk),
	})
	if err != nil {
		return nil, err
	}

	text, err := p.generate(ctx, prompt, llm.TierStandard, schemas.Topics)
	if err != nil {
		return nil, err
	}

	var resp discoveryResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse discovery response: %w", err)
	}

	topics := make([]types.CandidateTopic, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		s, e := clamp(t.Start, start, end), clamp(t.End, start, end)
		if e <= s || strings.TrimSpace(t.Title) == "" {
			continue
		}
		topics = append(topics, types.CandidateTopic{
			Title:       strings.TrimSpace(t.Title),
			Description: strings.TrimSpace(t.Description),
			KeyQuote:    strings.TrimSpace(t.KeyQuote),
			Score:       normalizeScore(t.Score),
			ApproxStart: s,
			ApproxEnd:   e,
		})
		if len(topics) == count {
			break
		}
	}
	return topics, nil
}

// normalizeScore maps model scores onto [0, 1]; some models answer out of 10.
func normalizeScore(s float64) float64 {
	if s > 1 {
		s /= 10
	}
	return clamp(s, 0, 1)
}

func formatLines(segments []types.TimedSegment) string {
	var sb strings.Builder
	for i, s := range segments {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(formatLine(s))
	}
	return sb.String()
}

func formatLine(s types.TimedSegment) string {
	return "[" + formatSeconds(s.Start) + "] " + s.Text
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

var languageNames = map[string]string{
	"en": "English",
	"id": "Indonesian",
	"ms": "Malay",
	"jv": "Javanese",
	"su": "Sundanese",
}

func languageName(code string) string {
	base := strings.ToLower(strings.SplitN(code, "-", 2)[0])
	if name, ok := languageNames[base]; ok {
		return name
	}
	if code == "" {
		return "an unknown language"
	}
	return code
}
