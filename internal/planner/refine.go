package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonathan/shorts-agent/internal/llm"
	"github.com/jonathan/shorts-agent/internal/prompts"
	"github.com/jonathan/shorts-agent/internal/schemas"
	"github.com/jonathan/shorts-agent/internal/types"
)

type refinementResponse struct {
	Fit      bool    `json:"fit"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Title    string  `json:"title"`
	KeyQuote string  `json:"key_quote"`
}

// Refine fits topics into the duration window. Only topics longer than
// MaxDuration are sent to the model; the rest pass through. Every span is
// clamped to the transcript and accepted only if its duration is within
// [MinDuration, MaxDuration+GracePeriod]. Topics that do not fit are dropped.
func (p *Planner) Refine(ctx context.Context, topics []types.CandidateTopic, segments []types.TimedSegment, language string) ([]types.RefinedSegment, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	lo, hi := segments[0].Start, segments[len(segments)-1].End
	limit := p.cfg.MaxDuration.Seconds()

	var out []types.RefinedSegment
	for _, t := range topics {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seg := types.RefinedSegment{
			Title:       t.Title,
			Description: t.Description,
			KeyQuote:    t.KeyQuote,
			Score:       t.Score,
			Start:       clamp(t.ApproxStart, lo, hi),
			End:         clamp(t.ApproxEnd, lo, hi),
		}

		if seg.Duration() > limit {
			refined, ok, err := p.refineOne(ctx, seg, segments, language)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				p.logger.Warn("segment refinement failed, dropping topic",
					slog.String("title", t.Title),
					slog.String("error", err.Error()))
				continue
			}
			if !ok {
				p.logger.Debug("model could not fit topic", slog.String("title", t.Title))
				continue
			}
			seg = refined
		}

		if !p.Accept(seg.Duration()) {
			p.logger.Debug("dropping segment outside duration window",
				slog.String("title", seg.Title),
				slog.Float64("duration", seg.Duration()))
			continue
		}
		out = append(out, seg)
	}
	return out, nil
}

// Accept reports whether a duration in seconds is inside the grace-adjusted window.
func (p *Planner) Accept(duration float64) bool {
	return duration >= p.cfg.MinDuration.Seconds() &&
		duration <= (p.cfg.MaxDuration+p.cfg.GracePeriod).Seconds()
}

// refineOne asks the cheaper model for a sub-span. The answer is kept inside
// the original topic span.
func (p *Planner) refineOne(ctx context.Context, seg types.RefinedSegment, segments []types.TimedSegment, language string) (types.RefinedSegment, bool, error) {
	window := cuesStartingIn(segments, seg.Start, seg.End)
	if len(window) == 0 {
		return seg, false, nil
	}

	prompt, err := prompts.Render(prompts.RefinementFile, prompts.RefineSegment, map[string]string{
		"Title":       seg.Title,
		"Description": orDefault(seg.Description, "engaging "+languageName(language)+" moment"),
		"Start":       formatSeconds(seg.Start),
		"End":         formatSeconds(seg.End),
		"MinDuration": formatSeconds(p.cfg.MinDuration.Seconds()),
		"MaxDuration": formatSeconds(p.cfg.MaxDuration.Seconds()),
		"Transcript":  formatLines(window),
	})
	if err != nil {
		return seg, false, err
	}

	text, err := p.generate(ctx, prompt, llm.TierLite, schemas.Refinement)
	if err != nil {
		return seg, false, err
	}

	var resp refinementResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return seg, false, fmt.Errorf("failed to parse refinement response: %w", err)
	}
	if !resp.Fit {
		return seg, false, nil
	}

	start, end := clamp(resp.Start, seg.Start, seg.End), clamp(resp.End, seg.Start, seg.End)
	if end <= start {
		return seg, false, nil
	}
	seg.Start, seg.End = start, end
	if title := strings.TrimSpace(resp.Title); title != "" {
		seg.Title = title
	}
	if quote := strings.TrimSpace(resp.KeyQuote); quote != "" {
		seg.KeyQuote = quote
	}
	return seg, true, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
