package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jonathan/shorts-agent/internal/fetch"
	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

// playerResponseMarker names the watch page variable holding the player JSON.
const playerResponseMarker = "ytInitialPlayerResponse"

const playerReadyExpr = "typeof " + playerResponseMarker + " !== 'undefined'"

// Client identities understood by WatchPage
const (
	IdentityWeb     = "web"
	IdentityBrowser = "browser"
)

// PageFetcher returns a page body and its HTTP status.
type PageFetcher func(ctx context.Context, url string) (body string, status int, err error)

// BrowserRenderer returns the rendered HTML of a page.
type BrowserRenderer func(ctx context.Context, url string) (string, error)

// WatchPage reads caption tracks from the watch page's embedded player
// response and downloads the chosen timedtext documents.
type WatchPage struct {
	// BaseURL is the watch page origin. Defaults to https://www.youtube.com.
	BaseURL string
	Fetch   PageFetcher
	Render  BrowserRenderer
	Logger  *slog.Logger
}

// NewWatchPage creates a watch-page executor on the fetch package's HTTP
// client and headless browser.
func NewWatchPage(logger *slog.Logger) *WatchPage {
	if logger == nil {
		logger = slog.Default()
	}
	client := fetch.NewClient()
	return &WatchPage{
		Logger: logger,
		Fetch: func(ctx context.Context, url string) (string, int, error) {
			page, err := client.Get(ctx, url)
			if page == nil {
				return "", 0, err
			}
			return page.Body, page.Status, err
		},
		Render: func(ctx context.Context, url string) (string, error) {
			return fetch.Render(ctx, url, fetch.RenderOptions{
				ReadyExpr: playerReadyExpr,
				Logger:    logger,
			})
		},
	}
}

// PlayerResponse is the subset of the embedded player JSON used for captions.
type PlayerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Renderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

type captionTrack struct {
	BaseURL      string `json:"baseUrl"`
	LanguageCode string `json:"languageCode"`
	Kind         string `json:"kind"`
}

func (t captionTrack) sourceKind() types.SourceKind {
	if t.Kind == "asr" {
		return types.SourceAutoGenerated
	}
	return types.SourceManual
}

// Execute implements Executor.
func (w *WatchPage) Execute(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error) {
	s := inv.Strategy
	base := strings.TrimRight(w.BaseURL, "/")
	if base == "" {
		base = "https://www.youtube.com"
	}
	pageURL := base + "/watch?v=" + inv.VideoID

	html, err := w.page(ctx, s, pageURL)
	if err != nil {
		return nil, err
	}

	resp, err := ParsePlayerResponse(html)
	if err != nil {
		return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: err.Error()}
	}
	if msg := playabilityError(resp); msg != "" {
		return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: msg}
	}

	tracks, preferred := chooseTracks(resp.Captions.Renderer.CaptionTracks, s)
	if len(tracks) == 0 {
		return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "no usable caption tracks", Cause: ErrNoSubtitles}
	}

	var artifacts []types.SubtitleArtifact
	var lastErr error
	for i, t := range tracks {
		if i == preferred && len(artifacts) > 0 {
			break
		}
		body, status, err := w.Fetch(ctx, t.BaseURL)
		if status == http.StatusTooManyRequests {
			return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "HTTP Error 429: Too Many Requests", Cause: err}
		}
		if err != nil {
			lastErr = err
			w.logger().Debug("caption track download failed",
				slog.String("video_id", inv.VideoID),
				slog.String("language", t.LanguageCode),
				slog.String("error", err.Error()))
			continue
		}
		if strings.TrimSpace(body) == "" {
			continue
		}
		artifacts = append(artifacts, types.SubtitleArtifact{
			Language:   t.LanguageCode,
			SourceKind: t.sourceKind(),
			Format:     string(subtitles.Detect(body)),
			RawText:    body,
			Ref:        t.LanguageCode + "." + t.Kind,
		})
	}

	if len(artifacts) == 0 {
		if lastErr != nil {
			return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "caption download failed", Cause: lastErr}
		}
		return nil, &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "caption tracks were empty", Cause: ErrNoSubtitles}
	}
	return artifacts, nil
}

func (w *WatchPage) page(ctx context.Context, s types.ExtractionStrategy, pageURL string) (string, error) {
	if s.ClientIdentity == IdentityBrowser {
		if w.Render == nil {
			return "", fmt.Errorf("browser rendering unavailable: %w", ErrToolMissing)
		}
		html, err := w.Render(ctx, pageURL)
		if err != nil {
			return "", &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "browser rendering failed", Cause: err}
		}
		return html, nil
	}

	body, status, err := w.Fetch(ctx, pageURL)
	switch {
	case status == http.StatusTooManyRequests:
		return "", &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "HTTP Error 429: Too Many Requests", Cause: err}
	case status == http.StatusNotFound:
		return "", &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "Video unavailable (HTTP 404)"}
	case err != nil:
		if fetch.IsTimeout(err) {
			return "", &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "timed out", Cause: context.DeadlineExceeded}
		}
		return "", &ToolError{Tool: types.ToolWatchPage, Strategy: s.ID, Text: "watch page request failed", Cause: err}
	}
	return body, nil
}

func (w *WatchPage) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// ParsePlayerResponse locates and decodes the player response embedded in a
// watch page.
func ParsePlayerResponse(html string) (*PlayerResponse, error) {
	script, ok, err := fetch.ScriptContaining(html, playerResponseMarker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("player response missing from watch page")
	}
	idx := strings.Index(script, playerResponseMarker)
	raw, ok := fetch.ExtractJSONObject(script, idx+len(playerResponseMarker))
	if !ok {
		return nil, errors.New("player response JSON is truncated")
	}

	var resp PlayerResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("failed to decode player response: %w", err)
	}
	return &resp, nil
}

// playabilityError renders a non-playable status in the upstream's wording so
// Classify can recognize it. OK and empty statuses return "".
func playabilityError(resp *PlayerResponse) string {
	status := resp.PlayabilityStatus
	switch status.Status {
	case "", "OK":
		return ""
	case "LOGIN_REQUIRED":
		if strings.Contains(strings.ToLower(status.Reason), "private") {
			return "Private video: " + status.Reason
		}
		return "Sign in required: " + status.Reason
	case "ERROR", "UNPLAYABLE", "LIVE_STREAM_OFFLINE":
		return "Video unavailable: " + status.Reason
	default:
		return fmt.Sprintf("playability status %s: %s", status.Status, status.Reason)
	}
}

// needsPoToken reports whether a caption URL can only be fetched by a browser
// session holding a proof-of-origin token.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

// chooseTracks returns the tracks worth downloading and how many of them are
// in a priority language. Priority tracks come first in priority order, then
// every other usable track with manual before automatic. At most one manual
// and one automatic track is kept per language code. Without a priority every
// usable track counts as preferred.
func chooseTracks(tracks []captionTrack, s types.ExtractionStrategy) ([]captionTrack, int) {
	wantKind := func(t captionTrack) bool {
		switch s.SubtitleKinds {
		case types.KindsManual:
			return t.sourceKind() == types.SourceManual
		case types.KindsAuto:
			return t.sourceKind() == types.SourceAutoGenerated
		default:
			return true
		}
	}

	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.BaseURL != "" && wantKind(t) && (s.ClientIdentity == IdentityBrowser || !needsPoToken(t.BaseURL)) {
			usable = append(usable, t)
		}
	}
	if len(s.SubtitleLanguagePriority) == 0 {
		return usable, len(usable)
	}

	type key struct {
		lang string
		kind types.SourceKind
	}
	seen := make(map[key]bool)
	var out []captionTrack
	add := func(t captionTrack) {
		k := key{t.LanguageCode, t.sourceKind()}
		if !seen[k] {
			seen[k] = true
			out = append(out, t)
		}
	}
	for _, lang := range s.SubtitleLanguagePriority {
		for _, t := range usable {
			if subtitles.SameLanguage(t.LanguageCode, lang) {
				add(t)
			}
		}
	}
	preferred := len(out)
	for _, kind := range []types.SourceKind{types.SourceManual, types.SourceAutoGenerated} {
		for _, t := range usable {
			if t.sourceKind() == kind {
				add(t)
			}
		}
	}
	return out, preferred
}
