package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/jonathan/shorts-agent/internal/types"
)

const defaultYtdlpPath = "yt-dlp"

// CommandRunner runs a program in dir and returns its captured output.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) (stdout, stderr []byte, err error)

// YTDLP executes yt-dlp strategies. Subtitles are written into a fresh
// temporary directory per invocation and read back as artifacts.
type YTDLP struct {
	// Path is the path to the yt-dlp executable. Defaults to "yt-dlp".
	Path string
	// ExtraArgs are appended before the video URL.
	ExtraArgs []string
	// TempDir is the parent of per-invocation work directories.
	TempDir string

	run CommandRunner
}

// NewYTDLP creates a yt-dlp executor.
func NewYTDLP(path string) *YTDLP {
	if path == "" {
		path = defaultYtdlpPath
	}
	return &YTDLP{Path: path, run: runCommand}
}

// Args builds the yt-dlp command line for an invocation writing into outDir.
// Priority languages are requested as prefix patterns so regional and
// "-orig" variants match. Cookies are passed only for authenticated
// strategies.
func (y *YTDLP) Args(inv Invocation, outDir string) []string {
	return y.args(inv, outDir, subLangs(inv.Strategy.SubtitleLanguagePriority))
}

func (y *YTDLP) args(inv Invocation, outDir, langs string) []string {
	s := inv.Strategy
	args := []string{"--skip-download", "--no-progress", "--write-info-json"}

	switch s.SubtitleKinds {
	case types.KindsManual:
		args = append(args, "--write-subs")
	case types.KindsAuto:
		args = append(args, "--write-auto-subs")
	default:
		args = append(args, "--write-subs", "--write-auto-subs")
	}

	args = append(args, "--sub-langs", langs)

	formats := strings.Join(s.SubtitleFormats, "/")
	if formats == "" {
		formats = "vtt/best"
	}
	args = append(args, "--sub-format", formats)

	if s.ClientIdentity != "" {
		args = append(args, "--extractor-args", "youtube:player_client="+s.ClientIdentity)
	}
	if s.UsesAuthentication && inv.CredentialHandle != "" {
		args = append(args, "--cookies", inv.CredentialHandle)
	}

	args = append(args, "-o", filepath.Join(outDir, "%(id)s.%(ext)s"))
	args = append(args, y.ExtraArgs...)
	args = append(args, "--", WatchURL(inv.VideoID))
	return args
}

// Execute implements Executor. When the priority languages yield nothing a
// second pass requests the languages the first pass's info document lists.
func (y *YTDLP) Execute(ctx context.Context, inv Invocation) ([]types.SubtitleArtifact, error) {
	dir, err := os.MkdirTemp(y.TempDir, "subs-"+inv.VideoID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	artifacts, text, err := y.pass(ctx, inv, dir, y.Args(inv, dir))
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 && len(inv.Strategy.SubtitleLanguagePriority) > 0 && fallbackAllowed(text) {
		if langs := fallbackLanguages(readInfo(dir, inv.VideoID), inv.Strategy.SubtitleKinds); langs != "" {
			artifacts, text, err = y.pass(ctx, inv, dir, y.args(inv, dir, langs))
			if err != nil {
				return nil, err
			}
		}
	}

	if len(artifacts) == 0 {
		if Classify(text) != types.OutcomeTransientError {
			return nil, &ToolError{Tool: types.ToolYTDLP, Strategy: inv.Strategy.ID, Text: text}
		}
		return nil, &ToolError{Tool: types.ToolYTDLP, Strategy: inv.Strategy.ID, Text: text, Cause: ErrNoSubtitles}
	}
	return artifacts, nil
}

// pass runs yt-dlp once and reads back whatever subtitle files it wrote,
// along with its diagnostic text.
func (y *YTDLP) pass(ctx context.Context, inv Invocation, dir string, args []string) ([]types.SubtitleArtifact, string, error) {
	run := y.run
	if run == nil {
		run = runCommand
	}
	path := y.Path
	if path == "" {
		path = defaultYtdlpPath
	}

	stdout, stderr, err := run(ctx, dir, path, args...)
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, "", fmt.Errorf("%s: %w", path, ErrToolMissing)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", &ToolError{Tool: types.ToolYTDLP, Strategy: inv.Strategy.ID, Text: "timed out", Cause: ctxErr}
		}
		return nil, "", &ToolError{Tool: types.ToolYTDLP, Strategy: inv.Strategy.ID, Text: diagnostic(stderr, stdout), Cause: err}
	}

	artifacts, err := readSubtitleFiles(dir, inv.VideoID)
	if err != nil {
		return nil, "", err
	}
	return artifacts, diagnostic(stderr, stdout), nil
}

// subLangs turns a language priority into yt-dlp prefix patterns.
func subLangs(priority []string) string {
	if len(priority) == 0 {
		return "all,-live_chat"
	}
	patterns := make([]string, 0, len(priority))
	seen := make(map[string]bool)
	for _, l := range priority {
		p := regexp.QuoteMeta(l) + ".*"
		if l != "" && !seen[p] {
			seen[p] = true
			patterns = append(patterns, p)
		}
	}
	return strings.Join(patterns, ",")
}

// fallbackAllowed reports whether an empty first pass is worth a second one:
// rate limiting and sign-in walls would only repeat.
func fallbackAllowed(text string) bool {
	switch Classify(text) {
	case types.OutcomeRateLimited, types.OutcomeAuthBlocked:
		return false
	default:
		return true
	}
}

// fallbackLanguages lists the exact track names worth a second pass: every
// manual track, and only the original-language automatic track since the
// rest are machine translations.
func fallbackLanguages(info infoJSON, kinds string) string {
	var langs []string
	if kinds != types.KindsAuto {
		for lang := range info.Subtitles {
			if lang != "live_chat" {
				langs = append(langs, regexp.QuoteMeta(lang))
			}
		}
	}
	if kinds != types.KindsManual {
		for lang := range info.AutomaticCaptions {
			if strings.HasSuffix(lang, "-orig") {
				langs = append(langs, regexp.QuoteMeta(lang))
			}
		}
	}
	sort.Strings(langs)
	return strings.Join(langs, ",")
}

// infoJSON is the subset of yt-dlp's info document used to tell manual
// subtitles from automatic captions.
type infoJSON struct {
	Subtitles         map[string]json.RawMessage `json:"subtitles"`
	AutomaticCaptions map[string]json.RawMessage `json:"automatic_captions"`
}

func readInfo(dir, videoID string) infoJSON {
	var info infoJSON
	if data, err := os.ReadFile(filepath.Join(dir, videoID+".info.json")); err == nil {
		_ = json.Unmarshal(data, &info)
	}
	return info
}

// subtitleExts are the extensions yt-dlp writes for subtitle tracks.
var subtitleExts = map[string]bool{
	"vtt": true, "srt": true, "srv1": true, "srv2": true, "srv3": true, "json3": true, "ttml": true,
}

// readSubtitleFiles turns <id>.<lang>.<ext> files into artifacts, sorted by
// file name so results are deterministic.
func readSubtitleFiles(dir, videoID string) ([]types.SubtitleArtifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list work directory: %w", err)
	}

	info := readInfo(dir, videoID)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var artifacts []types.SubtitleArtifact
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, videoID+".")
		if !ok {
			continue
		}
		dot := strings.LastIndex(rest, ".")
		if dot <= 0 {
			continue
		}
		lang, ext := rest[:dot], rest[dot+1:]
		if !subtitleExts[ext] {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read subtitle file %s: %w", name, err)
		}
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}

		kind := types.SourceManual
		_, manual := info.Subtitles[lang]
		_, auto := info.AutomaticCaptions[lang]
		if auto && !manual {
			kind = types.SourceAutoGenerated
		}
		artifacts = append(artifacts, types.SubtitleArtifact{
			Language:   lang,
			SourceKind: kind,
			Format:     ext,
			RawText:    string(data),
			Ref:        name,
		})
	}
	return artifacts, nil
}

// diagnostic returns the most useful part of a tool's output: ERROR lines
// first, then warnings, then whatever stderr said.
func diagnostic(stderr, stdout []byte) string {
	combined := string(stderr) + "\n" + string(stdout)
	var errorsOut, warnings []string
	for _, line := range strings.Split(combined, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ERROR:"):
			errorsOut = append(errorsOut, line)
		case strings.HasPrefix(line, "WARNING:"):
			warnings = append(warnings, line)
		}
	}
	switch {
	case len(errorsOut) > 0:
		return strings.Join(errorsOut, "\n")
	case len(warnings) > 0:
		return strings.Join(warnings, "\n")
	default:
		return strings.TrimSpace(string(stderr))
	}
}

func runCommand(ctx context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
