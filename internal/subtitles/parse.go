// Package subtitles selects the best subtitle artifact and turns it into
// ordered, non-overlapping timed segments.
package subtitles

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jonathan/shorts-agent/internal/types"
)

// Format is a subtitle container format.
type Format string

const (
	FormatWebVTT Format = "vtt"
	FormatSRT    Format = "srt"
	FormatXML    Format = "srv1"
	FormatJSON3  Format = "json3"
	FormatPlain  Format = "plain"
)

// timingRe matches "00:01:02.345 --> 00:01:04.000" and the SRT comma variant,
// with or without the hour field. Cue settings after the end time are ignored.
var timingRe = regexp.MustCompile(`((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})\s*-->\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})`)

// Detect sniffs the container format from content.
func Detect(raw string) Format {
	trimmed := strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	switch {
	case strings.HasPrefix(trimmed, "WEBVTT"):
		return FormatWebVTT
	case strings.HasPrefix(trimmed, "{"):
		return FormatJSON3
	case strings.HasPrefix(trimmed, "<"):
		return FormatXML
	case timingRe.MatchString(trimmed):
		return FormatSRT
	default:
		return FormatPlain
	}
}

// Parse decodes raw subtitle content into cues in file order. Cue text is
// returned as found; cleaning happens in Clean.
func Parse(raw string) ([]types.TimedSegment, Format, error) {
	raw = strings.TrimPrefix(raw, "\ufeff")
	format := Detect(raw)

	var (
		cues []types.TimedSegment
		err  error
	)
	switch format {
	case FormatWebVTT, FormatSRT:
		cues = parseBlocks(raw)
	case FormatJSON3:
		cues, err = parseJSON3(raw)
	case FormatXML:
		cues, err = parseTimedText(raw)
	default:
		cues = parsePlain(raw)
	}
	if err != nil {
		return nil, format, err
	}
	return cues, format, nil
}

// parseBlocks handles both WebVTT and SRT: blank-line separated blocks whose
// text follows a timing line. Header, NOTE, STYLE and REGION blocks have no
// timing line and are skipped.
func parseBlocks(raw string) []types.TimedSegment {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var cues []types.TimedSegment
	for _, block := range strings.Split(raw, "\n\n") {
		lines := strings.Split(strings.Trim(block, "\n"), "\n")
		timingIdx := -1
		for i, line := range lines {
			if timingRe.MatchString(line) {
				timingIdx = i
				break
			}
		}
		if timingIdx < 0 {
			continue
		}
		m := timingRe.FindStringSubmatch(lines[timingIdx])
		start, okStart := parseTimestamp(m[1])
		end, okEnd := parseTimestamp(m[2])
		if !okStart || !okEnd {
			continue
		}
		text := strings.Join(lines[timingIdx+1:], " ")
		cues = append(cues, types.TimedSegment{Start: start, End: end, Text: text})
	}
	return cues
}

// parseTimestamp converts [hh:]mm:ss.mmm to seconds with millisecond precision.
func parseTimestamp(ts string) (float64, bool) {
	ts = strings.Replace(ts, ",", ".", 1)
	mainPart, fracPart, _ := strings.Cut(ts, ".")
	fields := strings.Split(mainPart, ":")

	var total int64
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}

	for len(fracPart) < 3 {
		fracPart += "0"
	}
	ms, err := strconv.ParseInt(fracPart[:3], 10, 64)
	if err != nil {
		return 0, false
	}
	return msToSeconds(total*1000 + ms), true
}

type json3Doc struct {
	Events []struct {
		TStartMs    int64 `json:"tStartMs"`
		DDurationMs int64 `json:"dDurationMs"`
		Segs        []struct {
			UTF8 string `json:"utf8"`
		} `json:"segs"`
	} `json:"events"`
}

func parseJSON3(raw string) ([]types.TimedSegment, error) {
	var doc json3Doc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse json3 subtitles: %w", err)
	}

	var cues []types.TimedSegment
	for _, ev := range doc.Events {
		if len(ev.Segs) == 0 {
			continue
		}
		var sb strings.Builder
		for _, seg := range ev.Segs {
			sb.WriteString(seg.UTF8)
		}
		cues = append(cues, types.TimedSegment{
			Start: msToSeconds(ev.TStartMs),
			End:   msToSeconds(ev.TStartMs + ev.DDurationMs),
			Text:  sb.String(),
		})
	}
	return cues, nil
}

// timedTextDoc covers both timedtext layouts: srv1 <transcript><text start dur>
// in seconds and srv3 <timedtext><body><p t d> in milliseconds.
type timedTextDoc struct {
	Texts []struct {
		Start string `xml:"start,attr"`
		Dur   string `xml:"dur,attr"`
		Inner string `xml:",innerxml"`
	} `xml:"text"`
	Paragraphs []struct {
		T     int64  `xml:"t,attr"`
		D     int64  `xml:"d,attr"`
		Inner string `xml:",innerxml"`
	} `xml:"body>p"`
}

func parseTimedText(raw string) ([]types.TimedSegment, error) {
	var doc timedTextDoc
	if err := xml.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse timedtext XML: %w", err)
	}

	var cues []types.TimedSegment
	for _, t := range doc.Texts {
		start, err := strconv.ParseFloat(t.Start, 64)
		if err != nil {
			continue
		}
		dur, _ := strconv.ParseFloat(t.Dur, 64)
		startMs := secondsToMs(start)
		cues = append(cues, types.TimedSegment{
			Start: msToSeconds(startMs),
			End:   msToSeconds(startMs + secondsToMs(dur)),
			Text:  t.Inner,
		})
	}
	for _, p := range doc.Paragraphs {
		cues = append(cues, types.TimedSegment{
			Start: msToSeconds(p.T),
			End:   msToSeconds(p.T + p.D),
			Text:  p.Inner,
		})
	}
	return cues, nil
}

// parsePlain turns untimed text into one zero-length cue per line.
func parsePlain(raw string) []types.TimedSegment {
	var cues []types.TimedSegment
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		cues = append(cues, types.TimedSegment{Text: line})
	}
	return cues
}

func msToSeconds(ms int64) float64 {
	return float64(ms) / 1000
}

func secondsToMs(s float64) int64 {
	if s < 0 {
		return 0
	}
	return int64(s*1000 + 0.5)
}
