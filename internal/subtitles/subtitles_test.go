package subtitles

import (
	"testing"

	"github.com/jonathan/shorts-agent/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const autoCaptionVTT = `WEBVTT
Kind: captions
Language: en

00:00:00.000 --> 00:00:02.500 align:start position:0%
hello<00:00:00.500><c> world</c>

00:00:02.500 --> 00:00:02.510 align:start position:0%
hello world

00:00:02.510 --> 00:00:05.000 align:start position:0%
hello world
this is<00:00:03.000><c> a test</c>
`

const manualSRT = "1\r\n00:00:01,000 --> 00:00:03,000\r\n[Music]\r\n\r\n" +
	"2\r\n00:00:03,000 --> 00:00:05,500\r\n<i>Welcome</i> to the &amp; show\r\n\r\n" +
	"3\r\n00:00:05,500 --> 00:00:07,000\r\n ♪ la la ♪\r\n"

const overlappingSRT = `1
00:00:00,000 --> 00:00:04,000
first line

2
00:00:01,000 --> 00:00:02,000
inner words

3
00:00:03,000 --> 00:00:06,000
second line

4
00:00:05,000 --> 00:00:07,000
second line
`

const json3Doc3 = `{"events":[
{"tStartMs":0,"dDurationMs":1500,"segs":[{"utf8":"hi"},{"utf8":" there"}]},
{"tStartMs":1500,"dDurationMs":10,"aAppend":1,"segs":[{"utf8":"\n"}]},
{"tStartMs":2000,"dDurationMs":1000,"segs":[{"utf8":"friend"}]},
{"tStartMs":3000,"dDurationMs":500}
]}`

const srv1XML = `<?xml version="1.0" encoding="utf-8" ?><transcript>` +
	`<text start="0.5" dur="1.25">it&amp;#39;s fine</text>` +
	`<text start="1.75" dur="2">next</text></transcript>`

const srv3XML = `<?xml version="1.0" encoding="utf-8" ?><timedtext format="3"><body>` +
	`<p t="0" d="1000">one</p><p t="1000" d="1000"><s>two</s></p></body></timedtext>`

func TestDetect(t *testing.T) {
	assert.Equal(t, FormatWebVTT, Detect(autoCaptionVTT))
	assert.Equal(t, FormatSRT, Detect(manualSRT))
	assert.Equal(t, FormatJSON3, Detect(json3Doc3))
	assert.Equal(t, FormatXML, Detect(srv1XML))
	assert.Equal(t, FormatPlain, Detect("just some words"))
	assert.Equal(t, FormatWebVTT, Detect("\ufeffWEBVTT\n\n"))
}

func TestClean_AutoCaptionRollingLines(t *testing.T) {
	segs, err := Clean(autoCaptionVTT)
	require.NoError(t, err)

	assert.Equal(t, []types.TimedSegment{
		{Start: 0, End: 2.5, Text: "hello world"},
		{Start: 2.51, End: 5, Text: "this is a test"},
	}, segs)
}

func TestClean_SRTMarkupAndAnnotations(t *testing.T) {
	segs, err := Clean(manualSRT)
	require.NoError(t, err)

	assert.Equal(t, []types.TimedSegment{
		{Start: 3, End: 5.5, Text: "Welcome to the & show"},
		{Start: 5.5, End: 7, Text: "la"},
	}, segs)
}

func TestClean_OverlappingCues(t *testing.T) {
	segs, err := Clean(overlappingSRT)
	require.NoError(t, err)

	assert.Equal(t, []types.TimedSegment{
		{Start: 0, End: 4, Text: "first line inner words"},
		{Start: 4, End: 6, Text: "second line"},
	}, segs)
}

func TestClean_OrderedAndNonOverlapping(t *testing.T) {
	for _, raw := range []string{autoCaptionVTT, manualSRT, overlappingSRT, json3Doc3, srv1XML, srv3XML} {
		segs, err := Clean(raw)
		require.NoError(t, err)
		for i := 1; i < len(segs); i++ {
			assert.LessOrEqual(t, segs[i-1].Start, segs[i].Start)
			assert.LessOrEqual(t, segs[i-1].End, segs[i].Start, "segments %d and %d overlap", i-1, i)
		}
	}
}

func TestClean_JSON3(t *testing.T) {
	segs, err := Clean(json3Doc3)
	require.NoError(t, err)

	assert.Equal(t, []types.TimedSegment{
		{Start: 0, End: 1.5, Text: "hi there"},
		{Start: 2, End: 3, Text: "friend"},
	}, segs)
}

func TestClean_TimedTextXML(t *testing.T) {
	segs, err := Clean(srv1XML)
	require.NoError(t, err)
	assert.Equal(t, []types.TimedSegment{
		{Start: 0.5, End: 1.75, Text: "it's fine"},
		{Start: 1.75, End: 3.75, Text: "next"},
	}, segs)

	segs, err = Clean(srv3XML)
	require.NoError(t, err)
	assert.Equal(t, []types.TimedSegment{
		{Start: 0, End: 1, Text: "one"},
		{Start: 1, End: 2, Text: "two"},
	}, segs)
}

func TestClean_InvalidJSON(t *testing.T) {
	_, err := Clean("{not json")
	assert.Error(t, err)
}

func TestClean_Idempotent(t *testing.T) {
	fixtures := map[string]string{
		"auto vtt":    autoCaptionVTT,
		"manual srt":  manualSRT,
		"overlapping": overlappingSRT,
		"json3":       json3Doc3,
		"srv1":        srv1XML,
		"srv3":        srv3XML,
		"plain":       "line one\nline one\nline two",
		"stutter": `WEBVTT

00:00:00.000 --> 00:00:02.000
so so so we we go

00:00:01.500 --> 00:00:03.000
we go go to the the market

00:00:03.000 --> 00:00:03.000
market
`,
	}

	for name, raw := range fixtures {
		t.Run(name, func(t *testing.T) {
			once, err := Clean(raw)
			require.NoError(t, err)
			twice, err := Clean(FormatVTT(once))
			require.NoError(t, err)
			assert.Equal(t, once, twice)
		})
	}
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"the the cat sat sat on the mat", "the cat sat on the mat"},
		{"going to going to the store", "going to the store"},
		{"Hello, hello world", "Hello, world"},
		{"<font color=\"#E5E5E5\">quiet</font>   please", "quiet please"},
		{"[Applause] thank you (laughs)", "thank you"},
		{">> next speaker", "next speaker"},
		{"&amp;amp; done", "& done"},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := CleanText(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, CleanText(got))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00.000", FormatTimestamp(0))
	assert.Equal(t, "00:01:02.345", FormatTimestamp(62.345))
	assert.Equal(t, "01:00:00.001", FormatTimestamp(3600.001))
}

func TestFormatVTT_RoundTripsAsWebVTT(t *testing.T) {
	in := []types.TimedSegment{{Start: 0, End: 1.5, Text: "halo semua"}, {Start: 1.5, End: 3, Text: "apa kabar"}}
	out := FormatVTT(in)

	segments, format, err := Parse(out)
	require.NoError(t, err)
	assert.Equal(t, FormatWebVTT, format)
	assert.Equal(t, in, segments)
}

func TestParseTimestamp(t *testing.T) {
	v, ok := parseTimestamp("01:02.5")
	require.True(t, ok)
	assert.Equal(t, 62.5, v)

	v, ok = parseTimestamp("1:00:00,250")
	require.True(t, ok)
	assert.Equal(t, 3600.25, v)
}

func TestSelect_ManualAnyLanguageBeatsAutoPrimary(t *testing.T) {
	artifacts := []types.SubtitleArtifact{
		{Language: "en", SourceKind: types.SourceManual, RawText: "en manual"},
		{Language: "id", SourceKind: types.SourceAutoGenerated, RawText: "id auto"},
	}

	got, ok := Select(artifacts, "id")
	require.True(t, ok)
	assert.Equal(t, "en manual", got.RawText)
}

func TestSelect_PriorityRules(t *testing.T) {
	manualID := types.SubtitleArtifact{Language: "id", SourceKind: types.SourceManual, RawText: "1"}
	manualEN := types.SubtitleArtifact{Language: "en-US", SourceKind: types.SourceManual, RawText: "2"}
	autoID := types.SubtitleArtifact{Language: "id", SourceKind: types.SourceAutoGenerated, RawText: "3"}
	autoEN := types.SubtitleArtifact{Language: "en-orig", SourceKind: types.SourceAutoGenerated, RawText: "4"}

	tests := []struct {
		name      string
		artifacts []types.SubtitleArtifact
		primary   string
		want      string
	}{
		{"rule 1", []types.SubtitleArtifact{autoID, manualEN, manualID}, "id", "1"},
		{"rule 2", []types.SubtitleArtifact{autoID, manualEN}, "id", "2"},
		{"rule 3", []types.SubtitleArtifact{autoEN, autoID}, "id", "3"},
		{"rule 4", []types.SubtitleArtifact{autoEN}, "id", "4"},
		{"subtag match", []types.SubtitleArtifact{manualID, manualEN}, "en", "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Select(tt.artifacts, tt.primary)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.RawText)
		})
	}
}

func TestSelect_NeverReturnsAutoWhenManualExists(t *testing.T) {
	langs := []string{"en", "id", "fr"}
	for _, manualLang := range langs {
		for _, primary := range langs {
			artifacts := []types.SubtitleArtifact{
				{Language: "en", SourceKind: types.SourceAutoGenerated, RawText: "auto"},
				{Language: "id", SourceKind: types.SourceAutoGenerated, RawText: "auto"},
				{Language: manualLang, SourceKind: types.SourceManual, RawText: "manual"},
			}
			got, ok := Select(artifacts, primary)
			require.True(t, ok)
			assert.Equal(t, types.SourceManual, got.SourceKind)
		}
	}
}

func TestSelect_SkipsEmptyAndHandlesNone(t *testing.T) {
	_, ok := Select(nil, "en")
	assert.False(t, ok)

	got, ok := Select([]types.SubtitleArtifact{
		{Language: "en", SourceKind: types.SourceManual, RawText: "  "},
		{Language: "en", SourceKind: types.SourceAutoGenerated, RawText: "auto"},
	}, "en")
	require.True(t, ok)
	assert.Equal(t, types.SourceAutoGenerated, got.SourceKind)
}

func TestPlainText(t *testing.T) {
	assert.Equal(t, "a b", PlainText([]types.TimedSegment{{Text: "a"}, {Text: "b"}}))
}
