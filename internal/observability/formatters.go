// Package observability provides formatted CLI output and operational counters.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 72
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for the CLI
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	for _, line := range lines {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintProfile outputs the language profile that drove strategy ordering.
func (p *Printer) PrintProfile(profile types.LanguageProfile) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Ordering:   %s\n", profile.Ordering))
	sb.WriteString(fmt.Sprintf("Confidence: %.2f\n", profile.Confidence))
	sb.WriteString(fmt.Sprintf("Languages:  %s", strings.Join(profile.Languages(false), ", ")))
	p.printBox("LANGUAGE PROFILE", sb.String())
}

// PrintAttempts outputs the extraction attempt trail.
func (p *Printer) PrintAttempts(attempts []types.ExtractionAttempt) {
	if len(attempts) == 0 {
		return
	}

	var sb strings.Builder
	for i, a := range attempts {
		mark := "✗"
		if a.Outcome == types.OutcomeSuccess {
			mark = "✓"
		}
		sb.WriteString(fmt.Sprintf("%s %-22s %-16s %6s", mark, a.StrategyID, a.Outcome, a.Duration.Round(100*time.Millisecond)))
		if a.Retries > 0 {
			sb.WriteString(fmt.Sprintf(" (%d retries)", a.Retries))
		}
		sb.WriteString("\n")
		if a.Detail != "" {
			sb.WriteString(fmt.Sprintf("  %s\n", a.Detail))
		}
		if i < len(attempts)-1 && a.Detail != "" {
			sb.WriteString("\n")
		}
	}
	p.printBox(fmt.Sprintf("EXTRACTION ATTEMPTS (%d)", len(attempts)), sb.String())
}

// PrintSegments outputs the final segment list with timing and key quotes.
func (p *Printer) PrintSegments(segments []types.FinalSegment) {
	if len(segments) == 0 {
		p.printBox("SEGMENTS", "No segments found")
		return
	}

	var sb strings.Builder
	for i, s := range segments {
		sb.WriteString(fmt.Sprintf("%2d. %s\n", i+1, s.Title))
		sb.WriteString(fmt.Sprintf("    %s → %s (%.0fs)\n",
			subtitles.FormatTimestamp(s.Start), subtitles.FormatTimestamp(s.End), s.Duration()))
		if s.KeyQuote != "" {
			sb.WriteString(fmt.Sprintf("    “%s”\n", s.KeyQuote))
		}
		if i < len(segments)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox(fmt.Sprintf("SEGMENTS (%d)", len(segments)), sb.String())
}

// PrintJobError outputs a failed run's error and the first attempts.
func (p *Printer) PrintJobError(jobErr *types.JobError) {
	if jobErr == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Kind:    %s\n", jobErr.Kind))
	sb.WriteString(fmt.Sprintf("Message: %s\n", jobErr.Message))
	if jobErr.RetryAfterSeconds > 0 {
		sb.WriteString(fmt.Sprintf("Retry after: %s\n", time.Duration(jobErr.RetryAfterSeconds)*time.Second))
	}
	if len(jobErr.Attempts) > 0 {
		sb.WriteString("\nAttempts:\n")
		count := min(len(jobErr.Attempts), maxItemsToShow)
		for _, a := range jobErr.Attempts[:count] {
			sb.WriteString(fmt.Sprintf("  • %s: %s\n", a.StrategyID, a.Outcome))
		}
		if len(jobErr.Attempts) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(jobErr.Attempts)-maxItemsToShow))
		}
	}
	p.printBox("RUN FAILED", sb.String())
}

// truncate shortens s to n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
