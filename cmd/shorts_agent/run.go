package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/shorts-agent/internal/extraction"
	"github.com/jonathan/shorts-agent/internal/jobs"
	"github.com/jonathan/shorts-agent/internal/observability"
	"github.com/jonathan/shorts-agent/internal/pipeline"
	"github.com/jonathan/shorts-agent/internal/subtitles"
	"github.com/jonathan/shorts-agent/internal/types"
)

var runCommand = &cobra.Command{
	Use:   "run <video-id-or-url>",
	Short: "Acquire a transcript and plan segments for one video",
	Long: `Runs the pipeline synchronously: acquisition -> cleaning -> discovery -> refinement -> extraction.
Progress is printed as it happens, followed by the language profile, the extraction attempts and
the planned segments.`,
	Args: cobra.ExactArgs(1),
	RunE: runPipelineCmd,
}

var (
	runLanguages     []string
	runTitle         string
	runChannel       string
	runOut           string
	runTranscriptOut string
	runTimeout       time.Duration
	runVerbose       bool
)

func init() {
	runCommand.Flags().StringSliceVarP(&runLanguages, "lang", "l", nil, "Language hints, most preferred first (e.g. id,en)")
	runCommand.Flags().StringVar(&runTitle, "title", "", "Video title hint (looked up when title and channel are both empty)")
	runCommand.Flags().StringVar(&runChannel, "channel", "", "Channel name hint")
	runCommand.Flags().StringVarP(&runOut, "out", "o", "", "Write the result as JSON to this file")
	runCommand.Flags().StringVar(&runTranscriptOut, "transcript-out", "", "Write the cleaned transcript as WebVTT to this file")
	runCommand.Flags().DurationVar(&runTimeout, "timeout", 30*time.Minute, "Overall time limit for the run")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print debug logs")

	rootCmd.AddCommand(runCommand)
}

func runPipelineCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if runVerbose {
		cfg.LogLevel = "debug"
	}
	logger := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	req, err := buildRequest(args[0], runLanguages, runTitle, runChannel)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	stdout := cmd.OutOrStdout()
	printer := observability.NewPrinter(stdout)

	out, err := a.runner.Run(ctx, req, progressPrinter(stdout))
	if err != nil {
		printer.PrintJobError(jobs.Failure(ctx, err))
		return err
	}

	printer.PrintProfile(out.Profile)
	printer.PrintAttempts(out.Attempts)
	printer.PrintSegments(out.Segments)

	return writeOutputs(stdout, out, runOut, runTranscriptOut)
}

// buildRequest normalizes the video reference and drops empty hints.
func buildRequest(ref string, langs []string, title, channel string) (types.ExtractionRequest, error) {
	videoID, err := extraction.NormalizeVideoID(ref)
	if err != nil {
		return types.ExtractionRequest{}, err
	}
	var hints []string
	for _, l := range langs {
		if l = strings.TrimSpace(l); l != "" {
			hints = append(hints, l)
		}
	}
	return types.ExtractionRequest{
		VideoID:       videoID,
		LanguageHints: hints,
		Title:         title,
		Channel:       channel,
		RequestedAt:   time.Now(),
	}, nil
}

func progressPrinter(w io.Writer) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		_, _ = fmt.Fprintf(w, "[%s] %s\n", ev.Stage, ev.Message)
	}
}

// writeOutputs writes the optional JSON result and WebVTT transcript files.
func writeOutputs(w io.Writer, out *pipeline.Output, jsonPath, vttPath string) error {
	if jsonPath != "" {
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		if err := writeFile(jsonPath, data); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Result written to %s\n", jsonPath)
	}
	if vttPath != "" {
		if err := writeFile(vttPath, []byte(subtitles.FormatVTT(out.Transcript))); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "Transcript written to %s\n", vttPath)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
