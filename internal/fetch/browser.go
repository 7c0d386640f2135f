package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultBrowserSettle is how long a page may run scripts when no ready
// expression is given.
const DefaultBrowserSettle = 2 * time.Second

// RenderOptions configures Render.
type RenderOptions struct {
	// ReadyExpr is a JavaScript expression polled until it is truthy.
	ReadyExpr string
	// Timeout bounds the whole render. Zero uses ctx's deadline or DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Render loads url in headless Chrome and returns the document HTML.
// Chrome or Chromium must be installed.
func Render(ctx context.Context, url string, opts RenderOptions) (string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(DefaultUserAgent),
		)...,
	)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	wait := chromedp.Action(chromedp.Sleep(DefaultBrowserSettle))
	if opts.ReadyExpr != "" {
		var ready bool
		wait = chromedp.Poll(opts.ReadyExpr, &ready, chromedp.WithPollingInterval(250*time.Millisecond))
	}

	start := time.Now()
	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
		wait,
		chromedp.OuterHTML("html", &html),
	); err != nil {
		return "", fmt.Errorf("browser rendering failed: %w", err)
	}

	logger.Debug("rendered page",
		slog.String("url", url),
		slog.Int("bytes", len(html)),
		slog.Duration("elapsed", time.Since(start)))
	return html, nil
}
