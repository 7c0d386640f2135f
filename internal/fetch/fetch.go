// Package fetch downloads watch pages and small JSON documents over HTTP or a
// headless browser, and pulls embedded script data out of HTML.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent is a desktop browser agent. The watch page only embeds
// caption data for browser-like agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// MaxBodyBytes caps how much of a response body is read.
const MaxBodyBytes = 8 << 20

// Page is a downloaded document.
type Page struct {
	URL         string
	Body        string
	ContentType string
	Status      int
}

// StatusError is returned for any status other than 200. The Page is
// returned alongside it.
type StatusError struct {
	URL        string
	Status     int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP status %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Client issues GET requests with browser-like headers.
type Client struct {
	HTTP      *http.Client
	UserAgent string
	Header    http.Header
	// Cookies are sent with every request. The default skips the EU consent
	// interstitial, which has no player data.
	Cookies []*http.Cookie
}

// NewClient returns a client with the default timeout, agent and headers.
func NewClient() *Client {
	return &Client{
		HTTP:      &http.Client{Timeout: DefaultTimeout},
		UserAgent: DefaultUserAgent,
		Header:    http.Header{"Accept-Language": {"en-US,en;q=0.9"}},
		Cookies:   []*http.Cookie{{Name: "CONSENT", Value: "YES+"}},
	}
}

// Get downloads rawURL. Transport failures and bad URLs return a nil Page.
func (c *Client) Get(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	agent := c.UserAgent
	if agent == "" {
		agent = DefaultUserAgent
	}
	req.Header.Set("User-Agent", agent)
	for _, ck := range c.Cookies {
		req.AddCookie(ck)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", u.Host, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	page := &Page{
		URL:         rawURL,
		Body:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		Status:      resp.StatusCode,
	}
	if resp.StatusCode != http.StatusOK {
		return page, &StatusError{
			URL:        rawURL,
			Status:     resp.StatusCode,
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}
	return page, nil
}

// IsTimeout reports whether err came from a deadline or a network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ParseRetryAfter reads a Retry-After header in delay-seconds or HTTP-date form.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

// ScriptContaining returns the text of the first <script> element whose body
// contains marker.
func ScriptContaining(html, marker string) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var found string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if text := s.Text(); strings.Contains(text, marker) {
			found = text
			return false
		}
		return true
	})
	return found, found != "", nil
}

// ExtractJSONObject returns the balanced JSON object starting at the first '{'
// at or after start. String literals, including escaped quotes, are honored.
func ExtractJSONObject(s string, start int) (string, bool) {
	i := strings.IndexByte(s[start:], '{')
	if i < 0 {
		return "", false
	}
	i += start

	depth := 0
	inStr := false
	escaped := false
	for j := i; j < len(s); j++ {
		c := s[j]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[i : j+1], true
			}
		}
	}
	return "", false
}
