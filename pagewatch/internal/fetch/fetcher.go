// Package fetch retrieves the raw bytes of a page or script over HTTP.
//
// One GET per call, no retries. Any transport failure, any non-2xx final
// status and any body above the size cap is returned as an *Error.
package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/pagewatch/horosafe"
)

// Response is a successful fetch.
type Response struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
}

// Error is a failed fetch. StatusCode is 0 when no response was received.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: http %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Config configures the fetcher.
type Config struct {
	Timeout  time.Duration // per request, including body read. Default: 30s.
	MaxBytes int64         // max body size. Default: 10MB.
	// UserAgent sent with requests.
	UserAgent string
	// URLValidator runs before each request and each redirect.
	// Default: horosafe.ValidateURL.
	URLValidator func(string) error
	// Client overrides the HTTP client. Timeout and redirect policy are
	// the caller's responsibility when set.
	Client *http.Client
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "pagewatch/1.0"
	}
	if c.URLValidator == nil {
		c.URLValidator = horosafe.ValidateURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

const maxRedirects = 10

// Fetcher performs single-attempt HTTP GETs.
type Fetcher struct {
	client *http.Client
	config Config
}

// New creates a Fetcher. Redirect targets go through the URL validator too.
func New(cfg Config) *Fetcher {
	cfg.defaults()
	client := cfg.Client
	if client == nil {
		validate := cfg.URLValidator
		client = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (%d)", len(via))
				}
				if err := validate(req.URL.String()); err != nil {
					return fmt.Errorf("redirect blocked: %w", err)
				}
				return nil
			},
		}
	}
	return &Fetcher{client: client, config: cfg}
}

// Fetch GETs url and returns its body.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Response, error) {
	if err := f.config.URLValidator(url); err != nil {
		return nil, &Error{URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{URL: url, Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("User-Agent", f.config.UserAgent)

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}

	body, err := horosafe.LimitedReadAll(resp.Body, f.config.MaxBytes)
	if err != nil {
		return nil, &Error{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	f.config.Logger.Debug("fetch: fetched",
		"url", url, "status", resp.StatusCode, "size", len(body),
		"duration_ms", time.Since(start).Milliseconds())

	return &Response{
		URL:         url,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
