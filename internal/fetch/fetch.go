// Package fetch retrieves feed and article pages over plain HTTP, through a
// scraping proxy, or with a headless browser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var ErrUnknownFetcher = errors.New("unknown fetcher")

// Fetcher returns the raw body of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: http %d", e.URL, e.Code)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type Config struct {
	Timeout    time.Duration
	MaxBytes   int64
	UserAgent  string
	MaxRetries int
	// InitialBackoff is the first retry delay. Zero means 500ms.
	InitialBackoff time.Duration
}

func (c *Config) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = 10 * 1024 * 1024
	}
	if c.UserAgent == "" {
		c.UserAgent = "medrag/1.0"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
}

// HTTPFetcher is a GET client that retries 429, 5xx and transport errors
// with exponential backoff.
type HTTPFetcher struct {
	client *http.Client
	cfg    Config
}

func NewHTTPFetcher(cfg Config) *HTTPFetcher {
	cfg.defaults()
	return &HTTPFetcher{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f.get(ctx, url, url)
}

// get fetches target; label is the URL used in errors, so proxy keys never
// leak into logs.
func (f *HTTPFetcher) get(ctx context.Context, target, label string) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := f.once(ctx, target, label)
		if err != nil {
			var se *StatusError
			if errors.As(err, &se) && !se.Retryable() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	err := backoff.Retry(op, backoff.WithContext(f.policy(), ctx))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *HTTPFetcher) policy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.cfg.InitialBackoff
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(f.cfg.MaxRetries))
}

func (f *HTTPFetcher) once(ctx context.Context, target, label string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: new request: %w", label, err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return nil, &StatusError{URL: label, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", label, err)
	}
	return body, nil
}
