// Package ledger records which discovered article links have been crawled.
//
// A link enters the ledger as pending and moves to done exactly once. Failed
// attempts keep the link pending and push its next attempt out with an
// exponential delay until the attempt budget is spent.
package ledger

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
)

var (
	ErrInvalidLink = errors.New("invalid article link")
	ErrNotFound    = errors.New("link not found")
)

// Source identifies the journal that discovered a link.
type Source struct {
	Name     string
	Category string
}

type Link struct {
	ID            int64     `json:"id"`
	SourceName    string    `json:"journal_name"`
	URL           string    `json:"article_link"`
	Category      string    `json:"specialization"`
	Status        Status    `json:"scraped"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	DiscoveredAt  time.Time `json:"discovered_at"`
}

type Counts struct {
	Pending   int `json:"pending"`
	Done      int `json:"done"`
	Exhausted int `json:"exhausted"`
}

// NormalizeLink trims the link, drops its fragment and requires an absolute
// http(s) URL.
func NormalizeLink(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidLink, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidLink, raw)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// normalizeBatch validates every candidate and drops in-batch duplicates.
// One bad link rejects the whole batch.
func normalizeBatch(candidates []string) ([]string, error) {
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		n, err := NormalizeLink(c)
		if err != nil {
			return nil, err
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out, nil
}

const (
	retryInitialDelay = time.Minute
	retryMaxDelay     = 24 * time.Hour
)

// RetryDelay is the wait before the next attempt after the given number of
// failed attempts: 1m, 2m, 4m ... capped at 24h.
func RetryDelay(attempts int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     retryInitialDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         retryMaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	d := retryInitialDelay
	for i := 0; i < attempts; i++ {
		d = b.NextBackOff()
	}
	return d
}
