// Package ingest runs crawl passes: read a source's feed, register new links
// in the ledger, then fetch, extract, enrich and store each pending article.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"medrag/internal/article"
	"medrag/internal/config"
	"medrag/internal/extract"
	"medrag/internal/feed"
	"medrag/internal/fetch"
	"medrag/internal/ledger"
)

type Ledger interface {
	RegisterLinks(ctx context.Context, src ledger.Source, candidates []string) ([]string, error)
	ListPending(ctx context.Context, sourceName string, limit int) ([]ledger.Link, error)
	MarkDone(ctx context.Context, link string) error
	RecordFailure(ctx context.Context, link string, cause error) error
}

type ArticleStore interface {
	EnsureSchema(ctx context.Context, category string) error
	UpsertArticle(ctx context.Context, rec article.Record) (bool, error)
}

type Enricher interface {
	Enrich(ctx context.Context, rec article.Record) article.Record
}

type FetcherLookup interface {
	Get(name string) (fetch.Fetcher, error)
}

type ExtractorLookup interface {
	Get(name string) (extract.Extractor, error)
}

type Options struct {
	// PendingBatch caps how many pending links one pass works through.
	PendingBatch int
	// LinkTimeout bounds the fetch-to-store work for a single link.
	LinkTimeout time.Duration
	// StoreTimeout bounds each pass-level ledger and schema call.
	StoreTimeout time.Duration
}

// Report summarizes one source pass.
type Report struct {
	Source     string `json:"source"`
	Category   string `json:"category"`
	Discovered int    `json:"discovered"`
	Dropped    int    `json:"dropped"`
	Registered int    `json:"registered"`
	Processed  int    `json:"processed"`
	Inserted   int    `json:"inserted"`
	Failed     int    `json:"failed"`
}

type Pipeline struct {
	ledger     Ledger
	articles   ArticleStore
	fetchers   FetcherLookup
	extractors ExtractorLookup
	enricher   Enricher
	opts       Options
	now        func() time.Time
}

func NewPipeline(l Ledger, a ArticleStore, f FetcherLookup, x ExtractorLookup, e Enricher, opts Options) *Pipeline {
	if opts.PendingBatch <= 0 {
		opts.PendingBatch = 200
	}
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = 2 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	return &Pipeline{
		ledger:     l,
		articles:   a,
		fetchers:   f,
		extractors: x,
		enricher:   e,
		opts:       opts,
		now:        time.Now,
	}
}

// RunSource performs one pass for src. Per-link failures are recorded in the
// ledger and the pass continues; store failures end the pass with an error.
func (p *Pipeline) RunSource(ctx context.Context, src config.Source) (Report, error) {
	rep := Report{Source: src.Name, Category: src.Category}

	fetcher, err := p.fetchers.Get(src.Fetcher)
	if err != nil {
		return rep, err
	}
	extractor, err := p.extractors.Get(src.Extractor)
	if err != nil {
		return rep, err
	}

	err = p.store(ctx, func(ctx context.Context) error {
		return p.articles.EnsureSchema(ctx, src.Category)
	})
	if err != nil {
		return rep, fmt.Errorf("ensure schema for %s: %w", src.Category, err)
	}

	links, dropped, err := p.discover(ctx, fetcher, src)
	if err != nil {
		// A dead feed must not block links already queued.
		slog.WarnContext(ctx, "feed discovery failed", "source", src.Name, "error", err)
	}
	rep.Discovered = len(links)
	rep.Dropped = dropped

	if len(links) > 0 {
		var added []string
		err := p.store(ctx, func(ctx context.Context) (err error) {
			added, err = p.ledger.RegisterLinks(ctx, ledger.Source{Name: src.Name, Category: src.Category}, links)
			return err
		})
		if err != nil {
			return rep, fmt.Errorf("register links: %w", err)
		}
		rep.Registered = len(added)
	}

	var pending []ledger.Link
	err = p.store(ctx, func(ctx context.Context) (err error) {
		pending, err = p.ledger.ListPending(ctx, src.Name, p.opts.PendingBatch)
		return err
	})
	if err != nil {
		return rep, fmt.Errorf("list pending: %w", err)
	}

	for _, link := range pending {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Processed++

		inserted, err := p.processLink(ctx, fetcher, extractor, src, link.URL)
		if err == nil {
			if inserted {
				rep.Inserted++
			}
			continue
		}

		rep.Failed++
		var storeErr *storeError
		if errors.As(err, &storeErr) {
			return rep, err
		}
		slog.WarnContext(ctx, "article extraction failed", "source", src.Name, "url", link.URL, "error", err)
		ferr := p.store(ctx, func(ctx context.Context) error {
			return p.ledger.RecordFailure(ctx, link.URL, err)
		})
		if ferr != nil {
			return rep, fmt.Errorf("record failure: %w", ferr)
		}
	}

	slog.InfoContext(ctx, "source pass complete",
		"source", rep.Source,
		"discovered", rep.Discovered,
		"dropped", rep.Dropped,
		"registered", rep.Registered,
		"processed", rep.Processed,
		"inserted", rep.Inserted,
		"failed", rep.Failed,
	)
	return rep, nil
}

// store runs one pass-level store call under StoreTimeout.
func (p *Pipeline) store(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return fn(ctx)
}

// discover returns the valid, de-duplicated article links announced by the
// source feed and the number of malformed links it dropped, so one bad entry
// does not reject the whole ledger batch.
func (p *Pipeline) discover(ctx context.Context, f fetch.Fetcher, src config.Source) ([]string, int, error) {
	body, err := f.Fetch(ctx, src.FeedURL)
	if err != nil {
		return nil, 0, err
	}
	parsed, err := feed.Parse(body, src.FeedURL)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]bool)
	var (
		out     []string
		dropped int
	)
	for _, raw := range parsed.Links() {
		link, err := ledger.NormalizeLink(raw)
		if err != nil {
			dropped++
			slog.WarnContext(ctx, "dropping malformed feed link", "source", src.Name, "link", raw, "error", err)
			continue
		}
		if seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out, dropped, nil
}

// storeError marks failures of the relational store, which end the pass.
type storeError struct{ err error }

func (e *storeError) Error() string { return e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

// isRecordError reports whether the database rejected the record itself
// (data exception or integrity violation) rather than the connection or
// the server failing.
func isRecordError(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code.Class() {
	case "22", "23":
		return true
	}
	return false
}

func (p *Pipeline) processLink(ctx context.Context, f fetch.Fetcher, x extract.Extractor, src config.Source, link string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.LinkTimeout)
	defer cancel()

	body, err := f.Fetch(ctx, link)
	if err != nil {
		return false, err
	}
	rec, err := x.Extract(link, body)
	if err != nil {
		return false, err
	}

	rec.Category = src.Category
	rec.URL = link
	rec.IngestionDate = p.now().UTC()
	if p.enricher != nil {
		rec = p.enricher.Enrich(ctx, rec)
	}

	inserted, err := p.articles.UpsertArticle(ctx, rec)
	if err != nil {
		if isRecordError(err) {
			return false, fmt.Errorf("store article: %w", err)
		}
		return false, &storeError{fmt.Errorf("store article: %w", err)}
	}
	if err := p.ledger.MarkDone(ctx, link); err != nil {
		return inserted, &storeError{fmt.Errorf("mark done: %w", err)}
	}
	return inserted, nil
}
