// Package embedsync brings the vector index in line with the metadata
// store. A record is marked embedded only after each collection it belongs
// to holds exactly one vector object for its url.
package embedsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"medrag/internal/article"
	"medrag/internal/text"
	"medrag/internal/vector"
)

type ArticleStore interface {
	ListPendingEmbeddings(ctx context.Context, category string, limit int) ([]article.Record, error)
	MarkEmbeddingStatus(ctx context.Context, category, url string, status article.EmbeddingStatus) error
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Upsert(ctx context.Context, collection string, obj vector.Object) error
	CountByURL(ctx context.Context, collection, url string) (int, error)
}

type Options struct {
	MergedCollection string
	Dimensions       int
	BatchSize        int
	RecordTimeout    time.Duration
	StoreTimeout     time.Duration
}

type Result struct {
	Category string `json:"category"`
	Scanned  int    `json:"scanned"`
	Embedded int    `json:"embedded"`
	Skipped  int    `json:"skipped"`
}

var errNotConverged = errors.New("vector object count did not converge")

type Synchronizer struct {
	store    ArticleStore
	embedder Embedder
	vectors  VectorStore
	opts     Options
}

func New(store ArticleStore, embedder Embedder, vectors VectorStore, opts Options) *Synchronizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.RecordTimeout <= 0 {
		opts.RecordTimeout = 2 * time.Minute
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 30 * time.Second
	}
	return &Synchronizer{store: store, embedder: embedder, vectors: vectors, opts: opts}
}

// SyncCategory embeds every pending record of category. Per-record failures
// are logged and counted as skipped; the record stays pending for the next
// pass. Only a failure to list pending records is returned.
func (s *Synchronizer) SyncCategory(ctx context.Context, category string) (Result, error) {
	res := Result{Category: category}

	listCtx, cancel := context.WithTimeout(ctx, s.opts.StoreTimeout)
	records, err := s.store.ListPendingEmbeddings(listCtx, category, s.opts.BatchSize)
	cancel()
	if err != nil {
		return res, fmt.Errorf("list pending embeddings for %s: %w", category, err)
	}
	res.Scanned = len(records)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.syncRecord(ctx, category, rec); err != nil {
			res.Skipped++
			slog.WarnContext(ctx, "embedding sync skipped record", "category", category, "url", rec.URL, "error", err)
			continue
		}
		res.Embedded++
	}

	slog.InfoContext(ctx, "embedding sync finished", "category", category, "scanned", res.Scanned, "embedded", res.Embedded, "skipped", res.Skipped)
	return res, nil
}

func (s *Synchronizer) syncRecord(ctx context.Context, category string, rec article.Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RecordTimeout)
	defer cancel()

	vectors, err := s.embedFields(ctx, rec)
	if err != nil {
		return err
	}

	obj := vector.Object{
		URL:      rec.URL,
		Title:    rec.Title,
		Abstract: rec.Abstract,
		Authors:  rec.Authors,
		Vectors:  vectors,
	}
	merged := obj
	merged.Specialization = category

	targets := []struct {
		collection string
		obj        vector.Object
	}{
		{category, obj},
		{s.opts.MergedCollection, merged},
	}
	for _, target := range targets {
		if err := s.vectors.Upsert(ctx, target.collection, target.obj); err != nil {
			return err
		}
		n, err := s.vectors.CountByURL(ctx, target.collection, rec.URL)
		if err != nil {
			return fmt.Errorf("verify %s: %w", target.collection, err)
		}
		if n != 1 {
			return fmt.Errorf("%w: %s holds %d objects for %s", errNotConverged, target.collection, n, rec.URL)
		}
	}

	return s.store.MarkEmbeddingStatus(ctx, category, rec.URL, article.EmbeddingDone)
}

func (s *Synchronizer) embedFields(ctx context.Context, rec article.Record) (map[string][]float32, error) {
	fields := map[string]string{
		vector.TitleVector:    rec.Title,
		vector.AbstractVector: rec.Abstract,
		vector.AuthorsVector:  rec.Authors,
	}
	out := make(map[string][]float32, len(fields))
	for _, name := range vector.VectorFields {
		value := fields[name]
		if !text.IsAvailable(value) {
			out[name] = make([]float32, s.opts.Dimensions)
			continue
		}
		vec, err := s.embedder.Embed(ctx, value)
		if err != nil {
			return nil, fmt.Errorf("embed %s: %w", name, err)
		}
		if s.opts.Dimensions > 0 && len(vec) != s.opts.Dimensions {
			return nil, fmt.Errorf("embed %s: got %d dimensions, want %d", name, len(vec), s.opts.Dimensions)
		}
		out[name] = vec
	}
	return out, nil
}
