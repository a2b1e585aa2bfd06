package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"medrag/internal/config"
)

type SourceRunner interface {
	RunSource(ctx context.Context, src config.Source) (Report, error)
}

type LinkCleaner interface {
	DeleteEmpty(ctx context.Context) (int64, error)
}

// Runner fans passes out over sources on a bounded pool.
type Runner struct {
	pipeline    SourceRunner
	cleaner     LinkCleaner
	concurrency int
}

func NewRunner(p SourceRunner, c LinkCleaner, concurrency int) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{pipeline: p, cleaner: c, concurrency: concurrency}
}

// RunAll runs one pass per source. A failing source does not stop the
// others; their errors are joined into the returned error. Reports are in
// source order.
func (r *Runner) RunAll(ctx context.Context, sources []config.Source) ([]Report, error) {
	reports := make([]Report, len(sources))
	errs := make([]error, len(sources))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, src := range sources {
		g.Go(func() error {
			if ctx.Err() != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Name, ctx.Err())
				return nil
			}
			rep, err := r.pipeline.RunSource(ctx, src)
			reports[i] = rep
			if err != nil {
				slog.ErrorContext(ctx, "source pass failed", "source", src.Name, "error", err)
				errs[i] = fmt.Errorf("%s: %w", src.Name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if r.cleaner != nil && ctx.Err() == nil {
		n, err := r.cleaner.DeleteEmpty(ctx)
		if err != nil {
			slog.WarnContext(ctx, "link cleanup failed", "error", err)
		} else if n > 0 {
			slog.InfoContext(ctx, "removed empty links", "count", n)
		}
	}

	return reports, errors.Join(errs...)
}
