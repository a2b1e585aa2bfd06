package job

import (
	"context"

	"medrag/internal/ledger"
)

// Repository is the slice of the crawl ledger that failed-job handling
// needs. ledger.PostgresRepo satisfies it.
type Repository interface {
	ListExhausted(ctx context.Context, limit int) ([]ledger.Link, error)
	ResetAttempts(ctx context.Context, link string) (string, error)
	Counts(ctx context.Context) (ledger.Counts, error)
}

var _ Repository = (*ledger.PostgresRepo)(nil)
