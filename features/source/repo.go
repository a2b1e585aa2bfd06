package source

import (
	"context"

	"medrag/internal/ledger"
)

// LinkRepo reads a source's links from the crawl ledger.
type LinkRepo interface {
	ListBySource(ctx context.Context, sourceName string, status ledger.Status, limit int) ([]ledger.Link, error)
}

var _ LinkRepo = (*ledger.PostgresRepo)(nil)
