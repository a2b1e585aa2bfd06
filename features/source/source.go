package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"medrag/internal/config"
	"medrag/internal/ledger"
	"medrag/internal/worker"
)

var (
	ErrSourceDisabled = errors.New("source is disabled")
	ErrInvalidStatus  = errors.New("status must be pending or done")
)

const (
	defaultLinkLimit = 100
	maxLinkLimit     = 1000
)

type Service struct {
	catalog *config.Catalog
	links   LinkRepo
	pub     worker.Publisher
}

func NewService(catalog *config.Catalog, links LinkRepo, pub worker.Publisher) *Service {
	return &Service{catalog: catalog, links: links, pub: pub}
}

// List returns every catalog entry, disabled ones included.
func (s *Service) List(ctx context.Context) []config.Source {
	return s.catalog.Sources
}

// ReSync queues a crawl pass for the named source.
func (s *Service) ReSync(ctx context.Context, name string) (config.Source, error) {
	src, err := s.catalog.Find(name)
	if err != nil {
		return src, err
	}
	if src.Disabled {
		return src, fmt.Errorf("%w: %s", ErrSourceDisabled, src.Name)
	}

	if err := worker.PublishIngest(ctx, s.pub, src.Name); err != nil {
		slog.ErrorContext(ctx, "failed to publish resync event", "source", src.Name, "error", err)
		return src, err
	}
	slog.InfoContext(ctx, "published resync event", "source", src.Name)
	return src, nil
}

// Links lists the ledger entries of a source, newest first. An empty status
// returns both pending and done links.
func (s *Service) Links(ctx context.Context, name, status string, limit int) ([]ledger.Link, error) {
	src, err := s.catalog.Find(name)
	if err != nil {
		return nil, err
	}

	st := ledger.Status(strings.ToLower(strings.TrimSpace(status)))
	if st != "" && st != ledger.StatusPending && st != ledger.StatusDone {
		return nil, ErrInvalidStatus
	}

	if limit <= 0 {
		limit = defaultLinkLimit
	}
	if limit > maxLinkLimit {
		limit = maxLinkLimit
	}
	return s.links.ListBySource(ctx, src.Name, st, limit)
}
