package worker

import (
	"context"

	"medrag/internal/config"
	"medrag/internal/embedsync"
	"medrag/internal/ingest"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

type SourcePass interface {
	RunSource(ctx context.Context, src config.Source) (ingest.Report, error)
}

type CategorySync interface {
	SyncCategory(ctx context.Context, category string) (embedsync.Result, error)
}

type SourceCatalog interface {
	Find(name string) (config.Source, error)
}
