package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

// IngestConsumer runs a crawl pass for each ingest.source message and then
// queues an embedding sync for the source's category.
type IngestConsumer struct {
	catalog   SourceCatalog
	pass      SourcePass
	publisher Publisher
	base      context.Context
}

func NewIngestConsumer(c SourceCatalog, p SourcePass, pub Publisher) *IngestConsumer {
	return &IngestConsumer{catalog: c, pass: p, publisher: pub}
}

// SetBaseContext roots every pass started by this consumer in ctx, so
// cancelling ctx stops in-flight passes. Call it before the consumer
// connects.
func (h *IngestConsumer) SetBaseContext(ctx context.Context) {
	h.base = ctx
}

func (h *IngestConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload IngestSourcePayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "topic", "ingest.source", "error", err)
		return nil
	}

	ctx := messageContext(h.base, payload.CorrelationID)

	src, err := h.catalog.Find(payload.Source)
	if err != nil {
		slog.ErrorContext(ctx, "dropping ingest request", "source", payload.Source, "error", err)
		return nil
	}
	if src.Disabled {
		slog.WarnContext(ctx, "source disabled, skipping", "source", src.Name)
		return nil
	}

	rep, err := h.pass.RunSource(ctx, src)
	if err != nil {
		slog.ErrorContext(ctx, "ingest pass failed", "source", src.Name, "error", err)
		return err // Retry
	}

	// Published even when nothing new was inserted so earlier failed
	// embeddings get another chance.
	if err := PublishEmbed(ctx, h.publisher, src.Category); err != nil {
		slog.ErrorContext(ctx, "failed to queue embedding sync", "category", src.Category, "error", err)
	}

	slog.InfoContext(ctx, "ingest pass handled", "source", src.Name, "inserted", rep.Inserted, "failed", rep.Failed)
	return nil
}
