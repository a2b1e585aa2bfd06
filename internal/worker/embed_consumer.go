package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/nsqio/go-nsq"

	"medrag/internal/article"
)

// EmbedConsumer runs the embedding synchronizer for one category per
// embed.category message.
type EmbedConsumer struct {
	sync CategorySync
	base context.Context
}

func NewEmbedConsumer(s CategorySync) *EmbedConsumer {
	return &EmbedConsumer{sync: s}
}

// SetBaseContext roots every sync started by this consumer in ctx. Call it
// before the consumer connects.
func (h *EmbedConsumer) SetBaseContext(ctx context.Context) {
	h.base = ctx
}

func (h *EmbedConsumer) HandleMessage(m *nsq.Message) error {
	if len(m.Body) == 0 {
		return nil
	}

	var payload EmbedCategoryPayload
	if err := json.Unmarshal(m.Body, &payload); err != nil {
		// Poison Pill: Invalid JSON, don't retry
		slog.Error("poison pill: invalid json", "topic", "embed.category", "error", err)
		return nil
	}

	ctx := messageContext(h.base, payload.CorrelationID)
	category := strings.TrimSpace(payload.Category)
	if category == "" {
		slog.ErrorContext(ctx, "dropping embed request without category")
		return nil
	}

	res, err := h.sync.SyncCategory(ctx, category)
	if errors.Is(err, article.ErrInvalidCategory) {
		slog.ErrorContext(ctx, "dropping embed request", "category", category, "error", err)
		return nil
	}
	if err != nil {
		slog.ErrorContext(ctx, "embedding sync failed", "category", category, "error", err)
		return err // Retry
	}

	slog.InfoContext(ctx, "embedding sync handled",
		"category", category, "scanned", res.Scanned, "embedded", res.Embedded, "skipped", res.Skipped)
	return nil
}
