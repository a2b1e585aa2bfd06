package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"medrag/internal/config"
	"medrag/internal/middleware"
)

// IngestSourcePayload asks for one crawl pass of a named source.
type IngestSourcePayload struct {
	Source        string `json:"source"`
	CorrelationID string `json:"correlation_id"`
}

// EmbedCategoryPayload asks for one embedding sync of a category.
type EmbedCategoryPayload struct {
	Category      string `json:"category"`
	CorrelationID string `json:"correlation_id"`
}

// PublishIngest queues a crawl pass for source, carrying the caller's
// correlation ID.
func PublishIngest(ctx context.Context, p Publisher, source string) error {
	body, err := json.Marshal(IngestSourcePayload{
		Source:        source,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := p.Publish(config.TopicIngestSource, body); err != nil {
		return fmt.Errorf("publish %s: %w", config.TopicIngestSource, err)
	}
	return nil
}

// PublishEmbed queues an embedding sync for category.
func PublishEmbed(ctx context.Context, p Publisher, category string) error {
	body, err := json.Marshal(EmbedCategoryPayload{
		Category:      category,
		CorrelationID: middleware.GetCorrelationID(ctx),
	})
	if err != nil {
		return err
	}
	if err := p.Publish(config.TopicEmbedCategory, body); err != nil {
		return fmt.Errorf("publish %s: %w", config.TopicEmbedCategory, err)
	}
	return nil
}

// messageContext derives a handler context from base, which the consumer's
// owner cancels on shutdown.
func messageContext(base context.Context, correlationID string) context.Context {
	ctx := base
	if ctx == nil {
		ctx = context.Background()
	}
	if correlationID != "" {
		ctx = middleware.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}
