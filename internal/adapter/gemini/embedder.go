package gemini

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"medrag/internal/settings"
)

// Embedder produces fixed-size embeddings. Documents and queries use the
// matching retrieval task types of the same model.
type Embedder struct {
	clients    *clientCache
	model      string
	dimensions int
}

func NewEmbedder(svc *settings.Service, model string, dimensions int, opts ...option.ClientOption) *Embedder {
	return &Embedder{
		clients:    newClientCache(svc, opts),
		model:      model,
		dimensions: dimensions,
	}
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed embeds text stored in the index.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, genai.TaskTypeRetrievalDocument)
}

// EmbedQuery embeds a search request.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(ctx, text, genai.TaskTypeRetrievalQuery)
}

func (e *Embedder) embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error) {
	client, err := e.clients.current(ctx)
	if err != nil {
		return nil, err
	}

	slog.DebugContext(ctx, "embedding content", "model", e.model, "length", len(text))
	em := client.EmbeddingModel(e.model)
	em.TaskType = task
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding received")
	}
	if e.dimensions > 0 && len(res.Embedding.Values) != e.dimensions {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(res.Embedding.Values), e.dimensions)
	}
	return res.Embedding.Values, nil
}

func (e *Embedder) Close() error {
	return e.clients.Close()
}
