package stats

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"medrag/internal/article"
	"medrag/internal/ledger"
	"medrag/internal/middleware"
)

type LinkRepo interface {
	Counts(ctx context.Context) (ledger.Counts, error)
}

type ArticleRepo interface {
	Counts(ctx context.Context, categories []string) (map[string]article.CategoryCount, error)
}

type VectorStore interface {
	Count(ctx context.Context, collection string) (int, error)
}

type Handler struct {
	sources     int
	categories  []string
	collections []string
	linkRepo    LinkRepo
	articleRepo ArticleRepo
	vectorStore VectorStore
}

// NewHandler reports on the given categories and vector collections.
// sources is the number of enabled catalog entries.
func NewHandler(sources int, categories, collections []string, l LinkRepo, a ArticleRepo, v VectorStore) *Handler {
	return &Handler{
		sources:     sources,
		categories:  categories,
		collections: collections,
		linkRepo:    l,
		articleRepo: a,
		vectorStore: v,
	}
}

type StatsResponse struct {
	Sources    int                              `json:"sources"`
	Links      ledger.Counts                    `json:"links"`
	Categories map[string]article.CategoryCount `json:"categories"`
	Vectors    map[string]int                   `json:"vectors"`
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	slog.InfoContext(ctx, "getting stats", "correlationId", correlationID)

	links, err := h.linkRepo.Counts(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count links", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count links", http.StatusInternalServerError)
		return
	}

	categories, err := h.articleRepo.Counts(ctx, h.categories)
	if err != nil {
		slog.ErrorContext(ctx, "failed to count articles", "error", err, "correlationId", correlationID)
		h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count articles", http.StatusInternalServerError)
		return
	}

	vectors := make(map[string]int, len(h.collections))
	for _, c := range h.collections {
		n, err := h.vectorStore.Count(ctx, c)
		if err != nil {
			slog.ErrorContext(ctx, "failed to count vectors", "collection", c, "error", err, "correlationId", correlationID)
			h.writeError(ctx, w, "INTERNAL_ERROR", "failed to count vectors", http.StatusInternalServerError)
			return
		}
		vectors[c] = n
	}

	resp := StatsResponse{
		Sources:    h.sources,
		Links:      links,
		Categories: categories,
		Vectors:    vectors,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": resp}); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
