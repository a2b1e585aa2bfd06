package query

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"medrag/internal/middleware"
	"medrag/internal/retrieval"
)

// NoResultsMessage is returned with HTTP 200 when nothing relevant matched.
const NoResultsMessage = "No relevant articles found."

const maxBodyBytes = 64 << 10

type Answerer interface {
	Answer(ctx context.Context, query string) (*retrieval.Answer, error)
}

type Handler struct {
	engine  Answerer
	timeout time.Duration
}

func NewHandler(engine Answerer, timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &Handler{engine: engine, timeout: timeout}
}

type Request struct {
	QueryPrompt string `json:"queryPrompt"`
}

type Response struct {
	Response string `json:"response"`
	Context  string `json:"context"`
}

// CustomJournalQuery serves POST /custom-journal-query.
func (h *Handler) CustomJournalQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.writeError(ctx, w, "VALIDATION_ERROR", "invalid request body", http.StatusBadRequest)
		return
	}

	qctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ans, err := h.engine.Answer(qctx, req.QueryPrompt)
	switch {
	case errors.Is(err, retrieval.ErrEmptyQuery):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, retrieval.ErrNoRelevantArticles):
		h.writeJSON(ctx, w, map[string]string{"message": NoResultsMessage})
		return
	case err != nil:
		slog.ErrorContext(ctx, "journal query failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(ctx, w, Response{Response: ans.Response, Context: ans.Context})
}

func (h *Handler) writeJSON(ctx context.Context, w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
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
