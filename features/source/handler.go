package source

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"medrag/internal/config"
	"medrag/internal/ledger"
	"medrag/internal/middleware"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sources := h.service.List(r.Context())

	// Ensure we return [] instead of null for empty list
	if sources == nil {
		sources = []config.Source{}
	}

	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"data": sources,
		"meta": map[string]int{"count": len(sources)},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) ReSync(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	src, err := h.service.ReSync(r.Context(), name)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": map[string]string{"source": src.Name, "status": "queued"},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) Links(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	links, err := h.service.Links(r.Context(), name, r.URL.Query().Get("status"), limit)
	if err != nil {
		h.writeServiceError(r.Context(), w, err)
		return
	}
	if links == nil {
		links = []ledger.Link{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]interface{}{
		"data": links,
		"meta": map[string]int{"count": len(links)},
	}); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, config.ErrUnknownSource):
		h.writeError(ctx, w, "NOT_FOUND", "Source not found", http.StatusNotFound)
	case errors.Is(err, ErrSourceDisabled), errors.Is(err, ErrInvalidStatus):
		h.writeError(ctx, w, "VALIDATION_ERROR", err.Error(), http.StatusBadRequest)
	default:
		slog.ErrorContext(ctx, "operation failed", "error", err)
		h.writeError(ctx, w, "INTERNAL_ERROR", "Internal Server Error", http.StatusInternalServerError)
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
