// Package mcp exposes the journal query engine as MCP tools over JSON-RPC,
// either as plain POST /mcp calls or through an SSE session.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medrag/internal/config"
	"medrag/internal/middleware"
	"medrag/internal/retrieval"
)

type Answerer interface {
	Answer(ctx context.Context, query string) (*retrieval.Answer, error)
}

type SourceLister interface {
	List(ctx context.Context) []config.Source
}

type Handler struct {
	engine       Answerer
	sources      SourceLister
	sessions     map[string]chan string // sessionId -> serialized JSON-RPC responses
	sessionsLock sync.RWMutex
	keepAlive    time.Duration
}

func NewHandler(e Answerer, s SourceLister) *Handler {
	return &Handler{
		engine:    e,
		sources:   s,
		sessions:  make(map[string]chan string),
		keepAlive: 15 * time.Second,
	}
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   interface{} `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

type CallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type QueryArgs struct {
	Query string `json:"query"`
}

type ListSourcesArgs struct {
	Category string `json:"category,omitempty"`
}

type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema interface{} `json:"inputSchema"`
}

type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

type ToolResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const (
	ErrParse          = -32700
	ErrInvalidRequest = -32600
	ErrMethodNotFound = -32601
	ErrInvalidParams  = -32602
	ErrInternal       = -32603
)

const (
	ToolJournalQuery = "journal_query"
	ToolListSources  = "list_sources"
)

var tools = []Tool{
	{
		Name: ToolJournalQuery,
		Description: `Answers a clinical or research question from recently ingested medical journal articles.
Mention a date or range ("since March 2024", "last year") to restrict the search by ingestion date.

USAGE EXAMPLE:
journal_query(query="new biologics for severe asthma published in 2024")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]string{
					"type":        "string",
					"description": "The question to answer",
				},
			},
			"required": []string{"query"},
		},
	},
	{
		Name: ToolListSources,
		Description: `Lists the journals that are crawled and the specialty category each belongs to.

USAGE EXAMPLE:
list_sources(category="cardiology")`,
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"category": map[string]string{
					"type":        "string",
					"description": "Only list sources of this category",
				},
			},
		},
	},
}

// processRequest returns nil for notifications, which get no response.
func (h *Handler) processRequest(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "medrag-mcp",
				"version": "1.0.0",
			},
		})
	case "notifications/initialized":
		return nil
	case "ping":
		return result(req.ID, map[string]interface{}{})
	case "tools/list":
		return result(req.ID, ListToolsResult{Tools: tools})
	case "tools/call":
		return h.callTool(ctx, req)
	}

	slog.WarnContext(ctx, "unknown jsonrpc method", "method", req.Method)
	return errorResponse(req.ID, ErrMethodNotFound, "Method not found")
}

func (h *Handler) callTool(ctx context.Context, req JSONRPCRequest) *JSONRPCResponse {
	var params CallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		slog.WarnContext(ctx, "invalid params structure", "error", err)
		return errorResponse(req.ID, ErrInvalidParams, "Invalid params")
	}

	switch params.Name {
	case ToolJournalQuery:
		var args QueryArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
		}
		if strings.TrimSpace(args.Query) == "" {
			return errorResponse(req.ID, ErrInvalidParams, "Query is required")
		}

		ans, err := h.engine.Answer(ctx, args.Query)
		if errors.Is(err, retrieval.ErrNoRelevantArticles) {
			return result(req.ID, text("No relevant articles found."))
		}
		if err != nil {
			slog.ErrorContext(ctx, "journal query failed", "error", err)
			return result(req.ID, ToolResult{Content: []ToolContent{{Type: "text", Text: "Error: " + err.Error()}}, IsError: true})
		}

		slog.InfoContext(ctx, "tool execution completed", "tool", ToolJournalQuery)
		return result(req.ID, text(fmt.Sprintf("%s\n\nSources:\n%s", ans.Response, ans.Context)))

	case ToolListSources:
		var args ListSourcesArgs
		if err := unmarshalArgs(params.Arguments, &args); err != nil {
			return errorResponse(req.ID, ErrInvalidParams, "Invalid arguments")
		}

		type simpleSource struct {
			Name     string `json:"name"`
			Category string `json:"category"`
			Enabled  bool   `json:"enabled"`
		}
		var out []simpleSource
		for _, s := range h.sources.List(ctx) {
			if args.Category != "" && !strings.EqualFold(args.Category, s.Category) {
				continue
			}
			out = append(out, simpleSource{Name: s.Name, Category: s.Category, Enabled: !s.Disabled})
		}
		if len(out) == 0 {
			return result(req.ID, text("No sources found."))
		}

		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			slog.ErrorContext(ctx, "failed to marshal sources", "error", err)
			return errorResponse(req.ID, ErrInternal, "Error marshalling results")
		}
		return result(req.ID, text(string(b)))
	}

	slog.WarnContext(ctx, "tool not found", "tool", params.Name)
	return errorResponse(req.ID, ErrMethodNotFound, "Method not found: "+params.Name)
}

// unmarshalArgs tolerates a missing arguments object.
func unmarshalArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func text(s string) ToolResult {
	return ToolResult{Content: []ToolContent{{Type: "text", Text: s}}}
}

func result(id interface{}, v interface{}) *JSONRPCResponse {
	return &JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id interface{}, code int, message string) *JSONRPCResponse {
	return &JSONRPCResponse{
		JSONRPC: "2.0",
		Error: map[string]interface{}{
			"code":    code,
			"message": message,
		},
		ID: id,
	}
}

// ServeHTTP handles a single synchronous JSON-RPC call.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp request received", "method", r.Method, "path", r.URL.Path)

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeRPC(ctx, w, errorResponse(nil, ErrParse, "Parse error"))
		return
	}

	resp := h.processRequest(ctx, req)
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.writeRPC(ctx, w, resp)
}

// HandleSSE opens a session stream. Responses to messages posted for the
// session are delivered as "message" events.
func (h *Handler) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeHTTPError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sessionID := uuid.New().String()
	msgChan := make(chan string, 100)

	h.sessionsLock.Lock()
	h.sessions[sessionID] = msgChan
	h.sessionsLock.Unlock()

	defer func() {
		h.sessionsLock.Lock()
		delete(h.sessions, sessionID)
		close(msgChan)
		h.sessionsLock.Unlock()
		slog.Info("sse session ended", "session_id", sessionID)
	}()

	slog.Info("sse session started", "session_id", sessionID)

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	endpoint := fmt.Sprintf("%s://%s/mcp/messages?sessionId=%s", scheme, r.Host, sessionID)

	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", html.EscapeString(endpoint))
	fmt.Fprintf(w, "event: id\ndata: %s\n\n", html.EscapeString(sessionID))
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// HandleMessage accepts a JSON-RPC message for an open session, answers 202
// and delivers the response on the session stream.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slog.InfoContext(ctx, "mcp message received", "method", r.Method, "path", r.URL.Path)

	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		h.writeHTTPError(ctx, w, http.StatusBadRequest, "VALIDATION_ERROR", "Missing sessionId")
		return
	}

	h.sessionsLock.RLock()
	_, exists := h.sessions[sessionID]
	h.sessionsLock.RUnlock()
	if !exists {
		slog.WarnContext(ctx, "session not found", "session_id", sessionID)
		h.writeHTTPError(ctx, w, http.StatusNotFound, "NOT_FOUND", "Session not found")
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeHTTPError(ctx, w, http.StatusBadRequest, "INVALID_JSON", "Invalid JSON")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	// Keep the correlation id but outlive the POST.
	bgCtx := context.WithoutCancel(ctx)
	go h.deliver(bgCtx, sessionID, req)
}

func (h *Handler) deliver(ctx context.Context, sessionID string, req JSONRPCRequest) {
	resp := h.processRequest(ctx, req)
	if resp == nil {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal response", "error", err)
		return
	}

	// Holding the read lock keeps the session from closing its channel mid-send.
	h.sessionsLock.RLock()
	defer h.sessionsLock.RUnlock()
	msgChan, ok := h.sessions[sessionID]
	if !ok {
		slog.WarnContext(ctx, "session closed before response", "session_id", sessionID)
		return
	}
	select {
	case msgChan <- string(b):
	default:
		slog.WarnContext(ctx, "session channel full, dropping message", "session_id", sessionID)
	}
}

func (h *Handler) writeRPC(ctx context.Context, w http.ResponseWriter, resp *JSONRPCResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

func (h *Handler) writeHTTPError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
		"correlationId": middleware.GetCorrelationID(ctx),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}
