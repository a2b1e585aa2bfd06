// Package retrieval answers natural-language journal questions by combining
// vector search over article fields with a structured query over the
// metadata tables.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"medrag/internal/middleware"
	"medrag/internal/settings"
	"medrag/internal/vector"
)

var (
	ErrEmptyQuery         = errors.New("query prompt is required")
	ErrNoRelevantArticles = errors.New("no relevant articles found")
)

// FallbackResponse is returned when the structured query cannot be answered.
const FallbackResponse = "Please provide a more precise query."

// fusedLimit caps the fused candidate list before context selection.
const fusedLimit = 3

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Searcher interface {
	Search(ctx context.Context, collection string, vec []float32, field string, k int) ([]vector.Hit, error)
}

// StructuredQuerier answers a request using the relational metadata,
// grounded by the serialized context articles.
type StructuredQuerier interface {
	Answer(ctx context.Context, query, contextJSON, dateFilter string) (string, error)
}

type Answer struct {
	Response   string          `json:"response"`
	Context    string          `json:"context"`
	Collection string          `json:"-"`
	Hits       []vector.Hit    `json:"-"`
	Range      *TimeRange      `json:"-"`
	Articles   []ContextRecord `json:"-"`
}

// ContextRecord is one article handed to the structured-query step.
type ContextRecord struct {
	VectorDistance float64 `json:"vector_distance"`
	TitleText      string  `json:"title_text"`
	ArticleURL     string  `json:"article_url"`
	AbstractText   string  `json:"abstract_text"`
	AuthorsText    string  `json:"authors_text"`
}

type Collections struct {
	Merged string
	News   string
}

type Engine struct {
	embedder    QueryEmbedder
	searcher    Searcher
	structured  StructuredQuerier
	settings    *settings.Service
	collections Collections
	logger      *QueryLogger
	now         func() time.Time
}

func NewEngine(e QueryEmbedder, s Searcher, sq StructuredQuerier, set *settings.Service, c Collections, l *QueryLogger) *Engine {
	return &Engine{
		embedder:    e,
		searcher:    s,
		structured:  sq,
		settings:    set,
		collections: c,
		logger:      l,
		now:         time.Now,
	}
}

func (e *Engine) Answer(ctx context.Context, query string) (ans *Answer, err error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	entry := QueryLogEntry{Query: query}
	defer func() {
		if e.logger == nil {
			return
		}
		entry.Duration = time.Since(start)
		entry.CorrelationID = middleware.GetCorrelationID(ctx)
		if err != nil {
			entry.Error = err.Error()
		}
		e.logger.Log(entry)
	}()

	cfg, err := e.settings.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var rng *TimeRange
	if r, ok := ParseTimeRange(query, e.now()); ok {
		rng = &r
	}

	vec, err := e.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := e.search(ctx, e.collections.Merged, vec, cfg.SearchTopK)
	if err != nil {
		return nil, err
	}
	collection := e.collections.Merged
	if len(hits) == 0 || hits[0].Distance >= cfg.RelevanceThreshold {
		slog.InfoContext(ctx, "falling back to news collection", "hits", len(hits), "threshold", cfg.RelevanceThreshold)
		hits, err = e.search(ctx, e.collections.News, vec, cfg.SearchTopK)
		if err != nil {
			slog.WarnContext(ctx, "news search failed", "error", err)
			hits = nil
		}
		collection = e.collections.News
	}
	entry.Collection = collection
	entry.NumResults = len(hits)
	if len(hits) == 0 {
		return nil, ErrNoRelevantArticles
	}
	entry.BestDistance = hits[0].Distance
	if hits[0].Distance >= cfg.RelevanceThreshold {
		return nil, ErrNoRelevantArticles
	}

	selected := hits
	if len(selected) > cfg.ContextTopK {
		selected = selected[:cfg.ContextTopK]
	}
	articles := make([]ContextRecord, len(selected))
	for i, h := range selected {
		articles[i] = ContextRecord{
			VectorDistance: h.Distance,
			TitleText:      h.Title,
			ArticleURL:     h.URL,
			AbstractText:   h.Abstract,
			AuthorsText:    h.Authors,
		}
	}
	contextJSON, err := json.Marshal(articles)
	if err != nil {
		return nil, fmt.Errorf("encode context: %w", err)
	}

	filter := ""
	if rng != nil {
		filter = rng.Filter()
	}

	response, qerr := e.structured.Answer(ctx, query, string(contextJSON), filter)
	if qerr != nil {
		slog.WarnContext(ctx, "structured query failed", "error", qerr)
		response = FallbackResponse
	}

	return &Answer{
		Response:   response,
		Context:    string(contextJSON),
		Collection: collection,
		Hits:       hits,
		Range:      rng,
		Articles:   articles,
	}, nil
}

// search runs the query vector against each named vector of collection and
// fuses the results.
func (e *Engine) search(ctx context.Context, collection string, vec []float32, k int) ([]vector.Hit, error) {
	lists := make([][]vector.Hit, 0, len(vector.VectorFields))
	for _, field := range vector.VectorFields {
		hits, err := e.searcher.Search(ctx, collection, vec, field, k)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", collection, err)
		}
		lists = append(lists, hits)
	}
	return Fuse(fusedLimit, lists...), nil
}
