package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"medrag/features/source"
	"medrag/internal/config"
	"medrag/internal/logger"
)

type nopPublisher struct{ topics []string }

func (p *nopPublisher) Publish(topic string, body []byte) error {
	p.topics = append(p.topics, topic)
	return nil
}

func testCatalog() *config.Catalog {
	return &config.Catalog{Sources: []config.Source{
		{Name: "Circulation", Category: "cardiology", FeedURL: "https://circ.example.org/rss", Extractor: "citation", Fetcher: "http"},
		{Name: "Gut", Category: "gastroenterology", FeedURL: "https://gut.example.org/rss", Extractor: "citation+section", Fetcher: "browser"},
		{Name: "Old", Category: "oncology", FeedURL: "https://old.example.org/rss", Extractor: "citation", Fetcher: "http", Disabled: true},
	}}
}

func newTestApp(t *testing.T, catalog *config.Catalog) (*App, *nopPublisher, error) {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	wClient, err := weaviate.NewClient(weaviate.Config{Host: strings.TrimPrefix(srv.URL, "http://"), Scheme: "http"})
	require.NoError(t, err)

	cfg := &config.Config{
		MergedCollection:     "merged_specializations",
		NewsCollection:       "article_news",
		EmbeddingDimensions:  768,
		RelevanceThreshold:   1.0,
		SearchTopK:           2,
		ContextTopK:          2,
		IngestionConcurrency: 2,
		QueryLogPath:         filepath.Join(t.TempDir(), "query.log"),
	}
	pub := &nopPublisher{}
	a, err := New(cfg, catalog, db, wClient, pub, logger.New(&strings.Builder{}, 0))
	if a != nil {
		t.Cleanup(a.Close)
	}
	return a, pub, err
}

func TestNew_Routes(t *testing.T) {
	a, pub, err := newTestApp(t, testCatalog())
	require.NoError(t, err)
	require.NotNil(t, a.Engine)
	require.NotNil(t, a.IngestConsumer)
	require.NotNil(t, a.EmbedConsumer)

	tests := []struct {
		name       string
		method     string
		target     string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health", "GET", "/health", "", http.StatusOK, `"status":"ok"`},
		{"sources", "GET", "/sources", "", http.StatusOK, `"Circulation"`},
		{"empty query", "POST", "/custom-journal-query", `{"queryPrompt":""}`, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown source resync", "POST", "/sources/Nope/resync", "", http.StatusNotFound, "NOT_FOUND"},
		{"resync", "POST", "/sources/Gut/resync", "", http.StatusAccepted, `"queued"`},
		{"mcp tools", "POST", "/mcp", `{"jsonrpc":"2.0","method":"tools/list","id":1}`, http.StatusOK, "journal_query"},
		{"preflight", "OPTIONS", "/custom-journal-query", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			a.Handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			if tt.target != "/health" {
				assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
			}
		})
	}
	assert.Equal(t, []string{config.TopicIngestSource}, pub.topics)
}

func TestNew_RejectsUnknownStrategy(t *testing.T) {
	catalog := testCatalog()
	catalog.Sources[0].Extractor = "pdf"

	_, _, err := newTestApp(t, catalog)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "source Circulation")
}

func TestResolveSources(t *testing.T) {
	a, _, err := newTestApp(t, testCatalog())
	require.NoError(t, err)

	all, err := a.resolveSources(nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := a.resolveSources([]string{"gut"})
	require.NoError(t, err)
	assert.Equal(t, "Gut", one[0].Name)

	_, err = a.resolveSources([]string{"Old"})
	assert.ErrorIs(t, err, source.ErrSourceDisabled)

	_, err = a.resolveSources([]string{"Lancet"})
	assert.ErrorIs(t, err, config.ErrUnknownSource)
}

func TestSyncCategories_CancelledContext(t *testing.T) {
	a, _, err := newTestApp(t, testCatalog())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := a.SyncCategories(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
}
