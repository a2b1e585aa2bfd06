// Package app wires the journal ingestion, embedding and retrieval services
// into one process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/api/option"

	"medrag/features/job"
	"medrag/features/mcp"
	"medrag/features/query"
	"medrag/features/source"
	"medrag/features/stats"
	"medrag/internal/adapter/chat"
	"medrag/internal/adapter/gemini"
	wstore "medrag/internal/adapter/weaviate"
	"medrag/internal/article"
	"medrag/internal/config"
	"medrag/internal/embedsync"
	"medrag/internal/enrich"
	"medrag/internal/extract"
	"medrag/internal/fetch"
	"medrag/internal/ingest"
	"medrag/internal/ledger"
	"medrag/internal/middleware"
	"medrag/internal/retrieval"
	"medrag/internal/scheduler"
	"medrag/internal/settings"
	"medrag/internal/sqlquery"
	"medrag/internal/worker"
)

const consumerChannel = "medrag"

type App struct {
	Handler        http.Handler
	Engine         *retrieval.Engine
	Runner         *ingest.Runner
	Sync           *embedsync.Synchronizer
	IngestConsumer *worker.IngestConsumer
	EmbedConsumer  *worker.EmbedConsumer
	Scheduler      *scheduler.Scheduler

	cfg     *config.Config
	catalog *config.Catalog
	closers []io.Closer
}

// New builds the services over already bootstrapped connections. Gemini
// client options are passed through to the embedding and generation
// adapters.
func New(
	cfg *config.Config,
	catalog *config.Catalog,
	db *sql.DB,
	wClient *weaviate.Client,
	pub worker.Publisher,
	logger *slog.Logger,
	geminiOpts ...option.ClientOption,
) (*App, error) {
	a := &App{cfg: cfg, catalog: catalog}
	categories := catalog.Categories()

	// Feature: Settings
	settingsService := settings.NewService(settings.NewPostgresRepo(db), settings.Settings{
		GeminiAPIKey:       cfg.GeminiAPIKey,
		LLMProvider:        cfg.LLMProvider,
		LLMAPIKey:          cfg.LLMAPIKey,
		RelevanceThreshold: cfg.RelevanceThreshold,
		SearchTopK:         cfg.SearchTopK,
		ContextTopK:        cfg.ContextTopK,
	})
	settingsHandler := settings.NewHandler(settingsService)

	// Adapters: Dynamic
	embedder := gemini.NewEmbedder(settingsService, cfg.EmbeddingModel, cfg.EmbeddingDimensions, geminiOpts...)
	generator := gemini.NewGenerator(settingsService, cfg.GenerativeModel, geminiOpts...)
	a.closers = append(a.closers, embedder, generator)

	openai := chat.NewClient(cfg.LLMAPIKey, cfg.LLMModel, cfg.LLMTimeout)
	openai.SetBaseURL(cfg.LLMBaseURL)
	llm := chat.NewDynamicClient(settingsService, generator, openai)

	vecStore := wstore.NewStore(wClient)
	links := ledger.NewPostgresRepo(db, cfg.MaxLinkAttempts)
	articles := article.NewPostgresStore(db)

	// Ingestion
	fetchCfg := fetch.Config{
		Timeout:    cfg.FetchTimeout,
		UserAgent:  cfg.UserAgent,
		MaxRetries: cfg.FetchMaxRetries,
	}
	fetchers := fetch.NewRegistry()
	fetchers.Register(config.DefaultFetcher, fetch.NewHTTPFetcher(fetchCfg))
	if cfg.FetchProxyURL != "" {
		fetchers.Register("proxy", fetch.NewProxyFetcher(cfg.FetchProxyURL, cfg.FetchProxyKey, fetchCfg))
	}
	browser := fetch.NewBrowserFetcher(cfg.BrowserURL, cfg.FetchTimeout)
	fetchers.Register("browser", browser)
	a.closers = append(a.closers, browser)

	if err := checkStrategies(catalog, fetchers, extract.DefaultRegistry()); err != nil {
		return nil, err
	}

	pipeline := ingest.NewPipeline(links, articles, fetchers, extract.DefaultRegistry(), enrich.New(llm), ingest.Options{
		PendingBatch: cfg.PendingBatchSize,
		LinkTimeout:  cfg.FetchTimeout + cfg.LLMTimeout + cfg.StoreTimeout,
		StoreTimeout: cfg.StoreTimeout,
	})
	a.Runner = ingest.NewRunner(pipeline, links, cfg.IngestionConcurrency)

	a.Sync = embedsync.New(articles, embedder, vecStore, embedsync.Options{
		MergedCollection: cfg.MergedCollection,
		Dimensions:       cfg.EmbeddingDimensions,
		BatchSize:        cfg.EmbedBatchSize,
		RecordTimeout:    cfg.EmbedTimeout,
		StoreTimeout:     cfg.StoreTimeout,
	})

	// Retrieval
	tables := make([]string, 0, len(categories))
	for _, c := range categories {
		t, err := article.TableName(c)
		if err != nil {
			return nil, fmt.Errorf("category %q: %w", c, err)
		}
		tables = append(tables, t)
	}
	structured := sqlquery.NewService(llm, db, tables, sqlquery.Options{
		RowLimit:         cfg.SQLRowLimit,
		StatementTimeout: cfg.StoreTimeout,
		Role:             cfg.SQLQueryRole,
	})

	queryLogger, closer, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	} else {
		a.closers = append(a.closers, closer)
	}

	a.Engine = retrieval.NewEngine(embedder, vecStore, structured, settingsService, retrieval.Collections{
		Merged: cfg.MergedCollection,
		News:   cfg.NewsCollection,
	}, queryLogger)

	// Workers
	a.IngestConsumer = worker.NewIngestConsumer(catalog, pipeline, pub)
	a.EmbedConsumer = worker.NewEmbedConsumer(a.Sync)
	a.Scheduler = scheduler.New(catalog, pub, cfg.SyncInterval)

	// Features
	sourceService := source.NewService(catalog, links, pub)
	sourceHandler := source.NewHandler(sourceService)
	jobHandler := job.NewHandler(job.NewService(links, pub, logger))
	collections := []string{cfg.MergedCollection, cfg.NewsCollection}
	collections = append(collections, categories...)
	statsHandler := stats.NewHandler(len(catalog.Enabled()), categories, collections, links, articles, vecStore)
	queryHandler := query.NewHandler(a.Engine, cfg.QueryTimeout)
	mcpHandler := mcp.NewHandler(a.Engine, sourceService)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Correlation-ID")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /custom-journal-query", middleware.CorrelationID(enableCORS(queryHandler.CustomJournalQuery)))

	mux.Handle("GET /sources", middleware.CorrelationID(enableCORS(sourceHandler.List)))
	mux.Handle("POST /sources/{name}/resync", middleware.CorrelationID(enableCORS(sourceHandler.ReSync)))
	mux.Handle("GET /sources/{name}/links", middleware.CorrelationID(enableCORS(sourceHandler.Links)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))
	mux.Handle("GET /mcp/sse", middleware.CorrelationID(enableCORS(mcpHandler.HandleSSE)))
	mux.Handle("POST /mcp/messages", middleware.CorrelationID(enableCORS(mcpHandler.HandleMessage)))

	// Method-specific patterns would answer preflights with 405.
	mux.Handle("OPTIONS /", middleware.CorrelationID(enableCORS(func(w http.ResponseWriter, r *http.Request) {})))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// checkStrategies fails fast on a catalog entry naming an unknown fetcher or
// extractor.
func checkStrategies(c *config.Catalog, f *fetch.Registry, x *extract.Registry) error {
	var errs []error
	for _, s := range c.Enabled() {
		if _, err := f.Get(s.Fetcher); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", s.Name, err))
		}
		if _, err := x.Get(s.Extractor); err != nil {
			errs = append(errs, fmt.Errorf("source %s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Run serves the API and, when enabled, the NSQ consumers and scheduler
// until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.EnableWorkers {
		a.IngestConsumer.SetBaseContext(ctx)
		a.EmbedConsumer.SetBaseContext(ctx)
		consumers, err := a.startConsumers()
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range consumers {
				c.Stop()
				<-c.StopChan
			}
		}()

		a.Scheduler.Start(ctx)
		defer a.Scheduler.Stop()
	}

	if !a.cfg.EnableAPI {
		<-ctx.Done()
		return nil
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startConsumers() ([]*nsq.Consumer, error) {
	specs := []struct {
		topic       string
		handler     nsq.Handler
		concurrency int
	}{
		{config.TopicIngestSource, a.IngestConsumer, a.cfg.IngestionConcurrency},
		{config.TopicEmbedCategory, a.EmbedConsumer, 1},
	}

	var started []*nsq.Consumer
	for _, s := range specs {
		nsqCfg := nsq.NewConfig()
		if s.concurrency < 1 {
			s.concurrency = 1
		}
		nsqCfg.MaxInFlight = s.concurrency
		// Passes can run for minutes; NSQ must not redeliver mid-pass.
		nsqCfg.MsgTimeout = 15 * time.Minute

		c, err := nsq.NewConsumer(s.topic, consumerChannel, nsqCfg)
		if err != nil {
			stopAll(started)
			return nil, fmt.Errorf("nsq consumer %s: %w", s.topic, err)
		}
		c.AddConcurrentHandlers(s.handler, s.concurrency)

		if a.cfg.NSQLookupd != "" {
			err = c.ConnectToNSQLookupd(a.cfg.NSQLookupd)
		} else {
			err = c.ConnectToNSQD(a.cfg.NSQDHost)
		}
		if err != nil {
			c.Stop()
			stopAll(started)
			return nil, fmt.Errorf("connect consumer %s: %w", s.topic, err)
		}
		slog.Info("NSQ consumer connected", "topic", s.topic, "channel", consumerChannel)
		started = append(started, c)
	}
	return started, nil
}

func stopAll(consumers []*nsq.Consumer) {
	for _, c := range consumers {
		c.Stop()
	}
}

// IngestSources runs one pass over the named sources, or over every enabled
// source when names is empty.
func (a *App) IngestSources(ctx context.Context, names []string) ([]ingest.Report, error) {
	sources, err := a.resolveSources(names)
	if err != nil {
		return nil, err
	}
	return a.Runner.RunAll(ctx, sources)
}

func (a *App) resolveSources(names []string) ([]config.Source, error) {
	if len(names) == 0 {
		return a.catalog.Enabled(), nil
	}
	out := make([]config.Source, 0, len(names))
	for _, n := range names {
		s, err := a.catalog.Find(n)
		if err != nil {
			return nil, err
		}
		if s.Disabled {
			return nil, fmt.Errorf("%w: %s", source.ErrSourceDisabled, s.Name)
		}
		out = append(out, s)
	}
	return out, nil
}

// SyncCategories runs one embedding pass per category, or over every
// catalog category when categories is empty.
func (a *App) SyncCategories(ctx context.Context, categories []string) ([]embedsync.Result, error) {
	if len(categories) == 0 {
		categories = a.catalog.Categories()
	}
	var (
		results []embedsync.Result
		errs    []error
	)
	for _, c := range categories {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := a.Sync.SyncCategory(ctx, c)
		results = append(results, res)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c, err))
		}
	}
	return results, errors.Join(errs...)
}

// Close releases model clients, the browser and the query log.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close resource", "error", err)
		}
	}
}
