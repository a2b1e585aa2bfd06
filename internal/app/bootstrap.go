package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"medrag/internal/article"
	"medrag/internal/config"
	"medrag/internal/vector"
)

type Dependencies struct {
	DB          *sql.DB
	Weaviate    *weaviate.Client
	NSQProducer *nsq.Producer
}

func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

// CollectionSpec names one vector collection and whether it carries the
// specialization property.
type CollectionSpec struct {
	Name         string
	WithCategory bool
}

// Collections lists the merged, news and per-category collections.
func Collections(cfg *config.Config, categories []string) []CollectionSpec {
	specs := []CollectionSpec{
		{Name: cfg.MergedCollection, WithCategory: true},
		{Name: cfg.NewsCollection},
	}
	for _, c := range categories {
		specs = append(specs, CollectionSpec{Name: c})
	}
	return specs
}

func Bootstrap(ctx context.Context, cfg *config.Config, categories []string) (*Dependencies, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second
	if err := withRetry(ctx, cfg.BootstrapRetryAttempts, retryDelay, "ping db", db.PingContext); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		db.Close()
		return nil, err
	}

	articles := article.NewPostgresStore(db)
	for _, c := range categories {
		if err := articles.EnsureSchema(ctx, c); err != nil {
			db.Close()
			return nil, fmt.Errorf("article schema for %s: %w", c, err)
		}
	}

	wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("weaviate client error: %w", err)
	}
	schema := vector.NewSchemaAdapter(wClient)
	if err := EnsureCollectionsWithRetry(ctx, schema, Collections(cfg, categories), cfg.BootstrapRetryAttempts, retryDelay); err != nil {
		db.Close()
		return nil, fmt.Errorf("weaviate schema error: %w", err)
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}

	createTopics(ctx, cfg.NSQDHTTP, config.Topics)

	return &Dependencies{
		DB:          db,
		Weaviate:    wClient,
		NSQProducer: producer,
	}, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// createTopics registers topics on nsqd so consumers polling lookupd find
// them before the first publish.
func createTopics(ctx context.Context, nsqdHTTP string, topics []string) {
	if nsqdHTTP == "" {
		return
	}
	client := &http.Client{Timeout: 5 * time.Second}
	for _, topic := range topics {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
		if err != nil {
			slog.Warn("failed to build NSQ topic request", "topic", topic, "error", err)
			continue
		}
		resp, err := client.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			continue
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
		if resp.StatusCode != http.StatusOK {
			slog.Warn("NSQ topic creation rejected", "topic", topic, "status", resp.StatusCode)
		}
	}
}

// EnsureCollectionsWithRetry creates or upgrades every collection, retrying
// the whole set while Weaviate is still starting.
func EnsureCollectionsWithRetry(ctx context.Context, client vector.SchemaClient, specs []CollectionSpec, attempts int, delay time.Duration) error {
	return withRetry(ctx, attempts, delay, "ensure collections", func(ctx context.Context) error {
		for _, s := range specs {
			if err := vector.EnsureCollection(ctx, client, s.Name, s.WithCategory); err != nil {
				return err
			}
		}
		return nil
	})
}

func withRetry(ctx context.Context, attempts int, delay time.Duration, what string, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		slog.WarnContext(ctx, what+" failed, retrying", "attempt", i+1, "max_attempts", attempts, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
