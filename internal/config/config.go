package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

type Config struct {
	DBHost         string `envconfig:"DB_HOST" default:"postgres"`
	DBPort         int    `envconfig:"DB_PORT" default:"5432"`
	DBUser         string `envconfig:"DB_USER" default:"medrag"`
	DBPass         string `envconfig:"DB_PASS" default:"password"`
	DBName         string `envconfig:"DB_NAME" default:"articles_data"`
	DBMaxOpenConns int    `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	DBMaxIdleConns int    `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableWorkers        bool   `envconfig:"ENABLE_WORKERS" default:"true"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"8"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	SourcesPath          string `envconfig:"SOURCES_PATH" default:"config/sources.yaml"`

	// Models
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"768"`
	GenerativeModel     string `envconfig:"GENERATIVE_MODEL" default:"gemini-1.5-flash"`
	LLMProvider         string `envconfig:"LLM_PROVIDER" default:"gemini"`
	LLMAPIKey           string `envconfig:"LLM_API_KEY"`
	LLMBaseURL          string `envconfig:"LLM_BASE_URL"`
	LLMModel            string `envconfig:"LLM_MODEL" default:"gpt-4-turbo"`

	// Retrieval
	MergedCollection   string  `envconfig:"MERGED_COLLECTION" default:"merged_specializations"`
	NewsCollection     string  `envconfig:"NEWS_COLLECTION" default:"article_news"`
	RelevanceThreshold float64 `envconfig:"RELEVANCE_THRESHOLD" default:"1.0"`
	SearchTopK         int     `envconfig:"SEARCH_TOP_K" default:"2"`
	ContextTopK        int     `envconfig:"CONTEXT_TOP_K" default:"2"`
	SQLRowLimit        int     `envconfig:"SQL_ROW_LIMIT" default:"50"`
	SQLQueryRole       string  `envconfig:"SQL_QUERY_ROLE"`

	// Ingestion
	UserAgent        string        `envconfig:"USER_AGENT" default:"medrag/1.0 (+journal metadata indexer)"`
	FetchProxyURL    string        `envconfig:"FETCH_PROXY_URL"`
	FetchProxyKey    string        `envconfig:"FETCH_PROXY_KEY"`
	FetchMaxRetries  int           `envconfig:"FETCH_MAX_RETRIES" default:"3"`
	BrowserURL       string        `envconfig:"BROWSER_WS_URL"`
	MaxLinkAttempts  int           `envconfig:"MAX_LINK_ATTEMPTS" default:"5"`
	PendingBatchSize int           `envconfig:"PENDING_BATCH_SIZE" default:"200"`
	EmbedBatchSize   int           `envconfig:"EMBED_BATCH_SIZE" default:"100"`
	SyncInterval     time.Duration `envconfig:"SYNC_INTERVAL" default:"0s"`

	// Timeouts
	FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"30s"`
	LLMTimeout   time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`
	EmbedTimeout time.Duration `envconfig:"EMBED_TIMEOUT" default:"60s"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"15s"`
	QueryTimeout time.Duration `envconfig:"QUERY_TIMEOUT" default:"90s"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win over the file.
	_ = godotenv.Load(".env")

	var cfg Config
	err := envconfig.Process("", &cfg)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.WeaviateHost == "" {
		return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
	}
	if c.MergedCollection == "" || c.NewsCollection == "" {
		return fmt.Errorf("%w: MERGED_COLLECTION and NEWS_COLLECTION", ErrMissingRequired)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("invalid EMBEDDING_DIMENSIONS %d: must be positive", c.EmbeddingDimensions)
	}
	if c.RelevanceThreshold <= 0 {
		return fmt.Errorf("invalid RELEVANCE_THRESHOLD %v: must be positive", c.RelevanceThreshold)
	}
	if c.SearchTopK < 1 || c.ContextTopK < 1 {
		return fmt.Errorf("invalid SEARCH_TOP_K/CONTEXT_TOP_K: must be at least 1")
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
