// Package testutils starts the backing services integration tests run
// against.
package testutils

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"medrag/internal/config"
)

const (
	dbName = "articles_test"
	dbUser = "test"
	dbPass = "test"
)

type IntegrationSuite struct {
	T        *testing.T
	DB       *sql.DB
	Weaviate *weaviate.Client
	NSQ      *nsq.Producer

	dbHost       string
	dbPort       int
	weaviateHost string
	nsqdTCP      string
	nsqdHTTP     string

	containers []testcontainers.Container
}

func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	return &IntegrationSuite{T: t}
}

// MigrationPath points at the repository's migrations directory.
func MigrationPath() string {
	_, file, _, _ := runtime.Caller(0)
	return fmt.Sprintf("file://%s/../../migrations", filepath.Dir(file))
}

func (s *IntegrationSuite) Setup() {
	ctx := context.Background()
	s.startPostgres(ctx)
	s.startWeaviate(ctx)
	s.startNSQ(ctx)
}

func (s *IntegrationSuite) startPostgres(ctx context.Context) {
	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase(dbName),
		postgres.WithUsername(dbUser),
		postgres.WithPassword(dbPass),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(s.T, err)
	s.containers = append(s.containers, pg)

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(s.T, err)
	s.DB, err = sql.Open("postgres", connStr)
	require.NoError(s.T, err)

	s.dbHost, err = pg.Host(ctx)
	require.NoError(s.T, err)
	port, err := pg.MappedPort(ctx, "5432")
	require.NoError(s.T, err)
	s.dbPort = port.Int()

	m, err := migrate.New(MigrationPath(), connStr)
	require.NoError(s.T, err)
	require.NoError(s.T, m.Up())
}

func (s *IntegrationSuite) startWeaviate(ctx context.Context) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "semitechnologies/weaviate:1.28.2",
			ExposedPorts: []string{"8080/tcp", "50051/tcp"},
			Env: map[string]string{
				"AUTHENTICATION_ANONYMOUS_ACCESS_ENABLED": "true",
				"DEFAULT_VECTORIZER_MODULE":               "none",
				"PERSISTENCE_DATA_PATH":                   "/var/lib/weaviate",
			},
			WaitingFor: wait.ForHTTP("/v1/meta").WithPort("8080/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.containers = append(s.containers, c)

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	port, err := c.MappedPort(ctx, "8080")
	require.NoError(s.T, err)

	s.weaviateHost = fmt.Sprintf("%s:%s", host, port.Port())
	s.Weaviate, err = weaviate.NewClient(weaviate.Config{Host: s.weaviateHost, Scheme: "http"})
	require.NoError(s.T, err)
}

func (s *IntegrationSuite) startNSQ(ctx context.Context) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nsqio/nsq:v1.3.0",
			ExposedPorts: []string{"4150/tcp", "4151/tcp"},
			Cmd:          []string{"/nsqd", "--broadcast-address=localhost"},
			WaitingFor:   wait.ForLog("TCP: listening on").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(s.T, err)
	s.containers = append(s.containers, c)

	host, err := c.Host(ctx)
	require.NoError(s.T, err)
	tcp, err := c.MappedPort(ctx, "4150")
	require.NoError(s.T, err)
	httpPort, err := c.MappedPort(ctx, "4151")
	require.NoError(s.T, err)

	s.nsqdTCP = fmt.Sprintf("%s:%s", host, tcp.Port())
	s.nsqdHTTP = fmt.Sprintf("%s:%s", host, httpPort.Port())
	s.NSQ, err = nsq.NewProducer(s.nsqdTCP, nsq.NewConfig())
	require.NoError(s.T, err)
}

// GetAppConfig returns a validated configuration pointing at the suite's
// containers. Model calls are left unconfigured.
func (s *IntegrationSuite) GetAppConfig() *config.Config {
	cfg := &config.Config{
		DBHost:                     s.dbHost,
		DBPort:                     s.dbPort,
		DBUser:                     dbUser,
		DBPass:                     dbPass,
		DBName:                     dbName,
		DBMaxOpenConns:             5,
		DBMaxIdleConns:             2,
		WeaviateHost:               s.weaviateHost,
		WeaviateScheme:             "http",
		NSQDHost:                   s.nsqdTCP,
		NSQDHTTP:                   s.nsqdHTTP,
		NSQLookupd:                 "",
		EnableAPI:                  true,
		EnableWorkers:              false,
		IngestionConcurrency:       2,
		MigrationPath:              MigrationPath(),
		SourcesPath:                "",
		EmbeddingModel:             "text-embedding-004",
		EmbeddingDimensions:        768,
		GenerativeModel:            "gemini-1.5-flash",
		LLMProvider:                "gemini",
		MergedCollection:           "merged_specializations",
		NewsCollection:             "article_news",
		RelevanceThreshold:         1.0,
		SearchTopK:                 2,
		ContextTopK:                2,
		SQLRowLimit:                50,
		FetchMaxRetries:            1,
		MaxLinkAttempts:            5,
		PendingBatchSize:           50,
		EmbedBatchSize:             50,
		FetchTimeout:               10 * time.Second,
		LLMTimeout:                 10 * time.Second,
		EmbedTimeout:               10 * time.Second,
		StoreTimeout:               10 * time.Second,
		QueryTimeout:               30 * time.Second,
		ServerPort:                 8081,
		BootstrapRetryAttempts:     5,
		BootstrapRetryDelaySeconds: 1,
	}
	return cfg
}

// DSN is the connection string for the suite's database.
func (s *IntegrationSuite) DSN() string {
	return "postgres://" + dbUser + ":" + dbPass + "@" + s.dbHost + ":" + strconv.Itoa(s.dbPort) + "/" + dbName + "?sslmode=disable"
}

func (s *IntegrationSuite) Teardown() {
	ctx := context.Background()
	if s.NSQ != nil {
		s.NSQ.Stop()
	}
	if s.DB != nil {
		s.DB.Close()
	}
	for i := len(s.containers) - 1; i >= 0; i-- {
		s.containers[i].Terminate(ctx)
	}
}
