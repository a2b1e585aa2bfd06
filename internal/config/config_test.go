package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"medrag/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, "merged_specializations", cfg.MergedCollection)
	assert.Equal(t, "article_news", cfg.NewsCollection)
	assert.Equal(t, 1.0, cfg.RelevanceThreshold)
	assert.Equal(t, 2, cfg.SearchTopK)
	assert.Equal(t, 768, cfg.EmbeddingDimensions)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	content := []byte("DB_HOST=loaded-from-file")
	err := os.WriteFile(".env", content, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(".env")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
}

func TestLoadConfig_Tunables(t *testing.T) {
	t.Setenv("ENABLE_API", "false")
	t.Setenv("INGESTION_CONCURRENCY", "3")
	t.Setenv("RELEVANCE_THRESHOLD", "0.8")
	t.Setenv("FETCH_TIMEOUT", "5s")

	cfg, err := config.Load()
	assert.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.Equal(t, 3, cfg.IngestionConcurrency)
	assert.Equal(t, 0.8, cfg.RelevanceThreshold)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
}

func TestLoadConfig_InvalidThreshold(t *testing.T) {
	t.Setenv("RELEVANCE_THRESHOLD", "0")

	_, err := config.Load()
	assert.Error(t, err)
}
