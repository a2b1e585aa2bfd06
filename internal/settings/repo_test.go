package settings_test

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"medrag/internal/settings"
)

func TestPostgresRepo_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)

	t.Run("Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "gemini_api_key", "llm_provider", "llm_api_key", "relevance_threshold", "search_top_k", "context_top_k"}).
			AddRow(1, "gkey", "openai", "okey", 0.8, 3, 2)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, gemini_api_key, llm_provider, llm_api_key, relevance_threshold, search_top_k, context_top_k FROM settings WHERE id = 1")).
			WillReturnRows(rows)

		s, err := repo.Get(context.Background())
		assert.NoError(t, err)
		assert.Equal(t, "openai", s.LLMProvider)
		assert.Equal(t, 0.8, s.RelevanceThreshold)
		assert.Equal(t, 3, s.SearchTopK)
	})

	t.Run("Error", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id")).
			WillReturnError(sqlmock.ErrCancelled)

		s, err := repo.Get(context.Background())
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}

func TestPostgresRepo_Update(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	repo := settings.NewPostgresRepo(db)
	s := &settings.Settings{
		GeminiAPIKey:       "g",
		LLMProvider:        "gemini",
		RelevanceThreshold: 1.2,
		SearchTopK:         4,
		ContextTopK:        2,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE settings SET gemini_api_key = $1, llm_provider = $2, llm_api_key = $3, relevance_threshold = $4, search_top_k = $5, context_top_k = $6, updated_at = NOW() WHERE id = 1")).
		WithArgs("g", "gemini", "", 1.2, 4, 2).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, repo.Update(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}
