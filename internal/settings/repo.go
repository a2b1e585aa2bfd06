package settings

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Get(ctx context.Context) (*Settings, error) {
	s := &Settings{}
	query := `SELECT id, gemini_api_key, llm_provider, llm_api_key, relevance_threshold, search_top_k, context_top_k FROM settings WHERE id = 1`
	err := r.db.QueryRowContext(ctx, query).Scan(&s.ID, &s.GeminiAPIKey, &s.LLMProvider, &s.LLMAPIKey, &s.RelevanceThreshold, &s.SearchTopK, &s.ContextTopK)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepo) Update(ctx context.Context, s *Settings) error {
	query := `UPDATE settings SET gemini_api_key = $1, llm_provider = $2, llm_api_key = $3, relevance_threshold = $4, search_top_k = $5, context_top_k = $6, updated_at = NOW() WHERE id = 1`
	_, err := r.db.ExecContext(ctx, query, s.GeminiAPIKey, s.LLMProvider, s.LLMAPIKey, s.RelevanceThreshold, s.SearchTopK, s.ContextTopK)
	return err
}
