// Package settings holds the runtime-tunable model and retrieval settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidSettings = errors.New("invalid settings")

// Providers accepted for the structured-query and summary model.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Settings struct {
	ID                 int     `json:"-"`
	GeminiAPIKey       string  `json:"gemini_api_key"`
	LLMProvider        string  `json:"llm_provider"`
	LLMAPIKey          string  `json:"llm_api_key"`
	RelevanceThreshold float64 `json:"relevance_threshold"`
	SearchTopK         int     `json:"search_top_k"`
	ContextTopK        int     `json:"context_top_k"`
}

type Repository interface {
	Get(ctx context.Context) (*Settings, error)
	Update(ctx context.Context, s *Settings) error
}

// Service reads stored settings and fills blank stored values from the
// environment defaults it was built with.
type Service struct {
	repo     Repository
	defaults Settings
}

func NewService(repo Repository, defaults Settings) *Service {
	return &Service{repo: repo, defaults: defaults}
}

func (s *Service) Get(ctx context.Context) (*Settings, error) {
	stored, err := s.repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	out := *stored
	if out.GeminiAPIKey == "" {
		out.GeminiAPIKey = s.defaults.GeminiAPIKey
	}
	if out.LLMAPIKey == "" {
		out.LLMAPIKey = s.defaults.LLMAPIKey
	}
	if out.LLMProvider == "" {
		out.LLMProvider = s.defaults.LLMProvider
	}
	if out.RelevanceThreshold <= 0 {
		out.RelevanceThreshold = s.defaults.RelevanceThreshold
	}
	if out.SearchTopK <= 0 {
		out.SearchTopK = s.defaults.SearchTopK
	}
	if out.ContextTopK <= 0 {
		out.ContextTopK = s.defaults.ContextTopK
	}
	return &out, nil
}

func (s *Service) Update(ctx context.Context, set *Settings) error {
	if err := Validate(set); err != nil {
		return err
	}
	return s.repo.Update(ctx, set)
}

func Validate(set *Settings) error {
	set.LLMProvider = strings.ToLower(strings.TrimSpace(set.LLMProvider))
	switch set.LLMProvider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown llm_provider %q", ErrInvalidSettings, set.LLMProvider)
	}
	if set.RelevanceThreshold <= 0 {
		return fmt.Errorf("%w: relevance_threshold must be positive", ErrInvalidSettings)
	}
	if set.SearchTopK < 1 || set.ContextTopK < 1 {
		return fmt.Errorf("%w: search_top_k and context_top_k must be at least 1", ErrInvalidSettings)
	}
	return nil
}
