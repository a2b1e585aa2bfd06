package chat

import (
	"context"
	"errors"
	"fmt"

	"medrag/internal/settings"
)

var ErrNoAPIKey = errors.New("llm api key not configured")

// Completer answers a prompt with an optional system instruction.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// DynamicClient picks the completion provider from settings on every call.
type DynamicClient struct {
	settingsSvc *settings.Service
	gemini      Completer
	openai      *Client
}

func NewDynamicClient(svc *settings.Service, gemini Completer, openai *Client) *DynamicClient {
	return &DynamicClient{settingsSvc: svc, gemini: gemini, openai: openai}
}

func (d *DynamicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	s, err := d.settingsSvc.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get settings: %w", err)
	}

	switch s.LLMProvider {
	case settings.ProviderOpenAI:
		if s.LLMAPIKey == "" {
			return "", ErrNoAPIKey
		}
		return d.openai.complete(ctx, s.LLMAPIKey, system, prompt)
	case settings.ProviderGemini, "":
		return d.gemini.Complete(ctx, system, prompt)
	default:
		return "", fmt.Errorf("unknown llm provider %q", s.LLMProvider)
	}
}
