// Package gemini adapts the Gemini API for embeddings and text generation.
// The API key is read from settings on every call, so a key changed at
// runtime takes effect without a restart.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"medrag/internal/settings"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

// clientCache keeps one client for the most recently used key.
type clientCache struct {
	settingsSvc *settings.Service
	opts        []option.ClientOption

	mu         sync.RWMutex
	client     *genai.Client
	currentKey string
}

func newClientCache(svc *settings.Service, opts []option.ClientOption) *clientCache {
	return &clientCache{settingsSvc: svc, opts: opts}
}

func (c *clientCache) current(ctx context.Context) (*genai.Client, error) {
	s, err := c.settingsSvc.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	if s.GeminiAPIKey == "" {
		return nil, ErrNoAPIKey
	}
	return c.get(ctx, s.GeminiAPIKey)
}

func (c *clientCache) get(ctx context.Context, key string) (*genai.Client, error) {
	c.mu.RLock()
	if c.client != nil && c.currentKey == key {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.currentKey == key {
		return c.client, nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close previous genai client", "error", err)
		}
	}

	opts := append(append([]option.ClientOption{}, c.opts...), option.WithAPIKey(key))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client = client
	c.currentKey = key
	return client, nil
}

func (c *clientCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.currentKey = ""
	return err
}
