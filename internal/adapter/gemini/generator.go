package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"medrag/internal/settings"
)

// Generator answers prompts with a Gemini generative model.
type Generator struct {
	clients *clientCache
	model   string
}

func NewGenerator(svc *settings.Service, model string, opts ...option.ClientOption) *Generator {
	return &Generator{clients: newClientCache(svc, opts), model: model}
}

// Complete runs one prompt with an optional system instruction and returns
// the concatenated text of the first candidate.
func (g *Generator) Complete(ctx context.Context, system, prompt string) (string, error) {
	client, err := g.clients.current(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0)
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty completion")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", fmt.Errorf("empty completion")
	}
	return out, nil
}

func (g *Generator) Close() error {
	return g.clients.Close()
}
