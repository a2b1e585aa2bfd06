// Package enrich adds a short summary and keywords to an article from its
// abstract.
package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"medrag/internal/article"
	"medrag/internal/text"
)

const maxKeywords = 5

const systemPrompt = `You summarize medical journal abstracts for clinicians.
Reply with a single JSON object and nothing else:
{"summary": "<two or three sentences>", "keywords": ["<keyword>", ...]}
Use at most 5 keywords.`

type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

type Enricher struct {
	llm Completer
}

func New(llm Completer) *Enricher {
	return &Enricher{llm: llm}
}

type result struct {
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
}

// Enrich fills Summary and Keywords. Records without an abstract are left
// untouched, and an LLM failure only leaves the fields as they were.
func (e *Enricher) Enrich(ctx context.Context, rec article.Record) article.Record {
	if e == nil || e.llm == nil || !text.IsAvailable(rec.Abstract) {
		return rec
	}

	raw, err := e.llm.Complete(ctx, systemPrompt, "Abstract:\n"+rec.Abstract)
	if err != nil {
		slog.WarnContext(ctx, "summary generation failed", "url", rec.URL, "error", err)
		return rec
	}

	res, err := parse(raw)
	if err != nil {
		slog.WarnContext(ctx, "summary response unusable", "url", rec.URL, "error", err)
		return rec
	}

	if s := text.Collapse(res.Summary); s != "" {
		rec.Summary = s
	}
	kw := res.Keywords
	if len(kw) > maxKeywords {
		kw = kw[:maxKeywords]
	}
	if k := text.JoinNonEmpty(kw, ", "); k != "" {
		rec.Keywords = k
	}
	return rec
}

// parse accepts the JSON object bare or wrapped in a markdown fence.
func parse(raw string) (result, error) {
	var res result
	s := strings.TrimSpace(raw)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return res, fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &res); err != nil {
		return res, fmt.Errorf("decode response: %w", err)
	}
	return res, nil
}
