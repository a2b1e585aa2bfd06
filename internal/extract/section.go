package extract

import (
	"bytes"
	"errors"
	"fmt"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"

	"medrag/internal/article"
	"medrag/internal/text"
)

// abstractSelectors are tried in order; the first non-empty match wins.
var abstractSelectors = []string{
	"section.abstract",
	"div.abstract",
	"#abstract",
	"section[id^=abstract]",
	"div.article-section__content",
	"div[class*=abstract]",
}

// SectionExtractor reads citation meta tags and, when the page has no
// abstract meta, converts the abstract section of the body to plain text.
type SectionExtractor struct {
	citation *CitationExtractor
}

func NewSectionExtractor(c *CitationExtractor) *SectionExtractor {
	return &SectionExtractor{citation: c}
}

func (s *SectionExtractor) Extract(pageURL string, body []byte) (article.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article.Record{}, fmt.Errorf("parse document: %w", err)
	}

	rec, err := s.citation.fromDocument(pageURL, doc)
	if err != nil && !errors.Is(err, ErrNoMetadata) {
		return rec, err
	}
	if text.IsAvailable(rec.Abstract) {
		return rec, nil
	}

	abstract, convErr := abstractSection(doc)
	if convErr != nil {
		return rec, convErr
	}
	if abstract == "" {
		return rec, err
	}

	rec.Abstract = abstract
	return normalize(rec), nil
}

func abstractSection(doc *goquery.Document) (string, error) {
	for _, sel := range abstractSelectors {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		raw, err := goquery.OuterHtml(node)
		if err != nil {
			return "", fmt.Errorf("read abstract section: %w", err)
		}
		md, err := htmltomarkdown.ConvertString(raw)
		if err != nil {
			return "", fmt.Errorf("convert abstract section: %w", err)
		}
		if plain := text.StripMarkdown(md); plain != "" {
			return plain, nil
		}
	}
	return "", nil
}
