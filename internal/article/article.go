// Package article persists canonical article metadata, one table per
// category.
package article

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingDone    EmbeddingStatus = "done"
)

var ErrInvalidCategory = errors.New("invalid category")

// Record is the canonical field set extracted from an article page.
// PublicationDate is nil when the page carried no parsable date.
type Record struct {
	ID              int64           `json:"id"`
	Category        string          `json:"specialization"`
	URL             string          `json:"article_url"`
	Title           string          `json:"title"`
	Abstract        string          `json:"abstract"`
	JournalTitle    string          `json:"journal_title"`
	Publisher       string          `json:"publisher"`
	Volume          string          `json:"volume"`
	Issue           string          `json:"issue"`
	PublicationDate *time.Time      `json:"publication_date,omitempty"`
	ISSN            string          `json:"issn"`
	Language        string          `json:"language"`
	Identifier      string          `json:"identifier"`
	Authors         string          `json:"authors"`
	Contributors    string          `json:"contributors"`
	PDFLink         string          `json:"pdf_link"`
	Summary         string          `json:"summary"`
	Keywords        string          `json:"keywords"`
	IngestionDate   time.Time       `json:"ingestion_date"`
	Embeddings      EmbeddingStatus `json:"embeddings"`
}

type CategoryCount struct {
	Records  int `json:"records"`
	Embedded int `json:"embedded"`
}

var (
	tableNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)
	separatorRe = regexp.MustCompile(`[\s\-]+`)
	reserved    = map[string]struct{}{
		"article_links":     {},
		"settings":          {},
		"schema_migrations": {},
	}
)

// TableName maps a category to the table holding its articles. Spaces and
// dashes become underscores; anything else outside [a-z0-9_] is rejected.
func TableName(category string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(category))
	name = separatorRe.ReplaceAllString(name, "_")
	if !tableNameRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}
	if _, ok := reserved[name]; ok {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidCategory, category)
	}
	return name, nil
}
