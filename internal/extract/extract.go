// Package extract turns a fetched article page into a canonical record.
//
// Publishers differ in how much they expose, so each source names an
// extraction strategy and the pipeline looks it up in a Registry.
package extract

import (
	"errors"
	"fmt"
	"sort"

	"medrag/internal/article"
)

var (
	ErrUnknownExtractor = errors.New("unknown extractor")
	// ErrNoMetadata means the page had neither a title nor an abstract.
	ErrNoMetadata = errors.New("page has no article metadata")
)

// Extractor reads one article page. The returned record has URL set to
// pageURL; Category, Summary and IngestionDate are left for the caller.
type Extractor interface {
	Extract(pageURL string, body []byte) (article.Record, error)
}

type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// DefaultRegistry holds the built-in strategies.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	c := NewCitationExtractor()
	r.Register("citation", c)
	r.Register("citation+section", NewSectionExtractor(c))
	return r
}

func (r *Registry) Register(name string, e Extractor) {
	r.extractors[name] = e
}

func (r *Registry) Get(name string) (Extractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtractor, name)
	}
	return e, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.extractors))
	for n := range r.extractors {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
