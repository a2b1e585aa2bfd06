package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrUnknownSource = errors.New("unknown source")

const (
	DefaultExtractor = "citation"
	DefaultFetcher   = "http"
)

// Source is one journal feed and the strategies used to crawl it.
type Source struct {
	Name      string `yaml:"name" json:"name"`
	Category  string `yaml:"category" json:"category"`
	FeedURL   string `yaml:"feed_url" json:"feed_url"`
	Extractor string `yaml:"extractor" json:"extractor"`
	Fetcher   string `yaml:"fetcher" json:"fetcher"`
	Disabled  bool   `yaml:"disabled" json:"disabled"`
}

// Catalog is the set of configured journal sources.
type Catalog struct {
	Sources []Source `yaml:"sources"`
}

// LoadCatalog reads and validates a YAML source catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is from application config
	if err != nil {
		return nil, fmt.Errorf("read source catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse source catalog: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Category = strings.ToLower(strings.TrimSpace(s.Category))
		if s.Name == "" || s.Category == "" || s.FeedURL == "" {
			return nil, fmt.Errorf("%w: source #%d needs name, category and feed_url", ErrMissingRequired, i+1)
		}
		if seen[s.Name] {
			return nil, fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
		if s.Extractor == "" {
			s.Extractor = DefaultExtractor
		}
		if s.Fetcher == "" {
			s.Fetcher = DefaultFetcher
		}
	}
	return &c, nil
}

func (c *Catalog) Enabled() []Source {
	var out []Source
	for _, s := range c.Sources {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}

func (c *Catalog) Find(name string) (Source, error) {
	for _, s := range c.Sources {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return Source{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
}

// Categories returns the distinct categories of enabled sources, sorted.
func (c *Catalog) Categories() []string {
	set := make(map[string]struct{})
	for _, s := range c.Enabled() {
		set[s.Category] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
