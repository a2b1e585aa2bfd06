package fetch

import (
	"fmt"
	"sort"
)

// Registry resolves a source's fetcher strategy by name.
type Registry struct {
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

func (r *Registry) Register(name string, f Fetcher) {
	r.fetchers[name] = f
}

func (r *Registry) Get(name string) (Fetcher, error) {
	f, ok := r.fetchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFetcher, name)
	}
	return f, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.fetchers))
	for n := range r.fetchers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
