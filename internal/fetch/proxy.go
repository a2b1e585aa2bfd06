package fetch

import (
	"context"
	"fmt"
	"net/url"
)

// ProxyFetcher routes requests through a scraping API that takes the target
// page as ?url= and the account key as ?apikey=.
type ProxyFetcher struct {
	http     *HTTPFetcher
	endpoint string
	apiKey   string
}

func NewProxyFetcher(endpoint, apiKey string, cfg Config) *ProxyFetcher {
	return &ProxyFetcher{http: NewHTTPFetcher(cfg), endpoint: endpoint, apiKey: apiKey}
}

func (p *ProxyFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy endpoint: %w", err)
	}
	q := u.Query()
	q.Set("url", target)
	q.Set("apikey", p.apiKey)
	u.RawQuery = q.Encode()

	return p.http.get(ctx, u.String(), target)
}
