package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// BrowserFetcher renders pages in headless Chrome with stealth patches, for
// publishers that gate content behind JavaScript checks. Chrome is started
// on first use and shared by all callers.
type BrowserFetcher struct {
	remoteURL string
	timeout   time.Duration

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// NewBrowserFetcher connects to remoteURL (a DevTools websocket) when set,
// otherwise launches a local headless Chrome.
func NewBrowserFetcher(remoteURL string, timeout time.Duration) *BrowserFetcher {
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &BrowserFetcher{remoteURL: remoteURL, timeout: timeout}
}

func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.remoteURL
	if controlURL == "" {
		b.lnch = launcher.New().Headless(true).Leakless(true)
		u, err := b.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		controlURL = u
	}

	br := rod.New().ControlURL(controlURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	b.browser = br
	return br, nil
}

func (b *BrowserFetcher) Fetch(ctx context.Context, target string) ([]byte, error) {
	br, err := b.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(br)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	defer func() { _ = page.Close() }()

	navCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	p := page.Context(navCtx)
	if err := p.Navigate(target); err != nil {
		return nil, fmt.Errorf("browser: navigate %s: %w", target, err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("browser: wait load %s: %w", target, err)
	}

	html, err := p.HTML()
	if err != nil {
		return nil, fmt.Errorf("browser: read DOM %s: %w", target, err)
	}
	return []byte(html), nil
}

// Close shuts the browser down if it was started.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return err
}
