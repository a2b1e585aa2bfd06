package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(retries int) Config {
	return Config{Timeout: 2 * time.Second, MaxRetries: retries, InitialBackoff: time.Millisecond}
}

func TestHTTPFetcher_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "medrag-test", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	cfg := testConfig(0)
	cfg.UserAgent = "medrag-test"
	body, err := NewHTTPFetcher(cfg).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", string(body))
}

func TestHTTPFetcher_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		switch n {
		case 1:
			w.WriteHeader(http.StatusTooManyRequests)
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte("finally"))
		}
	}))
	defer srv.Close()

	body, err := NewHTTPFetcher(testConfig(3)).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "finally", string(body))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPFetcher_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testConfig(3)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.False(t, se.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestHTTPFetcher_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewHTTPFetcher(testConfig(2)).Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPFetcher_TruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	cfg := testConfig(0)
	cfg.MaxBytes = 4
	body, err := NewHTTPFetcher(cfg).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(body))
}

func TestProxyFetcher_PassesTargetAndKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://journal.example.org/a?x=1", r.URL.Query().Get("url"))
		assert.Equal(t, "secret", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte("proxied"))
	}))
	defer srv.Close()

	p := NewProxyFetcher(srv.URL+"/v1", "secret", testConfig(0))
	body, err := p.Fetch(context.Background(), "https://journal.example.org/a?x=1")
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(body))
}

func TestProxyFetcher_ErrorHidesKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	p := NewProxyFetcher(srv.URL, "secret", testConfig(0))
	_, err := p.Fetch(context.Background(), "https://journal.example.org/a")
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "secret")
	assert.Contains(t, err.Error(), "https://journal.example.org/a")
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	h := NewHTTPFetcher(Config{})
	r.Register("http", h)

	got, err := r.Get("http")
	require.NoError(t, err)
	assert.Same(t, h, got)

	_, err = r.Get("browser")
	assert.ErrorIs(t, err, ErrUnknownFetcher)
	assert.Equal(t, []string{"http"}, r.Names())
}

func TestBrowserFetcher_CloseWithoutStart(t *testing.T) {
	b := NewBrowserFetcher("", 0)
	assert.NoError(t, b.Close())
}
