package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/capture-cli/internal/config"
	"github.com/sells-group/capture-cli/internal/fetcher"
)

const resultsPage = `<html><body>
<div class="result">
  <h2 class="result__title"><a href="#">Acme Cyber &amp; Defense</a></h2>
  <a class="result__url" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fwww.acmecyber.com%2Fabout&amp;rut=abc">acmecyber.com</a>
  <a class="result__snippet">Trusted <b>cybersecurity</b> partner for DoD.</a>
</div>
<div class="result">
  <h2 class="result__title">Acme - Wikipedia</h2>
  <a class="result__url" href="https://en.wikipedia.org/wiki/Acme">wikipedia</a>
  <a class="result__snippet">Encyclopedia entry.</a>
</div>
<div class="result">
  <h2 class="result__title">No snippet here</h2>
  <a class="result__url" href="https://nosnippet.com">nosnippet.com</a>
</div>
<div class="result">
  <h2 class="result__title">Beta Logistics</h2>
  <a class="result__url" href="https://betalogistics.com/">betalogistics.com</a>
  <a class="result__snippet">Supply chain services.</a>
</div>
</body></html>`

func newTestSearcher(t *testing.T, handler http.HandlerFunc, cfg config.DiscoveryConfig) *Searcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.SearchURL = srv.URL + "/html/"
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, Timeout: 5 * time.Second})
	s := NewSearcher(f, cfg)
	s.retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func TestSearch(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "cyber contractors", r.URL.Query().Get("q"))
		_, _ = w.Write([]byte(resultsPage))
	}, config.DiscoveryConfig{})

	leads, err := s.Search(context.Background(), "cyber contractors")
	require.NoError(t, err)
	require.Len(t, leads, 2)

	assert.Equal(t, "Acme Cyber & Defense", leads[0].Title)
	assert.Equal(t, "https://www.acmecyber.com/about", leads[0].URL)
	assert.Equal(t, "acmecyber.com", leads[0].Domain())
	assert.Equal(t, "Trusted cybersecurity partner for DoD.", leads[0].Snippet)
	assert.Equal(t, "cyber contractors", leads[0].Query)
	assert.Equal(t, "betalogistics.com", leads[1].Domain())
}

func TestSearch_MaxResults(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(resultsPage))
	}, config.DiscoveryConfig{MaxResults: 1})

	leads, err := s.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}

func TestSearch_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	s := newTestSearcher(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(resultsPage))
	}, config.DiscoveryConfig{Retries: 2})

	leads, err := s.Search(context.Background(), "q")
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSearchAll_SkipsFailedQueriesAndDedupes(t *testing.T) {
	s := newTestSearcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "broken" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(resultsPage))
	}, config.DiscoveryConfig{})

	leads, err := s.SearchAll(context.Background(), []string{"one", "broken", " ", "two"})
	require.NoError(t, err)
	assert.Len(t, leads, 2)
	assert.Equal(t, "one", leads[0].Query)
}

func TestUnwrapRedirect(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://x.com/a", unwrapRedirect("//duckduckgo.com/l/?uddg=https%3A%2F%2Fx.com%2Fa&rut=1"))
	assert.Equal(t, "https://plain.com", unwrapRedirect("https://plain.com"))
	assert.Equal(t, "/l/?uddg=", unwrapRedirect("/l/?uddg="))
}

func TestIgnored(t *testing.T) {
	t.Parallel()

	s := NewSearcher(nil, config.DiscoveryConfig{})
	assert.True(t, s.ignored("m.facebook.com"))
	assert.True(t, s.ignored(""))
	assert.False(t, s.ignored("acme.com"))
}
