// ABOUTME: Tests for grounding client, result parsing, text extraction, and page cache
// ABOUTME: Uses httptest servers; no real network traffic

package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPGrounder_Ground(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/search", r.URL.Path)

		var req groundingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lima energy", req.Query)
		assert.Equal(t, 2, req.MaxSnippets)

		json.NewEncoder(w).Encode(groundingResponse{Snippets: []Snippet{
			{Title: "Plan", URL: "https://example.org/plan", Content: "the plan text"},
			{Title: "Report", URL: "https://example.org/report", Content: "the report"},
			{Title: "Extra", URL: "https://example.org/extra", Content: "over the limit"},
		}})
	}))
	defer srv.Close()

	g := NewHTTPGrounder(srv.URL, 2, 5*time.Second, nil)
	snippets, err := g.Ground(context.Background(), "lima energy")
	require.NoError(t, err)

	// Truncated to maxSnippets even when the service over-returns.
	require.Len(t, snippets, 2)
	assert.Equal(t, "Plan", snippets[0].Title)
}

func TestHTTPGrounder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPGrounder(srv.URL, 4, 5*time.Second, nil)
	_, err := g.Ground(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

const sampleResultsPage = `
<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="https://example.org/one">First Result</a>
  <a class="result__snippet" href="https://example.org/one">Snippet one text.</a>
</div>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Ftwo&rut=abc">Second Result</a>
  <a class="result__snippet" href="https://example.org/two">Snippet two.</a>
</div>
<div class="no-result">nothing here</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	results, err := parseSearchResults(sampleResultsPage, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "First Result", results[0].Title)
	assert.Equal(t, "https://example.org/one", results[0].URL)
	assert.Equal(t, "Snippet one text.", results[0].Snippet)

	// Redirect links are unwrapped.
	assert.Equal(t, "https://example.org/two", results[1].URL)
}

func TestParseSearchResults_MaxResults(t *testing.T) {
	results, err := parseSearchResults(sampleResultsPage, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestExtractText(t *testing.T) {
	page := `<html><head><style>.x{color:red}</style><script>var x=1;</script></head>
<body><nav>menu items</nav><h1>Heading</h1><p>Body paragraph.</p>
<footer>copyright</footer></body></html>`

	text, err := ExtractText(page)
	require.NoError(t, err)

	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "Body paragraph.")
	assert.NotContains(t, text, "var x=1")
	assert.NotContains(t, text, "menu items")
	assert.NotContains(t, text, "copyright")
}

// countingSearcher counts fetches to verify cache behavior.
type countingSearcher struct {
	fetches int
	text    string
	err     error
}

func (c *countingSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return nil, nil
}

func (c *countingSearcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	c.fetches++
	if c.err != nil {
		return "", c.err
	}
	return c.text, nil
}

func TestCachedSearcher_FetchText(t *testing.T) {
	inner := &countingSearcher{text: "page body"}
	cache, err := NewCachedSearcher(inner, t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()

	text, err := cache.FetchText(ctx, "https://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "page body", text)
	assert.Equal(t, 1, inner.fetches)

	// Second fetch of the same URL hits the cache.
	text, err = cache.FetchText(ctx, "https://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "page body", text)
	assert.Equal(t, 1, inner.fetches)

	// Different URL misses.
	_, err = cache.FetchText(ctx, "https://example.org/b")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.fetches)
}

func TestCachedSearcher_TTLExpiry(t *testing.T) {
	inner := &countingSearcher{text: "stale soon"}
	cache, err := NewCachedSearcher(inner, t.TempDir(), time.Minute, nil)
	require.NoError(t, err)
	defer cache.Close()

	ctx := context.Background()
	_, err = cache.FetchText(ctx, "https://example.org/a")
	require.NoError(t, err)

	// Advance the clock past the TTL.
	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = cache.FetchText(ctx, "https://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.fetches)
}

func TestCachedSearcher_FetchErrorNotCached(t *testing.T) {
	inner := &countingSearcher{err: fmt.Errorf("unreachable")}
	cache, err := NewCachedSearcher(inner, t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.FetchText(context.Background(), "https://example.org/a")
	require.Error(t, err)

	inner.err = nil
	inner.text = "recovered"
	text, err := cache.FetchText(context.Background(), "https://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "recovered", text)
}
