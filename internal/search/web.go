// ABOUTME: DuckDuckGo HTML web search and rate-limited page fetching
// ABOUTME: Extracts readable text from pages for the research pipeline

package search

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher finds results for a query and fetches page text.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
	FetchText(ctx context.Context, pageURL string) (string, error)
}

const (
	searchUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxSearchBody   = 1 << 20 // 1MB
	maxPageBody     = 2 << 20 // 2MB
	maxPageText     = 20000   // characters of extracted text per page
)

var (
	multiNewlinePattern = regexp.MustCompile(`\n{3,}`)
	multiSpacePattern   = regexp.MustCompile(`[ \t]{2,}`)
)

// DuckDuckGoSearcher implements WebSearcher against the DuckDuckGo HTML
// endpoint, which needs no API key. Page fetches are rate limited so a
// fan-out of scans doesn't hammer remote hosts.
type DuckDuckGoSearcher struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDuckDuckGoSearcher creates a searcher. fetchesPerSecond bounds page
// fetch rate; zero or negative disables limiting.
func NewDuckDuckGoSearcher(fetchesPerSecond float64, logger *slog.Logger) *DuckDuckGoSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if fetchesPerSecond > 0 {
		limit = rate.Limit(fetchesPerSecond)
	}
	return &DuckDuckGoSearcher{
		baseURL: "https://html.duckduckgo.com/html/",
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "web-search"),
	}
}

// Search queries DuckDuckGo and parses the result list.
func (s *DuckDuckGoSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if maxResults <= 0 {
		maxResults = 8
	}

	searchURL := fmt.Sprintf("%s?q=%s", s.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBody))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	results, err := parseSearchResults(string(body), maxResults)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("web search complete", "query", query, "results", len(results))
	return results, nil
}

// FetchText fetches a page and extracts its readable text.
func (s *DuckDuckGoSearcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for fetch slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating fetch request: %w", err)
	}
	req.Header.Set("User-Agent", searchUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching %s: HTTP %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBody))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", pageURL, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/plain") {
		return truncateText(string(body)), nil
	}

	text, err := ExtractText(string(body))
	if err != nil {
		return "", fmt.Errorf("extracting text from %s: %w", pageURL, err)
	}

	s.logger.Debug("page fetched", "url", pageURL, "chars", len(text))
	return truncateText(text), nil
}

func truncateText(s string) string {
	if len(s) > maxPageText {
		return s[:maxPageText]
	}
	return s
}

// parseSearchResults extracts hits from the DuckDuckGo HTML result page,
// which marks each hit with class="result results_links ...".
func parseSearchResults(htmlContent string, maxResults int) ([]Result, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return nil, fmt.Errorf("parsing search HTML: %w", err)
	}

	var results []Result
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= maxResults {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return results, nil
}

func extractResult(n *html.Node) Result {
	var result Result

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attrValue(n, "class")
			if strings.Contains(class, "result__a") {
				result.URL = cleanRedirectURL(attrValue(n, "href"))
				result.Title = textContent(n)
			} else if strings.Contains(class, "result__snippet") {
				result.Snippet = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return result
}

// cleanRedirectURL unwraps DuckDuckGo's redirect links.
func cleanRedirectURL(href string) string {
	const redirectPrefix = "//duckduckgo.com/l/?uddg="
	if !strings.HasPrefix(href, redirectPrefix) {
		return href
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(href, redirectPrefix))
	if err != nil {
		return href
	}
	if idx := strings.Index(decoded, "&"); idx > 0 {
		decoded = decoded[:idx]
	}
	return decoded
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(strings.TrimSpace(n.Data))
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}

// ExtractText pulls readable text out of an HTML document, skipping
// navigation, script, and style content.
func ExtractText(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var walk func(n *html.Node, depth int)
	walk = func(n *html.Node, depth int) {
		if depth > 50 {
			return
		}
		switch n.Type {
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				sb.WriteString(text)
				sb.WriteString(" ")
			}
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "header":
				return
			case "p", "div", "h1", "h2", "h3", "h4", "h5", "h6", "li", "br", "tr":
				sb.WriteString("\n")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c, depth+1)
		}
	}
	walk(doc, 0)

	text := sb.String()
	text = multiNewlinePattern.ReplaceAllString(text, "\n\n")
	text = multiSpacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text), nil
}
