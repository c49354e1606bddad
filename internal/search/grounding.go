// ABOUTME: HTTP client for the external grounding-search collaborator
// ABOUTME: Returns context snippets used to ground answers in sources

package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Snippet is one grounding result: a titled source plus extracted content.
type Snippet struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Grounder retrieves grounding snippets for a query.
type Grounder interface {
	Ground(ctx context.Context, query string) ([]Snippet, error)
}

// HTTPGrounder calls a grounding-search service over HTTP.
type HTTPGrounder struct {
	baseURL     string
	maxSnippets int
	client      *http.Client
	logger      *slog.Logger
}

// NewHTTPGrounder creates a grounder against the given base URL.
func NewHTTPGrounder(baseURL string, maxSnippets int, timeout time.Duration, logger *slog.Logger) *HTTPGrounder {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSnippets <= 0 {
		maxSnippets = 6
	}
	return &HTTPGrounder{
		baseURL:     baseURL,
		maxSnippets: maxSnippets,
		client:      &http.Client{Timeout: timeout},
		logger:      logger.With("component", "grounder"),
	}
}

type groundingRequest struct {
	Query       string `json:"query"`
	MaxSnippets int    `json:"maxSnippets"`
}

type groundingResponse struct {
	Snippets []Snippet `json:"snippets"`
}

// Ground posts the query to the grounding service and returns its snippets.
func (g *HTTPGrounder) Ground(ctx context.Context, query string) ([]Snippet, error) {
	payload, err := json.Marshal(groundingRequest{Query: query, MaxSnippets: g.maxSnippets})
	if err != nil {
		return nil, fmt.Errorf("encoding grounding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating grounding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("grounding search failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("grounding search returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	var decoded groundingResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding grounding response: %w", err)
	}

	if len(decoded.Snippets) > g.maxSnippets {
		decoded.Snippets = decoded.Snippets[:g.maxSnippets]
	}

	g.logger.Debug("grounding search complete",
		"query", query,
		"snippets", len(decoded.Snippets),
		"duration", time.Since(start),
	)
	return decoded.Snippets, nil
}
