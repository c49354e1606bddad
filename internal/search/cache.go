// ABOUTME: Pebble-backed cache wrapping page fetches from a WebSearcher
// ABOUTME: Research scans often revisit URLs across turns; cache hits skip the network

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cockroachdb/pebble"
)

const pageKeyPrefix = "page:"

// CachedSearcher wraps a WebSearcher with an on-disk page cache.
// Searches always go to the network; only fetched page text is cached.
type CachedSearcher struct {
	inner  WebSearcher
	db     *pebble.DB
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

type cachedPage struct {
	Text      string    `json:"text"`
	FetchedAt time.Time `json:"fetchedAt"`
}

// NewCachedSearcher opens a pebble cache at path around inner.
func NewCachedSearcher(inner WebSearcher, path string, ttl time.Duration, logger *slog.Logger) (*CachedSearcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening page cache: %w", err)
	}

	return &CachedSearcher{
		inner:  inner,
		db:     db,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "page-cache"),
	}, nil
}

// Search passes through to the wrapped searcher.
func (c *CachedSearcher) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	return c.inner.Search(ctx, query, maxResults)
}

// FetchText returns cached page text when fresh, fetching and storing
// otherwise. Cache errors degrade to a plain fetch.
func (c *CachedSearcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	key := []byte(pageKeyPrefix + pageURL)

	if text, ok := c.lookup(key); ok {
		c.logger.Debug("page cache hit", "url", pageURL)
		return text, nil
	}

	text, err := c.inner.FetchText(ctx, pageURL)
	if err != nil {
		return "", err
	}

	c.store(key, text)
	return text, nil
}

func (c *CachedSearcher) lookup(key []byte) (string, bool) {
	value, closer, err := c.db.Get(key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			c.logger.Warn("page cache read failed", "error", err)
		}
		return "", false
	}
	defer closer.Close()

	var page cachedPage
	if err := json.Unmarshal(value, &page); err != nil {
		c.logger.Warn("page cache entry corrupt", "error", err)
		return "", false
	}
	if c.now().Sub(page.FetchedAt) > c.ttl {
		return "", false
	}
	return page.Text, true
}

func (c *CachedSearcher) store(key []byte, text string) {
	data, err := json.Marshal(cachedPage{Text: text, FetchedAt: c.now()})
	if err != nil {
		c.logger.Warn("page cache encode failed", "error", err)
		return
	}
	if err := c.db.Set(key, data, pebble.Sync); err != nil {
		c.logger.Warn("page cache write failed", "error", err)
	}
}

// Close closes the underlying cache database.
func (c *CachedSearcher) Close() error {
	return c.db.Close()
}
