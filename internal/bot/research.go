// ABOUTME: Live-research strategy: query generation, fan-out search, page scanning
// ABOUTME: Breadth is sampled by tunables so cost and latency stay bounded

package bot

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/search"
)

// ResearchTunables govern how wide and deep one research turn goes.
// Zero values take the defaults.
type ResearchTunables struct {
	NumberOfSelectQueries       int     `json:"numberOfSelectQueries"`
	PercentOfTopQueriesToSearch float64 `json:"percentOfTopQueriesToSearch"`
	PercentOfTopResultsToScan   float64 `json:"percentOfTopResultsToScan"`
}

// Default tunables when the caller supplies none.
const (
	DefaultSelectQueries = 5
	DefaultQueryFraction = 0.25
	DefaultScanFraction  = 0.25
)

// fallback fills zero-valued tunables from d; supplied values win.
func (t ResearchTunables) fallback(d ResearchTunables) ResearchTunables {
	if t.NumberOfSelectQueries <= 0 {
		t.NumberOfSelectQueries = d.NumberOfSelectQueries
	}
	if t.PercentOfTopQueriesToSearch <= 0 {
		t.PercentOfTopQueriesToSearch = d.PercentOfTopQueriesToSearch
	}
	if t.PercentOfTopResultsToScan <= 0 {
		t.PercentOfTopResultsToScan = d.PercentOfTopResultsToScan
	}
	return t
}

func (t ResearchTunables) withDefaults() ResearchTunables {
	return t.fallback(ResearchTunables{
		NumberOfSelectQueries:       DefaultSelectQueries,
		PercentOfTopQueriesToSearch: DefaultQueryFraction,
		PercentOfTopResultsToScan:   DefaultScanFraction,
	})
}

// sampleSize applies a coverage fraction to a count, rounding up so a
// nonzero fraction of a nonzero set always selects at least one item.
func sampleSize(n int, fraction float64) int {
	if n <= 0 {
		return 0
	}
	size := int(math.Ceil(float64(n) * fraction))
	if size > n {
		size = n
	}
	return size
}

const researchSystemPrompt = `You are a web research assistant. Synthesize the findings below into one coherent,
well-organized answer to the user's question. Attribute claims to their sources where the findings support them.`

const queryGenPrompt = `Generate %d distinct web search queries that together would answer the question below.
Order them from most to least relevant. Output one query per line with no numbering or commentary.

Question: %s`

// finding is one scanned page: the search hit plus its extracted text.
type finding struct {
	result search.Result
	text   string
}

// ResearchStrategy answers by generating candidate queries, searching a
// top fraction of them, and scanning a top fraction of each query's
// results.
type ResearchStrategy struct {
	searcher        search.WebSearcher
	gen             llm.Generator
	pricing         llm.Pricing
	defaults        ResearchTunables
	resultsPerQuery int
	maxConcurrency  int
}

// NewResearchStrategy creates the live-research strategy. defaults apply
// to turn requests that omit tunables; its own zero fields fall back to
// the compile-time defaults. resultsPerQuery and maxConcurrency fall
// back to 8 and 4 when non-positive.
func NewResearchStrategy(searcher search.WebSearcher, gen llm.Generator, pricing llm.Pricing, defaults ResearchTunables, resultsPerQuery, maxConcurrency int) *ResearchStrategy {
	if resultsPerQuery <= 0 {
		resultsPerQuery = 8
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ResearchStrategy{
		searcher:        searcher,
		gen:             gen,
		pricing:         pricing,
		defaults:        defaults.withDefaults(),
		resultsPerQuery: resultsPerQuery,
		maxConcurrency:  maxConcurrency,
	}
}

// Name identifies this strategy in logs and audit rows.
func (s *ResearchStrategy) Name() string { return "research" }

// Route is pure classification: every turn goes to live web research.
func (s *ResearchStrategy) Route(ctx context.Context, turn *Turn) (string, error) {
	if turn.Question() == "" {
		return "", fmt.Errorf("turn has no user message to answer")
	}
	return "live-web-research", nil
}

// Execute runs the research pipeline: generate queries, search the top
// fraction, scan the top fraction of each result set, and build the
// synthesis prompt from what was actually read.
func (s *ResearchStrategy) Execute(ctx context.Context, turn *Turn) (*Execution, error) {
	tunables := turn.Request.Tunables.fallback(s.defaults)
	question := turn.Question()

	turn.Notify("generating search queries")
	queries, genCost, err := s.generateQueries(ctx, question, tunables.NumberOfSelectQueries)
	if err != nil {
		return nil, fmt.Errorf("generating queries: %w", err)
	}

	toSearch := sampleSize(len(queries), tunables.PercentOfTopQueriesToSearch)
	queries = queries[:toSearch]
	turn.Notify(fmt.Sprintf("searching %d of %d candidate queries", toSearch, tunables.NumberOfSelectQueries))

	findings, docs, err := s.fanOut(ctx, turn, queries, tunables.PercentOfTopResultsToScan)
	if err != nil {
		return nil, err
	}
	turn.Notify(fmt.Sprintf("scanned %d pages", len(findings)))

	var findingsBlock strings.Builder
	for i, f := range findings {
		fmt.Fprintf(&findingsBlock, "[%d] %s (%s)\n%s\n\n", i+1, f.result.Title, f.result.URL, f.text)
	}
	if len(findings) == 0 {
		findingsBlock.WriteString("(no pages could be scanned)\n")
	}

	prompt := llm.Prompt{
		System:  researchSystemPrompt,
		History: promptHistory(turn.Memory.ChatLog, fmt.Sprintf("Findings:\n%s\nQuestion: %s", findingsBlock.String(), question)),
	}

	return &Execution{Prompt: prompt, Documents: docs, Cost: genCost}, nil
}

// generateQueries asks the model for candidate queries, most relevant
// first, and parses one per line.
func (s *ResearchStrategy) generateQueries(ctx context.Context, question string, n int) ([]string, float64, error) {
	res, err := s.gen.Complete(ctx, llm.Prompt{
		History: []llm.Message{{
			Role: llm.RoleUser,
			Text: fmt.Sprintf(queryGenPrompt, n, question),
		}},
	})
	if err != nil {
		return nil, 0, err
	}

	var queries []string
	for _, line := range strings.Split(res.Text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		queries = append(queries, line)
		if len(queries) == n {
			break
		}
	}
	if len(queries) == 0 {
		return nil, 0, fmt.Errorf("model produced no queries")
	}
	return queries, s.pricing.Cost(res.Usage), nil
}

// fanOut searches each query concurrently and scans the top fraction of
// its results. Individual page failures are skipped, not fatal; only a
// total collapse of every query is an error.
func (s *ResearchStrategy) fanOut(ctx context.Context, turn *Turn, queries []string, scanFraction float64) ([]finding, []memory.SourceDocument, error) {
	var mu sync.Mutex
	var findings []finding
	var searchErrs int

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for _, query := range queries {
		g.Go(func() error {
			results, err := s.searcher.Search(ctx, query, s.resultsPerQuery)
			if err != nil {
				turn.Notify(fmt.Sprintf("search failed for %q", query))
				mu.Lock()
				searchErrs++
				mu.Unlock()
				return nil
			}

			toScan := sampleSize(len(results), scanFraction)
			for _, r := range results[:toScan] {
				text, err := s.searcher.FetchText(ctx, r.URL)
				if err != nil {
					continue
				}
				mu.Lock()
				findings = append(findings, finding{result: r, text: text})
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("research fan-out: %w", err)
	}
	if searchErrs == len(queries) {
		return nil, nil, fmt.Errorf("all %d search queries failed", len(queries))
	}

	seen := make(map[string]bool)
	var docs []memory.SourceDocument
	for _, f := range findings {
		if seen[f.result.URL] {
			continue
		}
		seen[f.result.URL] = true
		docs = append(docs, memory.SourceDocument{Title: f.result.Title, URL: f.result.URL})
	}
	return findings, docs, nil
}
