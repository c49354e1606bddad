// ABOUTME: Tests for the live-research strategy's sampling and fan-out
// ABOUTME: Verifies ceil semantics: 5 queries at 0.25 coverage searches 2

package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/search"
)

// fakeWebSearcher serves canned results and counts calls.
type fakeWebSearcher struct {
	mu        sync.Mutex
	results   map[string][]search.Result
	perQuery  int
	searches  []string
	fetches   []string
	searchErr error
	fetchErr  error
}

func newFakeWebSearcher(perQuery int) *fakeWebSearcher {
	return &fakeWebSearcher{results: make(map[string][]search.Result), perQuery: perQuery}
}

func (f *fakeWebSearcher) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if canned, ok := f.results[query]; ok {
		return canned, nil
	}
	var out []search.Result
	for i := 0; i < f.perQuery && i < maxResults; i++ {
		out = append(out, search.Result{
			Title: query,
			URL:   "https://example.org/" + query + "/" + string(rune('a'+i)),
		})
	}
	return out, nil
}

func (f *fakeWebSearcher) FetchText(ctx context.Context, pageURL string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches = append(f.fetches, pageURL)
	if f.fetchErr != nil {
		return "", f.fetchErr
	}
	return "extracted text for " + pageURL, nil
}

func queryScript(queries string) *llm.MockGenerator {
	return llm.NewMockGenerator(llm.MockReply{
		Text:  queries,
		Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 50},
	})
}

func newResearchTurn(question string, tunables ResearchTunables) *Turn {
	mem := memory.New("mem-r")
	mem.ChatLog = userTurn(question)
	return &Turn{
		MemoryID: "mem-r",
		Mode:     ModeCaptured,
		Memory:   mem,
		Request:  TurnRequest{Tunables: tunables},
		emitter:  newFakeEmitter(),
		logger:   testLogger(),
	}
}

func TestSampleSize(t *testing.T) {
	tests := []struct {
		n        int
		fraction float64
		want     int
	}{
		{5, 0.25, 2},  // ceil(1.25)
		{8, 0.25, 2},  // ceil(2.0)
		{4, 0.25, 1},  // ceil(1.0)
		{1, 0.25, 1},  // never zero for a nonzero set
		{0, 0.25, 0},
		{3, 1.0, 3},
		{3, 2.0, 3}, // capped at n
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sampleSize(tt.n, tt.fraction), "sampleSize(%d, %v)", tt.n, tt.fraction)
	}
}

func TestTunables_Defaults(t *testing.T) {
	got := ResearchTunables{}.withDefaults()
	assert.Equal(t, 5, got.NumberOfSelectQueries)
	assert.Equal(t, 0.25, got.PercentOfTopQueriesToSearch)
	assert.Equal(t, 0.25, got.PercentOfTopResultsToScan)

	// Supplied values survive.
	custom := ResearchTunables{NumberOfSelectQueries: 3, PercentOfTopQueriesToSearch: 1.0, PercentOfTopResultsToScan: 0.5}.withDefaults()
	assert.Equal(t, 3, custom.NumberOfSelectQueries)
	assert.Equal(t, 1.0, custom.PercentOfTopQueriesToSearch)
}

func TestResearchExecute_SamplingBounds(t *testing.T) {
	searcher := newFakeWebSearcher(8)
	gen := queryScript("query one\nquery two\nquery three\nquery four\nquery five")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{PromptPer1K: 0.001, CompletionPer1K: 0.002}, ResearchTunables{}, 8, 2)

	turn := newResearchTurn("What are solar policies in Lima?", ResearchTunables{
		NumberOfSelectQueries:       5,
		PercentOfTopQueriesToSearch: 0.25,
		PercentOfTopResultsToScan:   0.25,
	})

	exec, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)

	// ceil(5*0.25)=2 queries searched, and they are the top-ranked two.
	require.Len(t, searcher.searches, 2)
	assert.ElementsMatch(t, []string{"query one", "query two"}, searcher.searches)

	// ceil(8*0.25)=2 pages scanned per query.
	assert.Len(t, searcher.fetches, 4)
	assert.Len(t, exec.Documents, 4)

	// Query-generation usage is carried as execution cost.
	assert.InDelta(t, 0.0002, exec.Cost, 1e-9)

	final := exec.Prompt.History[len(exec.Prompt.History)-1]
	assert.Contains(t, final.Text, "extracted text for")
	assert.Contains(t, final.Text, "What are solar policies in Lima?")
}

func TestResearchExecute_DefaultsApplied(t *testing.T) {
	searcher := newFakeWebSearcher(8)
	gen := queryScript("q1\nq2\nq3\nq4\nq5")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{}, 8, 2)

	turn := newResearchTurn("question", ResearchTunables{})
	_, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)
	assert.Len(t, searcher.searches, 2)
}

func TestResearchExecute_ConfiguredDefaultsApply(t *testing.T) {
	searcher := newFakeWebSearcher(8)
	gen := queryScript("q1\nq2\nq3\nq4")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{
		NumberOfSelectQueries:       4,
		PercentOfTopQueriesToSearch: 0.5,
		PercentOfTopResultsToScan:   0.25,
	}, 8, 2)

	// The request carries no tunables, so the strategy's configured
	// defaults govern the turn: 4 queries generated, ceil(4*0.5)=2 searched.
	turn := newResearchTurn("question", ResearchTunables{})
	_, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)

	require.Len(t, searcher.searches, 2)
	assert.ElementsMatch(t, []string{"q1", "q2"}, searcher.searches)
}

func TestResearchExecute_RequestTunablesWin(t *testing.T) {
	searcher := newFakeWebSearcher(8)
	gen := queryScript("q1\nq2")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{
		NumberOfSelectQueries:       4,
		PercentOfTopQueriesToSearch: 0.5,
		PercentOfTopResultsToScan:   0.25,
	}, 8, 2)

	turn := newResearchTurn("question", ResearchTunables{
		NumberOfSelectQueries:       2,
		PercentOfTopQueriesToSearch: 1.0,
	})
	_, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"q1", "q2"}, searcher.searches)
}

func TestResearchExecute_PageFailuresSkipped(t *testing.T) {
	searcher := newFakeWebSearcher(4)
	searcher.fetchErr = errors.New("host unreachable")
	gen := queryScript("q1\nq2\nq3\nq4\nq5")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{}, 4, 2)

	turn := newResearchTurn("question", ResearchTunables{})
	exec, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)

	assert.Empty(t, exec.Documents)
	final := exec.Prompt.History[len(exec.Prompt.History)-1]
	assert.Contains(t, final.Text, "no pages could be scanned")
}

func TestResearchExecute_AllSearchesFailing(t *testing.T) {
	searcher := newFakeWebSearcher(4)
	searcher.searchErr = errors.New("search engine down")
	gen := queryScript("q1\nq2\nq3\nq4\nq5")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{}, 4, 2)

	turn := newResearchTurn("question", ResearchTunables{})
	_, err := s.Execute(context.Background(), turn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search queries failed")
}

func TestResearchExecute_QueryGenerationFailure(t *testing.T) {
	searcher := newFakeWebSearcher(4)
	gen := llm.NewMockGenerator(llm.MockReply{Err: errors.New("model down")})
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{}, 4, 2)

	turn := newResearchTurn("question", ResearchTunables{})
	_, err := s.Execute(context.Background(), turn)
	require.Error(t, err)
	assert.Empty(t, searcher.searches)
}

func TestResearchExecute_DeduplicatesDocuments(t *testing.T) {
	searcher := newFakeWebSearcher(2)
	shared := []search.Result{
		{Title: "Shared", URL: "https://example.org/shared"},
		{Title: "Shared", URL: "https://example.org/shared"},
	}
	searcher.results["q1"] = shared
	searcher.results["q2"] = shared
	gen := queryScript("q1\nq2")
	s := NewResearchStrategy(searcher, gen, llm.Pricing{}, ResearchTunables{}, 2, 2)

	turn := newResearchTurn("question", ResearchTunables{
		NumberOfSelectQueries:       2,
		PercentOfTopQueriesToSearch: 1.0,
		PercentOfTopResultsToScan:   1.0,
	})
	exec, err := s.Execute(context.Background(), turn)
	require.NoError(t, err)
	assert.Len(t, exec.Documents, 1)
}
