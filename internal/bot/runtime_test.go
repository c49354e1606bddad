// ABOUTME: Tests for the shared turn runtime plus the fakes other bot tests reuse
// ABOUTME: Covers terminal-event discipline, persistence, and error handling

package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/session"
)

// fakeStore is an in-memory memory.Store.
type fakeStore struct {
	mu      sync.Mutex
	data    map[string]*memory.ConversationMemory
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]*memory.ConversationMemory)}
}

func (s *fakeStore) Load(ctx context.Context, id string) (*memory.ConversationMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.data[id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	copied := *m
	copied.ChatLog = append([]memory.ChatMessage(nil), m.ChatLog...)
	return &copied, nil
}

func (s *fakeStore) Save(ctx context.Context, id string, m *memory.ConversationMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	copied := *m
	copied.ChatLog = append([]memory.ChatMessage(nil), m.ChatLog...)
	s.data[id] = &copied
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeEmitter records every event per client.
type fakeEmitter struct {
	mu     sync.Mutex
	events map[string][]session.Event
}

func newFakeEmitter() *fakeEmitter {
	return &fakeEmitter{events: make(map[string][]session.Event)}
}

func (e *fakeEmitter) Send(clientID string, ev session.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events[clientID] = append(e.events[clientID], ev)
}

func (e *fakeEmitter) sent(clientID string) []session.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]session.Event(nil), e.events[clientID]...)
}

func terminals(events []session.Event) []session.Event {
	var out []session.Event
	for _, ev := range events {
		if ev.Terminal() {
			out = append(out, ev)
		}
	}
	return out
}

// fixedStrategy returns a canned execution, or an error.
type fixedStrategy struct {
	name string
	exec *Execution
	err  error
}

func (s *fixedStrategy) Name() string { return s.name }

func (s *fixedStrategy) Route(ctx context.Context, turn *Turn) (string, error) {
	return "fixed", nil
}

func (s *fixedStrategy) Execute(ctx context.Context, turn *Turn) (*Execution, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.exec, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func userTurn(text string) []memory.ChatMessage {
	return []memory.ChatMessage{{Sender: memory.SenderUser, Message: text, Timestamp: time.Now()}}
}

func newTestRuntime(strategy Strategy, store memory.Store, emitter Emitter, gen llm.Generator) *Runtime {
	return NewRuntime(RuntimeConfig{
		Strategy: strategy,
		Store:    store,
		Locks:    memory.NewKeyedMutex(),
		Emitter:  emitter,
		Gen:      gen,
		Pricing:  llm.Pricing{PromptPer1K: 0.001, CompletionPer1K: 0.002},
	})
}

func TestRun_StreamingTurn(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()
	gen := llm.NewMockGenerator(llm.MockReply{
		Text:  "solar incentives exist",
		Usage: llm.Usage{PromptTokens: 1000, CompletionTokens: 1000},
	})
	docs := []memory.SourceDocument{{Title: "Plan", URL: "https://example.org/plan"}}
	strategy := &fixedStrategy{name: "test", exec: &Execution{
		Prompt:    llm.Prompt{History: []llm.Message{{Role: llm.RoleUser, Text: "q"}}},
		Documents: docs,
		Cost:      0.001,
	}}

	rt := newTestRuntime(strategy, store, emitter, gen)
	result, err := rt.Run(context.Background(), TurnRequest{
		ClientID: "client-1",
		ChatLog:  userTurn("What are solar policies in Lima?"),
	}, ModeStreaming)
	require.NoError(t, err)
	require.NotEmpty(t, result.MemoryID)
	assert.Equal(t, "solar incentives exist", result.Answer)
	// Execution cost plus priced usage: 0.001 + (1.0*0.001 + 1.0*0.002).
	assert.InDelta(t, 0.004, result.Cost, 1e-9)

	events := emitter.sent("client-1")
	require.NotEmpty(t, events)

	// sourceDocuments precede chunks; exactly one terminal end.
	assert.Equal(t, session.EventSourceDocuments, events[0].Type)
	term := terminals(events)
	require.Len(t, term, 1)
	assert.Equal(t, session.EventEnd, term[0].Type)
	assert.Equal(t, session.EventEnd, events[len(events)-1].Type)

	// Persisted memory ends with the assistant answer carrying sources.
	saved, err := store.Load(context.Background(), result.MemoryID)
	require.NoError(t, err)
	last := saved.ChatLog[len(saved.ChatLog)-1]
	assert.Equal(t, memory.SenderAssistant, last.Sender)
	assert.Equal(t, docs, last.SourceDocuments)
	assert.InDelta(t, result.Cost, saved.CumulativeCost, 1e-9)
}

func TestRun_CapturedTurnEmitsNothing(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()
	gen := llm.NewMockGenerator(llm.MockReply{Text: "captured answer"})
	strategy := &fixedStrategy{name: "test", exec: &Execution{
		Prompt: llm.Prompt{History: []llm.Message{{Role: llm.RoleUser, Text: "q"}}},
	}}

	rt := newTestRuntime(strategy, store, emitter, gen)
	result, err := rt.Run(context.Background(), TurnRequest{
		ChatLog: userTurn("question"),
	}, ModeCaptured)
	require.NoError(t, err)
	assert.Equal(t, "captured answer", result.Answer)

	// Nothing leaks onto any socket.
	assert.Empty(t, emitter.events)
}

func TestRun_ExecuteErrorPersistsAndEmitsOneError(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()
	gen := llm.NewMockGenerator()
	strategy := &fixedStrategy{name: "test", err: errors.New("collaborator down")}

	rt := newTestRuntime(strategy, store, emitter, gen)
	_, err := rt.Run(context.Background(), TurnRequest{
		MemoryID: "mem-err",
		ClientID: "client-1",
		ChatLog:  userTurn("question"),
	}, ModeStreaming)
	require.Error(t, err)

	events := emitter.sent("client-1")
	term := terminals(events)
	require.Len(t, term, 1)
	assert.Equal(t, session.EventError, term[0].Type)
	assert.Contains(t, term[0].Message, "collaborator down")

	// Partial state (the user message) was still persisted.
	saved, err := store.Load(context.Background(), "mem-err")
	require.NoError(t, err)
	require.Len(t, saved.ChatLog, 1)
	assert.Equal(t, memory.SenderUser, saved.ChatLog[0].Sender)
}

func TestRun_GenerationErrorEmitsError(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()
	gen := llm.NewMockGenerator(llm.MockReply{Err: errors.New("model unavailable")})
	strategy := &fixedStrategy{name: "test", exec: &Execution{
		Prompt: llm.Prompt{History: []llm.Message{{Role: llm.RoleUser, Text: "q"}}},
	}}

	rt := newTestRuntime(strategy, store, emitter, gen)
	_, err := rt.Run(context.Background(), TurnRequest{
		ClientID: "client-1",
		ChatLog:  userTurn("question"),
	}, ModeStreaming)
	require.Error(t, err)

	term := terminals(emitter.sent("client-1"))
	require.Len(t, term, 1)
	assert.Equal(t, session.EventError, term[0].Type)
}

func TestRun_ReusesSuppliedMemory(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()
	gen := llm.NewMockGenerator(
		llm.MockReply{Text: "first answer"},
		llm.MockReply{Text: "second answer"},
	)
	strategy := &fixedStrategy{name: "test", exec: &Execution{
		Prompt: llm.Prompt{History: []llm.Message{{Role: llm.RoleUser, Text: "q"}}},
	}}

	rt := newTestRuntime(strategy, store, emitter, gen)
	ctx := context.Background()

	first, err := rt.Run(ctx, TurnRequest{ChatLog: userTurn("first")}, ModeCaptured)
	require.NoError(t, err)

	// Second turn resends the full log plus a new user message.
	saved, err := store.Load(ctx, first.MemoryID)
	require.NoError(t, err)
	fullLog := append(saved.ChatLog, userTurn("second")...)

	second, err := rt.Run(ctx, TurnRequest{MemoryID: first.MemoryID, ChatLog: fullLog}, ModeCaptured)
	require.NoError(t, err)
	assert.Equal(t, first.MemoryID, second.MemoryID)

	saved, err = store.Load(ctx, first.MemoryID)
	require.NoError(t, err)
	require.Len(t, saved.ChatLog, 4) // user, assistant, user, assistant
	assert.Equal(t, "second answer", saved.ChatLog[3].Message)
}

func TestAppendDelta(t *testing.T) {
	t.Run("longer supplied log appends tail", func(t *testing.T) {
		mem := memory.New("m")
		mem.ChatLog = userTurn("first")

		supplied := append(append([]memory.ChatMessage(nil), mem.ChatLog...),
			memory.ChatMessage{Sender: memory.SenderAssistant, Message: "answer"},
			memory.ChatMessage{Sender: memory.SenderUser, Message: "second"},
		)
		appendDelta(mem, supplied)
		require.Len(t, mem.ChatLog, 3)
		assert.Equal(t, "second", mem.ChatLog[2].Message)
	})

	t.Run("single new user message appends", func(t *testing.T) {
		mem := memory.New("m")
		mem.ChatLog = []memory.ChatMessage{
			{Sender: memory.SenderUser, Message: "old"},
			{Sender: memory.SenderAssistant, Message: "old answer"},
		}
		appendDelta(mem, userTurn("new question"))
		require.Len(t, mem.ChatLog, 3)
		assert.Equal(t, "new question", mem.ChatLog[2].Message)
	})

	t.Run("duplicate trailing user message is not re-appended", func(t *testing.T) {
		mem := memory.New("m")
		mem.ChatLog = userTurn("same")
		appendDelta(mem, userTurn("same"))
		assert.Len(t, mem.ChatLog, 1)
	})

	t.Run("empty supplied log is a no-op", func(t *testing.T) {
		mem := memory.New("m")
		mem.ChatLog = userTurn("kept")
		appendDelta(mem, nil)
		assert.Len(t, mem.ChatLog, 1)
	})
}

func TestRun_SerializesTurnsPerMemory(t *testing.T) {
	store := newFakeStore()
	emitter := newFakeEmitter()

	var script []llm.MockReply
	for i := 0; i < 10; i++ {
		script = append(script, llm.MockReply{Text: fmt.Sprintf("answer %d", i)})
	}
	gen := llm.NewMockGenerator(script...)
	strategy := &fixedStrategy{name: "test", exec: &Execution{
		Prompt: llm.Prompt{History: []llm.Message{{Role: llm.RoleUser, Text: "q"}}},
		Cost:   0.01,
	}}

	rt := newTestRuntime(strategy, store, emitter, gen)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rt.Run(ctx, TurnRequest{
				MemoryID: "shared",
				ChatLog:  userTurn(fmt.Sprintf("question %d", i)),
			}, ModeCaptured)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// No lost updates: every turn's cost landed.
	saved, err := store.Load(ctx, "shared")
	require.NoError(t, err)
	assert.Greater(t, saved.CumulativeCost, 0.09)
}
