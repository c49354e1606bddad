// ABOUTME: Shared per-turn execution skeleton run by every bot variant
// ABOUTME: Load memory, route, execute, emit or capture, persist, one terminal event

package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/scout-gateway/internal/ledger"
	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/session"
)

// Turn states, in the order a successful turn passes through them.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateRouting    State = "routing"
	StateExecuting  State = "executing"
	StateEmitting   State = "emitting"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateErrored    State = "errored"
)

// ExecMode selects where a turn's answer goes. It is fixed for the whole
// turn; nothing may flip it mid-flight.
type ExecMode int

const (
	// ModeStreaming pushes chunks to the client socket as they are produced.
	ModeStreaming ExecMode = iota
	// ModeCaptured accumulates the answer and returns it to the caller.
	// Used when a bot runs as a sub-step of the policy orchestrator.
	ModeCaptured
)

// TurnRequest is one turn of conversation as the controllers hand it over.
type TurnRequest struct {
	MemoryID string
	ClientID string
	ChatLog  []memory.ChatMessage
	Tunables ResearchTunables
}

// TurnResult is what a captured-mode caller gets back.
type TurnResult struct {
	MemoryID  string
	Answer    string
	Documents []memory.SourceDocument
	Cost      float64
}

// Bot runs one conversation turn. Both the single-strategy Runtime and
// the policy Orchestrator satisfy it, so controllers treat them alike.
type Bot interface {
	Name() string
	Run(ctx context.Context, req TurnRequest, mode ExecMode) (*TurnResult, error)
}

// Emitter delivers stream events to a client. Satisfied by session.Registry.
type Emitter interface {
	Send(clientID string, ev session.Event)
}

// Execution is what a strategy's Executing step produces: the prompt for
// the answer, the sources that back it, and any cost already incurred.
type Execution struct {
	Prompt    llm.Prompt
	Documents []memory.SourceDocument
	Cost      float64
}

// Strategy is the per-variant part of a turn. Route classifies with no
// side effects; Execute gathers context and builds the answer prompt.
type Strategy interface {
	Name() string
	Route(ctx context.Context, turn *Turn) (string, error)
	Execute(ctx context.Context, turn *Turn) (*Execution, error)
}

// Turn is the mutable per-turn context handed to a strategy.
type Turn struct {
	MemoryID string
	ClientID string
	Mode     ExecMode
	State    State
	Memory   *memory.ConversationMemory
	Request  TurnRequest

	emitter Emitter
	logger  *slog.Logger

	cost  float64
	usage llm.Usage
}

// Question returns the user message this turn answers.
func (t *Turn) Question() string {
	return t.Memory.LastUserMessage()
}

// Notify reports progress. Streaming turns forward it to the client as an
// agentUpdate; captured turns only log it, so sub-bot traffic never leaks
// to the end user's socket.
func (t *Turn) Notify(message string) {
	t.logger.Debug("agent update", "message", message)
	if t.Mode == ModeStreaming {
		t.emitter.Send(t.ClientID, session.AgentUpdate(message))
	}
}

// Runtime drives the shared turn state machine around one Strategy.
type Runtime struct {
	strategy Strategy
	store    memory.Store
	locks    *memory.KeyedMutex
	emitter  Emitter
	gen      llm.Generator
	pricing  llm.Pricing
	audit    ledger.Ledger
	timeout  time.Duration
	logger   *slog.Logger
}

// RuntimeConfig wires a Runtime. Audit may be nil; Timeout of zero means
// no per-turn bound beyond the caller's context.
type RuntimeConfig struct {
	Strategy Strategy
	Store    memory.Store
	Locks    *memory.KeyedMutex
	Emitter  Emitter
	Gen      llm.Generator
	Pricing  llm.Pricing
	Audit    ledger.Ledger
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewRuntime creates a turn runtime for a strategy.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{
		strategy: cfg.Strategy,
		store:    cfg.Store,
		locks:    cfg.Locks,
		emitter:  cfg.Emitter,
		gen:      cfg.Gen,
		pricing:  cfg.Pricing,
		audit:    cfg.Audit,
		timeout:  cfg.Timeout,
		logger:   logger.With("bot", cfg.Strategy.Name()),
	}
}

// Name returns the strategy name.
func (r *Runtime) Name() string {
	return r.strategy.Name()
}

// Run executes one full turn. A streaming turn always ends with exactly
// one terminal end or error event; a captured turn returns the answer.
// Errors during execution still persist whatever partial state exists.
func (r *Runtime) Run(ctx context.Context, req TurnRequest, mode ExecMode) (*TurnResult, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	memoryID := req.MemoryID
	if memoryID == "" {
		memoryID = uuid.New().String()
	}

	// Turns on the same conversation serialize; overlapping saves must
	// not race.
	r.locks.Lock(memoryID)
	defer r.locks.Unlock(memoryID)

	turn := &Turn{
		MemoryID: memoryID,
		ClientID: req.ClientID,
		Mode:     mode,
		State:    StateIdle,
		Request:  req,
		emitter:  r.emitter,
		logger:   r.logger.With("memory_id", memoryID),
	}

	turnID := r.startAudit(ctx, turn)

	result, err := r.runStates(ctx, turn)
	if err != nil {
		r.finishAudit(ctx, turnID, ledger.StatusErrored, turn)
		r.terminate(turn, err)
		return nil, err
	}

	r.finishAudit(ctx, turnID, ledger.StatusCompleted, turn)
	r.terminate(turn, nil)
	return result, nil
}

func (r *Runtime) runStates(ctx context.Context, turn *Turn) (*TurnResult, error) {
	// Loading
	r.transition(turn, StateLoading)
	if err := r.load(ctx, turn); err != nil {
		return nil, err
	}

	// Routing: pure classification, no side effects.
	r.transition(turn, StateRouting)
	route, err := r.strategy.Route(ctx, turn)
	if err != nil {
		r.persistPartial(ctx, turn)
		return nil, fmt.Errorf("routing: %w", err)
	}
	turn.logger.Debug("routed", "route", route)

	// Executing
	r.transition(turn, StateExecuting)
	exec, err := r.strategy.Execute(ctx, turn)
	if err != nil {
		r.persistPartial(ctx, turn)
		return nil, fmt.Errorf("executing: %w", err)
	}

	// Emitting
	r.transition(turn, StateEmitting)
	answer, err := r.emit(ctx, turn, exec)
	if err != nil {
		r.persistPartial(ctx, turn)
		return nil, fmt.Errorf("emitting: %w", err)
	}

	// Persisting
	r.transition(turn, StatePersisting)
	turnCost := exec.Cost + r.pricing.Cost(answer.Usage)
	turn.cost = turnCost
	turn.usage = answer.Usage
	turn.Memory.ChatLog = append(turn.Memory.ChatLog, memory.ChatMessage{
		Sender:          memory.SenderAssistant,
		Message:         answer.Text,
		Timestamp:       time.Now().UTC(),
		SourceDocuments: exec.Documents,
	})
	turn.Memory.CumulativeCost += turnCost
	if err := r.store.Save(ctx, turn.MemoryID, turn.Memory); err != nil {
		return nil, fmt.Errorf("persisting: %w", err)
	}

	r.transition(turn, StateCompleted)
	return &TurnResult{
		MemoryID:  turn.MemoryID,
		Answer:    answer.Text,
		Documents: exec.Documents,
		Cost:      turnCost,
	}, nil
}

func (r *Runtime) load(ctx context.Context, turn *Turn) error {
	mem, err := r.store.Load(ctx, turn.MemoryID)
	if err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			return fmt.Errorf("loading memory: %w", err)
		}
		mem = memory.New(turn.MemoryID)
	}
	appendDelta(mem, turn.Request.ChatLog)
	turn.Memory = mem
	return nil
}

// appendDelta merges the caller-supplied chat log into the loaded memory.
// Browser clients resend the whole log each turn, so a longer supplied
// log contributes its tail. A shorter one (the orchestrator sends only
// the new question to its sub-bots) contributes its final user message
// unless it is already the last entry.
func appendDelta(mem *memory.ConversationMemory, supplied []memory.ChatMessage) {
	if len(supplied) > len(mem.ChatLog) {
		mem.ChatLog = append(mem.ChatLog, supplied[len(mem.ChatLog):]...)
		return
	}
	if len(supplied) == 0 {
		return
	}
	last := supplied[len(supplied)-1]
	if last.Sender != memory.SenderUser {
		return
	}
	if n := len(mem.ChatLog); n > 0 {
		prev := mem.ChatLog[n-1]
		if prev.Sender == memory.SenderUser && prev.Message == last.Message {
			return
		}
	}
	mem.ChatLog = append(mem.ChatLog, last)
}

func (r *Runtime) emit(ctx context.Context, turn *Turn, exec *Execution) (*llm.Result, error) {
	if turn.Mode == ModeCaptured {
		return r.gen.Complete(ctx, exec.Prompt)
	}

	if len(exec.Documents) > 0 {
		r.emitter.Send(turn.ClientID, session.SourceDocumentsEvent(exec.Documents))
	}
	return r.gen.Stream(ctx, exec.Prompt, func(chunk string) {
		r.emitter.Send(turn.ClientID, session.StreamChunk(chunk))
	})
}

// persistPartial saves whatever state an errored turn accumulated. The
// failure that got us here is the one reported; a save failure on top of
// it is only logged.
func (r *Runtime) persistPartial(ctx context.Context, turn *Turn) {
	r.transition(turn, StateErrored)
	if turn.Memory == nil {
		return
	}
	if err := r.store.Save(ctx, turn.MemoryID, turn.Memory); err != nil {
		turn.logger.Error("failed to persist errored turn", "error", err)
	}
}

// terminate emits the single terminal event for a streaming turn.
func (r *Runtime) terminate(turn *Turn, err error) {
	if turn.Mode != ModeStreaming {
		return
	}
	if err != nil {
		r.emitter.Send(turn.ClientID, session.ErrorEvent(err.Error()))
		return
	}
	r.emitter.Send(turn.ClientID, session.EndEvent())
}

func (r *Runtime) transition(turn *Turn, next State) {
	turn.logger.Debug("state transition", "from", turn.State, "to", next)
	turn.State = next
}

func (r *Runtime) startAudit(ctx context.Context, turn *Turn) string {
	if r.audit == nil {
		return ""
	}
	turnID := uuid.New().String()
	err := r.audit.StartTurn(ctx, &ledger.TurnRecord{
		ID:        turnID,
		MemoryID:  turn.MemoryID,
		Bot:       r.strategy.Name(),
		CreatedAt: time.Now(),
	})
	if err != nil {
		turn.logger.Warn("failed to record turn start", "error", err)
		return ""
	}
	return turnID
}

func (r *Runtime) finishAudit(ctx context.Context, turnID, status string, turn *Turn) {
	if r.audit == nil || turnID == "" {
		return
	}
	if err := r.audit.FinishTurn(ctx, turnID, status, turn.cost); err != nil {
		turn.logger.Warn("failed to record turn finish", "error", err)
	}
	if status != ledger.StatusCompleted {
		return
	}
	err := r.audit.SaveUsage(ctx, &ledger.TokenUsage{
		ID:               uuid.New().String(),
		TurnID:           turnID,
		PromptTokens:     turn.usage.PromptTokens,
		CompletionTokens: turn.usage.CompletionTokens,
		Cost:             turn.cost,
		CreatedAt:        time.Now(),
	})
	if err != nil {
		turn.logger.Warn("failed to record token usage", "error", err)
	}
}
