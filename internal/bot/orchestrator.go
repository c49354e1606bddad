// ABOUTME: Policy orchestrator sequencing grounded and live-research sub-turns
// ABOUTME: Sub-bots run captured; only the synthesized answer reaches the client

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

// AgentMetadata keys under which the orchestrator remembers its sub-bots'
// conversation ids. Sub-memories persist separately under those ids; the
// orchestrator's own memory holds only the user-facing exchange.
const (
	metaGroundedMemoryID = "groundedMemoryId"
	metaResearchMemoryID = "researchMemoryId"
)

const synthesisSystemPrompt = `You are a policy research assistant. Combine the internal grounded context and the
live web findings below into one unified answer to the user's question. Compose a single coherent response;
do not present the two sources as separate answers. Where they disagree, say so.`

// Orchestrator composes the grounded and research bots into one turn:
// both run in captured mode, their outputs feed a single synthesis, and
// only the synthesized answer streams to the client.
type Orchestrator struct {
	grounded   Bot
	research   Bot
	store      memory.Store
	locks      *memory.KeyedMutex
	emitter    Emitter
	gen        llm.Generator
	pricing    llm.Pricing
	audit      ledger.Ledger
	subTimeout time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// OrchestratorConfig wires an Orchestrator. SubTimeout bounds each
// sub-bot call; Timeout bounds the whole turn.
type OrchestratorConfig struct {
	Grounded   Bot
	Research   Bot
	Store      memory.Store
	Locks      *memory.KeyedMutex
	Emitter    Emitter
	Gen        llm.Generator
	Pricing    llm.Pricing
	Audit      ledger.Ledger
	SubTimeout time.Duration
	Timeout    time.Duration
	Logger     *slog.Logger
}

// NewOrchestrator creates the policy orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	subTimeout := cfg.SubTimeout
	if subTimeout <= 0 {
		subTimeout = 90 * time.Second
	}
	return &Orchestrator{
		grounded:   cfg.Grounded,
		research:   cfg.Research,
		store:      cfg.Store,
		locks:      cfg.Locks,
		emitter:    cfg.Emitter,
		gen:        cfg.Gen,
		pricing:    cfg.Pricing,
		audit:      cfg.Audit,
		subTimeout: subTimeout,
		timeout:    cfg.Timeout,
		logger:     logger.With("bot", "policy"),
	}
}

// Name identifies the orchestrator in logs and audit rows.
func (o *Orchestrator) Name() string { return "policy" }

// Run executes one orchestrated turn. Sub-bot failures degrade that
// step's contribution; a synthesis failure is fatal to the turn. The
// persisted cost sums both sub-calls plus the synthesis itself.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, mode ExecMode) (*TurnResult, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	memoryID := req.MemoryID
	if memoryID == "" {
		memoryID = uuid.New().String()
	}
	o.locks.Lock(memoryID)
	defer o.locks.Unlock(memoryID)

	logger := o.logger.With("memory_id", memoryID)
	turnID := o.startAudit(ctx, memoryID, logger)

	result, err := o.run(ctx, memoryID, req, mode, logger)
	if err != nil {
		o.finishAudit(ctx, turnID, ledger.StatusErrored, 0, logger)
		if mode == ModeStreaming {
			o.emitter.Send(req.ClientID, session.ErrorEvent(err.Error()))
		}
		return nil, err
	}

	o.finishAudit(ctx, turnID, ledger.StatusCompleted, result.Cost, logger)
	if mode == ModeStreaming {
		o.emitter.Send(req.ClientID, session.EndEvent())
	}
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, memoryID string, req TurnRequest, mode ExecMode, logger *slog.Logger) (*TurnResult, error) {
	mem, err := o.store.Load(ctx, memoryID)
	if err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			return nil, fmt.Errorf("loading memory: %w", err)
		}
		mem = memory.New(memoryID)
	}
	appendDelta(mem, req.ChatLog)
	if mem.AgentMetadata == nil {
		mem.AgentMetadata = map[string]string{}
	}

	question := mem.LastUserMessage()
	if question == "" {
		return nil, fmt.Errorf("turn has no user message to answer")
	}

	// CallingGrounded: the sub-bot runs captured under its own memory id,
	// so its stream traffic and history never touch this client's socket.
	o.notify(req.ClientID, mode, session.AgentStart("consulting grounded knowledge"))
	grounded := o.runSub(ctx, o.grounded, TurnRequest{
		MemoryID: mem.AgentMetadata[metaGroundedMemoryID],
		ChatLog:  []memory.ChatMessage{userMessage(question)},
	}, logger)
	if grounded != nil {
		mem.AgentMetadata[metaGroundedMemoryID] = grounded.MemoryID
	}
	o.notify(req.ClientID, mode, session.AgentCompleted("grounded knowledge consulted"))

	// CallingLiveResearch: the grounded answer rides along as background
	// so the research bot digs where the grounded context ran out.
	o.notify(req.ClientID, mode, session.AgentStart("running live web research"))
	researchQuestion := question
	if grounded != nil && grounded.Answer != "" {
		researchQuestion = fmt.Sprintf("Background from internal sources:\n%s\n\nOriginal question: %s", grounded.Answer, question)
	}
	research := o.runSub(ctx, o.research, TurnRequest{
		MemoryID: mem.AgentMetadata[metaResearchMemoryID],
		ChatLog:  []memory.ChatMessage{userMessage(researchQuestion)},
		Tunables: req.Tunables,
	}, logger)
	if research != nil {
		mem.AgentMetadata[metaResearchMemoryID] = research.MemoryID
	}
	o.notify(req.ClientID, mode, session.AgentCompleted("live web research finished"))

	if grounded == nil && research == nil {
		// Both degraded away; synthesis would have nothing to work with.
		o.persistPartial(ctx, memoryID, mem, logger)
		return nil, fmt.Errorf("both sub-bots failed, nothing to synthesize")
	}

	// Synthesizing + StreamingFinal: one composition over both results.
	// This stage is the only one the end user sees.
	o.notify(req.ClientID, mode, session.AgentUpdate("synthesizing final answer"))
	docs := mergeDocuments(grounded, research)
	prompt := o.synthesisPrompt(mem, question, grounded, research)

	var answer *llm.Result
	if mode == ModeStreaming {
		if len(docs) > 0 {
			o.emitter.Send(req.ClientID, session.SourceDocumentsEvent(docs))
		}
		answer, err = o.gen.Stream(ctx, prompt, func(chunk string) {
			o.emitter.Send(req.ClientID, session.StreamChunk(chunk))
		})
	} else {
		answer, err = o.gen.Complete(ctx, prompt)
	}
	if err != nil {
		o.persistPartial(ctx, memoryID, mem, logger)
		return nil, fmt.Errorf("synthesis: %w", err)
	}

	// Persisting: user-facing exchange only, with costs from both
	// sub-calls summed into this turn's total.
	turnCost := o.pricing.Cost(answer.Usage) + subCost(grounded) + subCost(research)
	mem.ChatLog = append(mem.ChatLog, memory.ChatMessage{
		Sender:          memory.SenderAssistant,
		Message:         answer.Text,
		Timestamp:       time.Now().UTC(),
		SourceDocuments: docs,
	})
	mem.CumulativeCost += turnCost
	if err := o.store.Save(ctx, memoryID, mem); err != nil {
		return nil, fmt.Errorf("persisting: %w", err)
	}

	return &TurnResult{
		MemoryID:  memoryID,
		Answer:    answer.Text,
		Documents: docs,
		Cost:      turnCost,
	}, nil
}

// runSub executes one captured sub-turn with a bounded wait. A failure or
// timeout degrades to nil; the orchestrator proceeds with what it has.
func (o *Orchestrator) runSub(ctx context.Context, b Bot, req TurnRequest, logger *slog.Logger) *TurnResult {
	subCtx, cancel := context.WithTimeout(ctx, o.subTimeout)
	defer cancel()

	result, err := b.Run(subCtx, req, ModeCaptured)
	if err != nil {
		logger.Warn("sub-bot degraded", "sub_bot", b.Name(), "error", err)
		return nil
	}
	return result
}

func (o *Orchestrator) synthesisPrompt(mem *memory.ConversationMemory, question string, grounded, research *TurnResult) llm.Prompt {
	groundedText := "(the grounded knowledge step produced no result)"
	if grounded != nil && grounded.Answer != "" {
		groundedText = grounded.Answer
	}
	researchText := "(the live research step produced no result)"
	if research != nil && research.Answer != "" {
		researchText = research.Answer
	}

	final := fmt.Sprintf("Grounded context:\n%s\n\nLive web findings:\n%s\n\nQuestion: %s",
		groundedText, researchText, question)

	return llm.Prompt{
		System:  synthesisSystemPrompt,
		History: promptHistory(mem.ChatLog, final),
	}
}

func (o *Orchestrator) notify(clientID string, mode ExecMode, ev session.Event) {
	if mode == ModeStreaming {
		o.emitter.Send(clientID, ev)
	}
}

func (o *Orchestrator) persistPartial(ctx context.Context, memoryID string, mem *memory.ConversationMemory, logger *slog.Logger) {
	if err := o.store.Save(ctx, memoryID, mem); err != nil {
		logger.Error("failed to persist errored turn", "error", err)
	}
}

func (o *Orchestrator) startAudit(ctx context.Context, memoryID string, logger *slog.Logger) string {
	if o.audit == nil {
		return ""
	}
	turnID := uuid.New().String()
	err := o.audit.StartTurn(ctx, &ledger.TurnRecord{
		ID:        turnID,
		MemoryID:  memoryID,
		Bot:       o.Name(),
		CreatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("failed to record turn start", "error", err)
		return ""
	}
	return turnID
}

func (o *Orchestrator) finishAudit(ctx context.Context, turnID, status string, cost float64, logger *slog.Logger) {
	if o.audit == nil || turnID == "" {
		return
	}
	if err := o.audit.FinishTurn(ctx, turnID, status, cost); err != nil {
		logger.Warn("failed to record turn finish", "error", err)
	}
}

func subCost(r *TurnResult) float64 {
	if r == nil {
		return 0
	}
	return r.Cost
}

func mergeDocuments(results ...*TurnResult) []memory.SourceDocument {
	seen := make(map[string]bool)
	var docs []memory.SourceDocument
	for _, r := range results {
		if r == nil {
			continue
		}
		for _, d := range r.Documents {
			if seen[d.URL] {
				continue
			}
			seen[d.URL] = true
			docs = append(docs, d)
		}
	}
	return docs
}

func userMessage(text string) memory.ChatMessage {
	return memory.ChatMessage{
		Sender:    memory.SenderUser,
		Message:   text,
		Timestamp: time.Now().UTC(),
	}
}
