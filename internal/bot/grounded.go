// ABOUTME: Grounded-answer strategy backed by the grounding-search collaborator
// ABOUTME: Answers are constrained to retrieved snippets with source attribution

package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/scout-gateway/internal/llm"
	"github.com/2389/scout-gateway/internal/memory"
	"github.com/2389/scout-gateway/internal/search"
)

const groundedSystemPrompt = `You are a research assistant that answers strictly from the provided context snippets.
Cite only information that appears in the context. If the context does not cover the question, say so plainly instead of guessing.`

// GroundedStrategy retrieves context snippets for the user's question and
// composes an answer constrained to them.
type GroundedStrategy struct {
	grounder search.Grounder
}

// NewGroundedStrategy creates the grounded-answer strategy.
func NewGroundedStrategy(grounder search.Grounder) *GroundedStrategy {
	return &GroundedStrategy{grounder: grounder}
}

// Name identifies this strategy in logs and audit rows.
func (s *GroundedStrategy) Name() string { return "grounded" }

// Route is pure classification: every turn goes to the grounding search.
func (s *GroundedStrategy) Route(ctx context.Context, turn *Turn) (string, error) {
	if turn.Question() == "" {
		return "", fmt.Errorf("turn has no user message to answer")
	}
	return "grounding-search", nil
}

// Execute retrieves snippets and builds the answer prompt around them.
func (s *GroundedStrategy) Execute(ctx context.Context, turn *Turn) (*Execution, error) {
	question := turn.Question()
	turn.Notify("searching grounding index")

	snippets, err := s.grounder.Ground(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("grounding search: %w", err)
	}

	var docs []memory.SourceDocument
	var contextBlock strings.Builder
	for i, sn := range snippets {
		fmt.Fprintf(&contextBlock, "[%d] %s (%s)\n%s\n\n", i+1, sn.Title, sn.URL, sn.Content)
		docs = append(docs, memory.SourceDocument{Title: sn.Title, URL: sn.URL})
	}
	if len(snippets) == 0 {
		contextBlock.WriteString("(no context snippets were found)\n")
	}

	turn.Notify(fmt.Sprintf("found %d context snippets", len(snippets)))

	prompt := llm.Prompt{
		System:  groundedSystemPrompt,
		History: promptHistory(turn.Memory.ChatLog, fmt.Sprintf("Context:\n%s\nQuestion: %s", contextBlock.String(), question)),
	}

	return &Execution{Prompt: prompt, Documents: docs}, nil
}

// promptHistory converts the chat log into LLM history, replacing the
// final user message with the enriched question text.
func promptHistory(chatLog []memory.ChatMessage, finalUser string) []llm.Message {
	var history []llm.Message
	lastUser := -1
	for i, msg := range chatLog {
		if msg.Sender == memory.SenderUser {
			lastUser = i
		}
	}
	for i, msg := range chatLog {
		switch {
		case i == lastUser:
			history = append(history, llm.Message{Role: llm.RoleUser, Text: finalUser})
		case msg.Sender == memory.SenderUser:
			history = append(history, llm.Message{Role: llm.RoleUser, Text: msg.Message})
		default:
			history = append(history, llm.Message{Role: llm.RoleModel, Text: msg.Message})
		}
	}
	if lastUser == -1 {
		history = append(history, llm.Message{Role: llm.RoleUser, Text: finalUser})
	}
	return history
}
