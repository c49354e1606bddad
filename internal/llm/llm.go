// ABOUTME: Generator interface and shared types for LLM completions
// ABOUTME: Pricing converts token usage into dollar cost from configured rates

package llm

import (
	"context"
)

// Message roles in a prompt history.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Message is one turn of prompt history.
type Message struct {
	Role string
	Text string
}

// Prompt is the full input to a generation: a system instruction plus
// alternating history, ending with the message to answer.
type Prompt struct {
	System  string
	History []Message
}

// Usage is the token consumption of one generation.
type Usage struct {
	PromptTokens     int32
	CompletionTokens int32
}

// Result is the final output of a generation, streamed or not.
type Result struct {
	Text  string
	Usage Usage
}

// Generator produces completions. Stream invokes emit for each text chunk
// as it arrives and still returns the accumulated result, so callers get
// usage accounting either way.
type Generator interface {
	Complete(ctx context.Context, p Prompt) (*Result, error)
	Stream(ctx context.Context, p Prompt, emit func(chunk string)) (*Result, error)
}

// Pricing holds per-1K-token rates for cost estimation.
type Pricing struct {
	PromptPer1K     float64
	CompletionPer1K float64
}

// Cost converts token usage to dollars.
func (p Pricing) Cost(u Usage) float64 {
	return float64(u.PromptTokens)/1000*p.PromptPer1K +
		float64(u.CompletionTokens)/1000*p.CompletionPer1K
}
