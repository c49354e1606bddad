// ABOUTME: Ledger types and interface for turn lifecycle and usage accounting
// ABOUTME: Every turn leaves an audit row regardless of how it ended

package ledger

import (
	"context"
	"time"
)

// Turn statuses as stored in the ledger.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusErrored   = "errored"
)

// TurnRecord is the audit row for one bot turn.
type TurnRecord struct {
	ID          string
	MemoryID    string
	Bot         string // "grounded", "research", "policy"
	Status      string
	Cost        float64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// TokenUsage records LLM token consumption for one turn.
type TokenUsage struct {
	ID               string
	TurnID           string
	PromptTokens     int32
	CompletionTokens int32
	Cost             float64
	CreatedAt        time.Time
}

// UsageStats is an aggregate over the ledger for reporting.
type UsageStats struct {
	TotalTurns            int64   `json:"total_turns"`
	CompletedTurns        int64   `json:"completed_turns"`
	ErroredTurns          int64   `json:"errored_turns"`
	TotalPromptTokens     int64   `json:"total_prompt_tokens"`
	TotalCompletionTokens int64   `json:"total_completion_tokens"`
	TotalCost             float64 `json:"total_cost"`
}

// Ledger persists turn lifecycle and usage records.
type Ledger interface {
	StartTurn(ctx context.Context, rec *TurnRecord) error
	FinishTurn(ctx context.Context, turnID, status string, cost float64) error
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetMemoryTurns(ctx context.Context, memoryID string) ([]*TurnRecord, error)
	GetUsageStats(ctx context.Context) (*UsageStats, error)
	Close() error
}
