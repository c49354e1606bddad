// ABOUTME: Core conversation-memory types and the Store interface
// ABOUTME: Defines ConversationMemory, ChatMessage and the not-found sentinel

package memory

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no memory exists for the requested id
var ErrNotFound = errors.New("memory not found")

// Sender values for ChatMessage. The original frontend distinguishes the
// streaming "bot" sender from the persisted "assistant" one.
const (
	SenderUser      = "user"
	SenderAssistant = "assistant"
	SenderSystem    = "system"
	SenderBot       = "bot"
)

// SourceDocument is a single attributed source for an answer.
type SourceDocument struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ChatMessage is one entry in a conversation's chat log.
type ChatMessage struct {
	Sender          string           `json:"sender"`
	Message         string           `json:"message"`
	Timestamp       time.Time        `json:"timestamp"`
	SourceDocuments []SourceDocument `json:"sourceDocuments,omitempty"`
}

// ConversationMemory is the durable record of one conversation, keyed by
// an opaque memory id. The chat log is append-only within a turn and
// replaced wholesale by the caller-supplied prefix at the start of each turn.
type ConversationMemory struct {
	MemoryID       string            `json:"memoryId"`
	ChatLog        []ChatMessage     `json:"chatLog"`
	CumulativeCost float64           `json:"cumulativeCost"`
	AgentMetadata  map[string]string `json:"agentMetadata,omitempty"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// New returns an empty memory for the given id.
func New(memoryID string) *ConversationMemory {
	return &ConversationMemory{
		MemoryID:      memoryID,
		ChatLog:       []ChatMessage{},
		AgentMetadata: map[string]string{},
	}
}

// LastUserMessage returns the text of the most recent user message, or "".
func (m *ConversationMemory) LastUserMessage() string {
	for i := len(m.ChatLog) - 1; i >= 0; i-- {
		if m.ChatLog[i].Sender == SenderUser {
			return m.ChatLog[i].Message
		}
	}
	return ""
}

// Store defines the interface for conversation-memory persistence.
// Save is a full overwrite, never a partial merge; callers merge first.
type Store interface {
	Load(ctx context.Context, memoryID string) (*ConversationMemory, error)
	Save(ctx context.Context, memoryID string, m *ConversationMemory) error
	Close() error
}
