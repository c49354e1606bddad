// ABOUTME: StreamEvent types delivered to browser clients over the socket
// ABOUTME: Tagged JSON variants matching the frontend wire protocol

package session

import "github.com/2389/scout-gateway/internal/memory"

// Event type tags as they appear on the wire.
const (
	EventClientID        = "clientId"
	EventStream          = "stream"
	EventAgentStart      = "agentStart"
	EventAgentUpdate     = "agentUpdate"
	EventAgentCompleted  = "agentCompleted"
	EventSourceDocuments = "sourceDocuments"
	EventEnd             = "end"
	EventError           = "error"
)

// Event is one StreamEvent. Exactly the fields relevant to the tagged
// variant are populated; everything else stays omitted on the wire.
type Event struct {
	Type      string                  `json:"type"`
	Data      string                  `json:"data,omitempty"`
	Sender    string                  `json:"sender,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Documents []memory.SourceDocument `json:"documents,omitempty"`
}

// ClientIDEvent announces the id assigned to a freshly registered client.
func ClientIDEvent(id string) Event {
	return Event{Type: EventClientID, Data: id}
}

// StreamChunk carries one incremental piece of answer text.
func StreamChunk(text string) Event {
	return Event{Type: EventStream, Sender: memory.SenderBot, Message: text}
}

// AgentStart signals that a turn's execution phase has begun.
func AgentStart(message string) Event {
	return Event{Type: EventAgentStart, Message: message}
}

// AgentUpdate reports mid-turn progress.
func AgentUpdate(message string) Event {
	return Event{Type: EventAgentUpdate, Message: message}
}

// AgentCompleted signals that a turn's execution phase has finished.
func AgentCompleted(message string) Event {
	return Event{Type: EventAgentCompleted, Message: message}
}

// SourceDocumentsEvent attaches the sources backing the answer.
func SourceDocumentsEvent(docs []memory.SourceDocument) Event {
	return Event{Type: EventSourceDocuments, Documents: docs}
}

// EndEvent terminates a successful streaming turn.
func EndEvent() Event {
	return Event{Type: EventEnd}
}

// ErrorEvent terminates a failed streaming turn.
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Terminal reports whether the event ends a turn's stream.
func (e Event) Terminal() bool {
	return e.Type == EventEnd || e.Type == EventError
}
