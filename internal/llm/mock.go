// ABOUTME: Scripted Generator for tests; returns canned results in order
// ABOUTME: Lives in the main package tree so bot tests can share it

package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockGenerator returns scripted results in order. Once the script is
// exhausted it fails, so tests catch unexpected extra calls.
type MockGenerator struct {
	mu      sync.Mutex
	script  []MockReply
	next    int
	Prompts []Prompt // every prompt received, in call order
}

// MockReply is one scripted response: either a result or an error.
type MockReply struct {
	Text  string
	Usage Usage
	Err   error
}

// NewMockGenerator creates a mock that replies with the given script.
func NewMockGenerator(script ...MockReply) *MockGenerator {
	return &MockGenerator{script: script}
}

func (m *MockGenerator) take(p Prompt) (MockReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Prompts = append(m.Prompts, p)
	if m.next >= len(m.script) {
		return MockReply{}, fmt.Errorf("mock generator: unexpected call %d", m.next+1)
	}
	reply := m.script[m.next]
	m.next++
	return reply, nil
}

// Complete returns the next scripted reply.
func (m *MockGenerator) Complete(ctx context.Context, p Prompt) (*Result, error) {
	reply, err := m.take(p)
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	return &Result{Text: reply.Text, Usage: reply.Usage}, nil
}

// Stream returns the next scripted reply, emitting it word by word so
// callers exercise their chunk handling.
func (m *MockGenerator) Stream(ctx context.Context, p Prompt, emit func(chunk string)) (*Result, error) {
	reply, err := m.take(p)
	if err != nil {
		return nil, err
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	words := strings.SplitAfter(reply.Text, " ")
	for _, w := range words {
		if w != "" {
			emit(w)
		}
	}
	return &Result{Text: reply.Text, Usage: reply.Usage}, nil
}

// Calls reports how many generations were requested.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}
