// Package llm wraps the Gemini SDK behind a small Generator interface.
//
// Bots depend only on Generator, so tests swap in MockGenerator and the
// rest of the system never touches the SDK directly. Stream delivers
// chunks through a callback but still returns the accumulated Result,
// which keeps cost accounting identical for streamed and captured runs.
package llm
