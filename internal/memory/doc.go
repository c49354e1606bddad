// Package memory persists conversation state keyed by an opaque memory id.
//
// # Overview
//
// A ConversationMemory holds the chat log, cumulative cost accounting, and
// open agent metadata for one conversation. The Store contract is simple
// key/value: Load returns ErrNotFound for unknown ids, Save is always a
// full overwrite. Callers are responsible for merging before saving.
//
// # Serialization
//
// The design assumes at most one in-flight turn per memory id. KeyedMutex
// enforces that assumption: the bot runtime holds the id's lock across its
// whole load-execute-save cycle, so overlapping turns on one conversation
// queue up instead of silently discarding each other's saves.
//
// # Backend
//
// The production implementation is Pebble (one JSON value per id, written
// with pebble.Sync). Retention is an external concern; nothing here deletes.
package memory
