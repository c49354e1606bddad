// Package ledger records turn lifecycle and token usage in SQLite.
//
// Conversation state lives in the memory package; the ledger is the audit
// side. Every turn gets a row when it starts and a final status when it
// ends, whether it completed or errored, so cost reporting survives
// crashes of individual turns.
package ledger
