// Package bot implements the per-turn execution machinery behind every
// assistant variant.
//
// One Runtime drives the shared turn state machine (load memory, route,
// execute, emit or capture, persist, terminal event) around a Strategy
// that supplies the variant-specific context gathering: grounded-answer
// retrieval or live web research. The policy Orchestrator is not a
// Strategy; it composes two captured-mode runtimes and synthesizes their
// outputs into the single answer the client sees.
//
// Execution mode is passed into Run and never mutated afterwards.
// Captured mode exists so a bot invoked as an orchestrator sub-step
// returns its answer to the caller instead of leaking events onto the
// end user's socket.
package bot
