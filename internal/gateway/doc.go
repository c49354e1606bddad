// Package gateway wires the whole server together and exposes its HTTP
// surface: the WebSocket endpoint that feeds the session registry, the
// turn controllers that start bot runs, the memory and usage read
// endpoints, and health/metrics.
//
// Turn controllers are deliberately thin. PUT validates, snapshots the
// already-persisted chat log, starts the turn in a goroutine detached
// from the request context, and acks immediately; everything the turn
// produces reaches the client over the socket, never the HTTP response.
package gateway
