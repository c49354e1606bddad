// Package session tracks connected browser clients and delivers stream
// events to them over WebSocket.
//
// # Overview
//
// The Registry is the only component that holds connection handles. Bots
// address clients purely by the opaque client id handed out at connect
// time, and every delivery goes through Registry.Send.
//
// # Delivery semantics
//
// Send never returns an error. An unknown id, a closed socket, or a write
// timeout is logged and dropped: a client disconnecting mid-turn must not
// abort the turn that is still running for it. Events for one turn are
// written in the order they are produced; no ordering holds across clients.
//
// # Wire protocol
//
// Events are JSON objects tagged by "type": clientId on connect, then per
// turn zero or more stream / agentStart / agentUpdate / agentCompleted /
// sourceDocuments events followed by exactly one terminal end or error.
package session
