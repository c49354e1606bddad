// ABOUTME: WebSocket endpoint: accept, register with the session registry, block
// ABOUTME: The read loop only detects disconnects; clients never send turn data here

package gateway

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/2389/scout-gateway/internal/session"
)

// handleWebSocket upgrades the connection and registers the client. The
// client may reclaim a previous id via ?clientId=; otherwise one is
// generated and announced as the first event on the socket.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	clientID := g.registry.Register(session.WrapWebSocket(conn), r.URL.Query().Get("clientId"))
	defer g.registry.Unregister(clientID)

	// Block until the client goes away. All server-to-client traffic
	// flows through the registry; inbound frames are drained and dropped.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			g.logger.Debug("websocket closed", "client_id", clientID, "reason", err)
			return
		}
	}
}
