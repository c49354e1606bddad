// ABOUTME: Manages connected browser clients and delivers StreamEvents to them
// ABOUTME: One-to-one delivery keyed by client id; sends to dead clients fail silently

package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectedClients = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "scout_connected_clients",
	Help: "Number of currently registered WebSocket clients.",
})

// defaultSendTimeout bounds a single socket write. A stalled client must
// not stall the bot producing events for it.
const defaultSendTimeout = 5 * time.Second

// Conn is the write half of a client connection as the registry sees it.
// The registry owns the handle exclusively; bots only ever hold client ids.
type Conn interface {
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Registry maps opaque client ids to live connections.
// Strictly one-to-one: no broadcast.
type Registry struct {
	mu          sync.RWMutex
	clients     map[string]Conn
	logger      *slog.Logger
	sendTimeout time.Duration
}

// NewRegistry creates an empty Registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:     make(map[string]Conn),
		logger:      logger.With("component", "session-registry"),
		sendTimeout: defaultSendTimeout,
	}
}

// Register binds a connection under the given id, generating one when empty,
// and immediately announces the id to the client. Returns the client id.
func (r *Registry) Register(conn Conn, id string) string {
	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	if old, exists := r.clients[id]; exists {
		// A reconnect under the same id replaces the stale connection.
		_ = old.Close()
	}
	r.clients[id] = conn
	total := len(r.clients)
	r.mu.Unlock()

	connectedClients.Set(float64(total))
	r.logger.Info("client connected", "client_id", id, "total_clients", total)

	r.Send(id, ClientIDEvent(id))
	return id
}

// Unregister removes a client and closes its connection.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	conn, exists := r.clients[id]
	if exists {
		delete(r.clients, id)
	}
	total := len(r.clients)
	r.mu.Unlock()

	if !exists {
		return
	}
	_ = conn.Close()
	connectedClients.Set(float64(total))
	r.logger.Info("client disconnected", "client_id", id, "total_clients", total)
}

// Send delivers an event to the client bound to id. Delivery failures are
// logged and swallowed: a client that disconnected mid-turn must never
// crash the bot still producing events for it.
func (r *Registry) Send(id string, ev Event) {
	r.mu.RLock()
	conn, ok := r.clients[id]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("send to unknown client", "client_id", id, "event", ev.Type)
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error("failed to marshal event", "client_id", id, "event", ev.Type, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.sendTimeout)
	defer cancel()

	if err := conn.Write(ctx, data); err != nil {
		r.logger.Warn("send to client failed", "client_id", id, "event", ev.Type, "error", err)
	}
}

// Connected reports whether a client is currently registered under id.
func (r *Registry) Connected(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[id]
	return ok
}

// Close drops all clients and closes their connections.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, conn := range r.clients {
		_ = conn.Close()
		delete(r.clients, id)
	}
	connectedClients.Set(0)
	r.logger.Debug("registry closed")
}

// wsConn adapts a coder/websocket connection to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

// WrapWebSocket wraps a websocket connection for registration.
func WrapWebSocket(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) Write(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close() error {
	return w.c.Close(websocket.StatusNormalClosure, "unregistered")
}
