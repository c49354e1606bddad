// ABOUTME: HTTP turn controllers: PUT starts a streaming turn, GET reads memory
// ABOUTME: Thin boundary translating requests into bot runs and store lookups

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/2389/scout-gateway/internal/bot"
	"github.com/2389/scout-gateway/internal/memory"
)

// TurnRequestBody is the JSON request body for PUT /api/bots/{bot}.
type TurnRequestBody struct {
	ChatLog    []memory.ChatMessage `json:"chatLog"`
	WSClientID string               `json:"wsClientId"`
	MemoryID   string               `json:"memoryId,omitempty"`

	// Live-research tunables; zero values take the server defaults.
	NumberOfSelectQueries       int     `json:"numberOfSelectQueries,omitempty"`
	PercentOfTopQueriesToSearch float64 `json:"percentOfTopQueriesToSearch,omitempty"`
	PercentOfTopResultsToScan   float64 `json:"percentOfTopResultsToScan,omitempty"`
}

// TurnAckResponse is the immediate 200 body for PUT /api/bots/{bot}.
// The turn's output arrives later, only over the socket.
type TurnAckResponse struct {
	Status   string               `json:"status"`
	MemoryID string               `json:"memoryId,omitempty"`
	ChatLog  []memory.ChatMessage `json:"chatLog"`
	Message  string               `json:"message,omitempty"`
}

// MemoryResponse is the JSON response for GET /api/bots/{bot}/{memoryId}.
type MemoryResponse struct {
	ChatLog    []memory.ChatMessage `json:"chatLog"`
	TotalCosts float64              `json:"totalCosts"`
}

// handleTurn accepts a turn request and starts the turn asynchronously.
// A missing wsClientId short-circuits into a diagnostic acknowledgement
// with no bot execution and no memory created; the bypass exists for
// connectivity testing only.
func (g *Gateway) handleTurn(w http.ResponseWriter, r *http.Request) {
	botName := mux.Vars(r)["bot"]
	b, ok := g.bots[botName]
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "unknown bot: "+botName)
		return
	}

	var body TurnRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if body.WSClientID == "" {
		g.logger.Info("diagnostic turn request without wsClientId", "bot", botName)
		g.writeJSON(w, http.StatusOK, TurnAckResponse{
			Status:  "diagnostic",
			Message: "no wsClientId supplied; connectivity check acknowledged, no turn started",
		})
		return
	}

	// The ack carries whatever chat log is already persisted; the id is
	// assigned here when absent so the client can GET it later.
	memoryID := body.MemoryID
	if memoryID == "" {
		memoryID = uuid.New().String()
	}
	snapshot := []memory.ChatMessage{}
	if body.MemoryID != "" {
		if mem, err := g.store.Load(r.Context(), body.MemoryID); err == nil {
			snapshot = mem.ChatLog
		} else if !errors.Is(err, memory.ErrNotFound) {
			g.sendJSONError(w, http.StatusInternalServerError, "loading memory: "+err.Error())
			return
		}
	}

	req := bot.TurnRequest{
		MemoryID: memoryID,
		ClientID: body.WSClientID,
		ChatLog:  body.ChatLog,
		Tunables: bot.ResearchTunables{
			NumberOfSelectQueries:       body.NumberOfSelectQueries,
			PercentOfTopQueriesToSearch: body.PercentOfTopQueriesToSearch,
			PercentOfTopResultsToScan:   body.PercentOfTopResultsToScan,
		},
	}

	turnsStarted.WithLabelValues(botName).Inc()
	go func() {
		// Detached from the request context: the HTTP ack returns
		// immediately while the turn keeps running.
		if _, err := b.Run(context.Background(), req, bot.ModeStreaming); err != nil {
			turnsFailed.WithLabelValues(botName).Inc()
			g.logger.Error("turn failed", "bot", botName, "memory_id", memoryID, "error", err)
		}
	}()

	g.writeJSON(w, http.StatusOK, TurnAckResponse{
		Status:   "accepted",
		MemoryID: memoryID,
		ChatLog:  snapshot,
	})
}

// handleMemory returns the persisted chat log and cost for a memory id.
func (g *Gateway) handleMemory(w http.ResponseWriter, r *http.Request) {
	memoryID := mux.Vars(r)["memoryId"]

	mem, err := g.store.Load(r.Context(), memoryID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "memory not found")
			return
		}
		g.sendJSONError(w, http.StatusInternalServerError, "loading memory: "+err.Error())
		return
	}

	g.writeJSON(w, http.StatusOK, MemoryResponse{
		ChatLog:    mem.ChatLog,
		TotalCosts: mem.CumulativeCost,
	})
}

// handleUsageStats returns ledger aggregates across all turns.
func (g *Gateway) handleUsageStats(w http.ResponseWriter, r *http.Request) {
	if g.audit == nil {
		g.sendJSONError(w, http.StatusNotFound, "usage tracking disabled")
		return
	}
	stats, err := g.audit.GetUsageStats(r.Context())
	if err != nil {
		g.sendJSONError(w, http.StatusInternalServerError, "reading usage stats: "+err.Error())
		return
	}
	g.writeJSON(w, http.StatusOK, stats)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
