package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// WebSocketHandler handles websocket upgrades and the small HTTP surface
// around them.
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	registry          *buzzer.Registry
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(cm *ConnectionManager, registry *buzzer.Registry) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		registry:          registry,
	}
}

// HandleConnection upgrades a participant connection. Sessions are chosen
// later by the frames the participant sends.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	if _, err := h.connectionManager.UpgradeConnection(w, r); err != nil {
		// the upgrader has already replied to the client
		log.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("failed to upgrade websocket connection")
		return
	}
}

// HandleConnectionStats returns statistics about sessions and connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	stats := h.connectionManager.GetConnectionStats()
	stats["active_sessions"] = h.registry.SessionCount()
	writeJSON(w, stats)
}

// HandleTime reports the broker clock. It is the HTTP twin of timeSync:now.
func (h *WebSocketHandler) HandleTime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, TimeReply{ServerTime: h.registry.Now()})
}

// RegisterRoutes registers websocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/stats", h.HandleConnectionStats)
	mux.HandleFunc("/time", h.HandleTime)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to write json response")
	}
}
