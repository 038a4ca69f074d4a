package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// SessionSummary is the public view of a session. Presses and names stay on
// the websocket, where only the admin receives them.
type SessionSummary struct {
	SessionCode string       `json:"sessionCode"`
	Players     int          `json:"players"`
	Timer       buzzer.Timer `json:"timer"`
	Rounds      int          `json:"rounds"`
	Closed      bool         `json:"closed"`
}

// StateHandler answers lookups for live sessions, so a client can check a
// code before joining.
type StateHandler struct {
	registry *buzzer.Registry
}

// NewStateHandler creates a new state handler
func NewStateHandler(registry *buzzer.Registry) *StateHandler {
	return &StateHandler{registry: registry}
}

// HandleGetSession handles GET /sessions/{code}
func (h *StateHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		http.Error(w, "session code is required", http.StatusBadRequest)
		return
	}

	view, err := h.registry.Snapshot(code)
	if err != nil {
		if errors.Is(err, buzzer.ErrSessionNotFound) || errors.Is(err, buzzer.ErrSessionClosed) {
			http.Error(w, buzzer.ErrSessionNotFound.Error(), http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("session_code", code).Msg("failed to get session state")
		http.Error(w, "failed to get session state", http.StatusInternalServerError)
		return
	}

	summary := SessionSummary{
		SessionCode: view.Code,
		Players:     len(view.Players),
		Timer:       view.Timer,
		Rounds:      len(view.History),
		Closed:      view.Closed,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(summary); err != nil {
		log.Error().Err(err).Msg("failed to encode session state response")
	}
}

// RegisterStateRoutes registers state-related HTTP routes
func (h *StateHandler) RegisterStateRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sessions/{code}", h.HandleGetSession)
}
