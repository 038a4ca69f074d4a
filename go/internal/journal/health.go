package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	DispatcherRunning bool      `json:"dispatcher_running"`
	Written           uint64    `json:"written"`
	Failed            uint64    `json:"failed"`
	Dropped           uint64    `json:"dropped"`
	LastWriteTime     time.Time `json:"last_write_time"`
	DatabaseConnected *bool     `json:"database_connected,omitempty"`
	NATSConnected     *bool     `json:"nats_connected,omitempty"`
	Errors            []string  `json:"errors"`
}

type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// Pinger is satisfied by pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// JournalHealthChecker reports whether lifecycle records can currently be
// delivered. Unconfigured sinks are left out of the report.
type JournalHealthChecker struct {
	dispatcher *Dispatcher
	db         Pinger
	nats       *NATSSink
}

func NewHealthChecker(dispatcher *Dispatcher, db Pinger, nats *NATSSink) *JournalHealthChecker {
	return &JournalHealthChecker{
		dispatcher: dispatcher,
		db:         db,
		nats:       nats,
	}
}

func (h *JournalHealthChecker) Check(ctx context.Context) HealthStatus {
	stats := h.dispatcher.Stats()
	status := HealthStatus{
		Healthy:           true,
		DispatcherRunning: h.dispatcher.Running(),
		Written:           stats["written"],
		Failed:            stats["failed"],
		Dropped:           stats["dropped"],
		LastWriteTime:     h.dispatcher.LastWrite(),
		Errors:            []string{},
	}

	if !status.DispatcherRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "dispatcher not running")
	}

	// Check database connection
	if h.db != nil {
		connected := true
		if err := h.db.Ping(ctx); err != nil {
			connected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
		status.DatabaseConnected = &connected
	}

	// Check NATS connection
	if h.nats != nil {
		connected := h.nats.Connected()
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
		status.NATSConnected = &connected
	}

	return status
}

// HTTP handler helper
func (h *JournalHealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to encode journal health response")
	}
}
