package gateway

import (
	"context"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
)

// Service is the buzzer gateway: websocket connections in front of the
// session registry.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	router            *Router
	registry          *buzzer.Registry
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	SessionConfig    buzzer.Config
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		SessionConfig:    buzzer.DefaultConfig(),
	}
}

// NewService wires a registry to a connection manager. A nil journal drops
// lifecycle records and a nil clock uses the wall clock.
func NewService(config Config, journal buzzer.Journal, clock clockwork.Clock) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	connectionManager := NewConnectionManager(config.ConnectionConfig, clock)
	registry := buzzer.NewRegistry(config.SessionConfig, connectionManager, journal, clock)
	router := NewRouter(registry, connectionManager)
	wsHandler := NewWebSocketHandler(connectionManager, registry)
	stateHandler := NewStateHandler(registry)

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         wsHandler,
		stateHandler:      stateHandler,
		router:            router,
		registry:          registry,
	}
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting buzzer gateway service")

	s.connectionManager.Start(ctx)

	log.Info().Msg("buzzer gateway service stopped")
	return nil
}

// RegisterRoutes registers the websocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("buzzer gateway routes registered")
}

// Registry exposes the session registry backing the gateway.
func (s *Service) Registry() *buzzer.Registry {
	return s.registry
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.connectionManager.GetConnectionStats()
	stats["active_sessions"] = s.registry.SessionCount()
	stats["service"] = "buzzer_gateway"
	stats["status"] = "running"
	return stats
}
