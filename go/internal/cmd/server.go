package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/buzzer/go/internal/config"
)

func setupServer(cfg config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedHeaders: []string{"*"},
	})

	// Websocket, stats and time routes
	services.Gateway.RegisterRoutes(mux)

	setupHealthCheck(mux, services)

	// Wrap with CORS
	handler := c.Handler(mux)

	return &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout: cfg.Server.ReadTimeout,
		// websocket connections are hijacked, so this only bounds plain requests
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	mux.Handle("/health/journal", services.JournalHealth())

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]any{
			"service": "buzzer",
			"gateway": services.Gateway.GetStats(),
			"journal": services.Journal.Stats(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(info); err != nil {
			log.Error().Err(err).Msg("failed to write info response")
		}
	})
}
