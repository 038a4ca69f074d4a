package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the buzzer broker",
		Long: `Run the buzzer broker.

Participants connect with a websocket at /ws. /health, /stats, /time and
/info are served alongside it. Lifecycle records go to NATS JetStream and
Postgres when those are configured.

Example:
  buzzer serve --port 8080
  NATS_URL=nats://localhost:4222 buzzer serve --config buzzer.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, port)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port; overrides PORT and the config file")

	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, port string) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Server.Port = port
	}

	services, err := setupServices(ctx, cfg, clockwork.NewRealClock())
	if err != nil {
		return err
	}
	defer services.Close()

	server := setupServer(cfg, services)

	// Context for the background workers; cancelled after the listener stops
	svcCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The journal outlives svcCtx so Stop can flush what the gateway recorded
	if err := services.Journal.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start journal: %w", err)
	}

	gatewayDone := make(chan struct{})
	go func() {
		defer close(gatewayDone)
		if err := services.Gateway.Start(svcCtx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			cancel()
			<-gatewayDone
			services.Journal.Stop()
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop the gateway first so no new records reach the journal
	cancel()
	<-gatewayDone

	if err := services.Journal.Stop(); err != nil {
		log.Error().Err(err).Msg("journal shutdown failed")
	}

	log.Info().Msg("buzzer shutdown complete")
	return nil
}
