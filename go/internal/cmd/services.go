package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/buzzer/go/internal/config"
	"github.com/mcdev12/buzzer/go/internal/gateway"
	"github.com/mcdev12/buzzer/go/internal/journal"
)

type Services struct {
	Gateway *gateway.Service
	Journal *journal.Dispatcher

	pool *pgxpool.Pool
	nats *journal.NATSSink
}

func setupServices(ctx context.Context, cfg config.Config, clock clockwork.Clock) (*Services, error) {
	// Wire up dependency chain
	// Sinks → Journal dispatcher → Session registry → Gateway
	services := &Services{}
	var sinks []journal.Sink

	if cfg.NATS.Enabled {
		sink, err := journal.NewNATSSink(ctx, cfg.NATSSettings())
		if err != nil {
			return nil, fmt.Errorf("failed to set up NATS journal: %w", err)
		}
		services.nats = sink
		sinks = append(sinks, sink)
	}

	if cfg.Database.Enabled {
		pool, err := setupDatabase(ctx, cfg)
		if err != nil {
			services.Close()
			return nil, err
		}
		services.pool = pool

		sink, err := journal.NewPostgresSink(ctx, pool)
		if err != nil {
			services.Close()
			return nil, fmt.Errorf("failed to set up Postgres journal: %w", err)
		}
		sinks = append(sinks, sink)
	}

	services.Journal = journal.NewDispatcher(cfg.JournalSettings(), clock, sinks...)
	services.Gateway = gateway.NewService(cfg.GatewaySettings(), services.Journal, clock)

	log.Info().
		Bool("nats", cfg.NATS.Enabled).
		Bool("postgres", cfg.Database.Enabled).
		Int64("default_delay_ms", cfg.Session.DefaultDelayMs).
		Msg("services ready")

	return services, nil
}

func setupDatabase(ctx context.Context, cfg config.Config) (*pgxpool.Pool, error) {
	pool, err := cfg.Database.Connect(ctx)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", cfg.Database.Host).
		Str("database", cfg.Database.Database).
		Msg("connected to database")
	return pool, nil
}

// JournalHealth reports on the dispatcher and whichever sinks are configured.
func (s *Services) JournalHealth() *journal.JournalHealthChecker {
	var db journal.Pinger
	if s.pool != nil {
		db = s.pool
	}
	return journal.NewHealthChecker(s.Journal, db, s.nats)
}

// Close releases external connections. The dispatcher must be stopped first.
func (s *Services) Close() {
	if s.nats != nil {
		if err := s.nats.Close(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
}
