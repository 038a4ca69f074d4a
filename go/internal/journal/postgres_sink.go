package journal

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
)

// DB is the subset of pgxpool.Pool used by PostgresSink.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schema = `
CREATE TABLE IF NOT EXISTS buzzer_session_events (
    id           UUID PRIMARY KEY,
    session_code TEXT        NOT NULL,
    kind         TEXT        NOT NULL,
    occurred_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS buzzer_session_events_session_idx
    ON buzzer_session_events (session_code, occurred_at);

CREATE TABLE IF NOT EXISTS buzzer_rounds (
    id           UUID PRIMARY KEY REFERENCES buzzer_session_events (id),
    session_code TEXT        NOT NULL,
    winner       TEXT        NOT NULL,
    won_at       BIGINT      NOT NULL,
    ranking      JSONB       NOT NULL,
    committed_at TIMESTAMPTZ NOT NULL
);
`

const (
	insertEvent = `
INSERT INTO buzzer_session_events (id, session_code, kind, occurred_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO NOTHING`

	insertRound = `
INSERT INTO buzzer_rounds (id, session_code, winner, won_at, ranking, committed_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`
)

// PostgresSink archives every entry and every committed round. It is an
// audit trail; sessions are never restored from it.
type PostgresSink struct {
	db DB
}

// NewPostgresSink creates the tables if needed.
func NewPostgresSink(ctx context.Context, db DB) (*PostgresSink, error) {
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure journal schema: %w", err)
	}
	log.Info().Msg("journal tables ready")
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) Name() string { return "postgres" }

func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertEvent, e.ID, e.SessionCode, string(e.Kind), e.At); err != nil {
			return fmt.Errorf("insert session event: %w", err)
		}
		if e.Round == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, insertRound,
			e.ID, e.SessionCode, e.Round.Winner, e.Round.At, e.Round.Order, e.At,
		); err != nil {
			return fmt.Errorf("insert round: %w", err)
		}
		return nil
	})
}
