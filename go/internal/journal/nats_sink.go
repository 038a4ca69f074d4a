package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig holds configuration for the JetStream sink
type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string        // e.g., "buzzer.events"
	MaxAge        time.Duration // Stream retention, 0 keeps forever
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default JetStream sink configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		StreamName:    "BUZZER_EVENTS",
		SubjectPrefix: "buzzer.events",
		MaxAge:        7 * 24 * time.Hour,
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSink publishes entries to a JetStream stream, one subject per session
// and kind.
type NATSSink struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig
}

// NewNATSSink connects to NATS and makes sure the stream exists.
func NewNATSSink(ctx context.Context, config NATSConfig) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("buzzer-journal"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	s := &NATSSink{nc: nc, js: js, config: config}
	if err := s.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return s, nil
}

func (s *NATSSink) ensureStream(ctx context.Context) error {
	stream, err := s.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        s.config.StreamName,
		Description: "Buzzer session lifecycle",
		Subjects:    []string{s.config.SubjectPrefix + ".>"},
		Storage:     jetstream.FileStorage,
		MaxAge:      s.config.MaxAge,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		return err
	}

	log.Info().
		Str("stream", stream.CachedInfo().Config.Name).
		Str("subjects", s.config.SubjectPrefix+".>").
		Msg("JetStream stream ready")
	return nil
}

func (s *NATSSink) Name() string { return "nats" }

// Write publishes the entry. The entry id doubles as the JetStream message
// id, so a retried publish is deduplicated by the server.
func (s *NATSSink) Write(ctx context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	subject := Subject(s.config.SubjectPrefix, e)
	if _, err := s.js.Publish(ctx, subject, data, jetstream.WithMsgID(e.ID.String())); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	log.Debug().
		Str("subject", subject).
		Int("size", len(data)).
		Msg("journal entry published")
	return nil
}

// Connected reports whether the NATS connection is currently up.
func (s *NATSSink) Connected() bool {
	return s.nc.IsConnected()
}

// Close drains the NATS connection.
func (s *NATSSink) Close() error {
	return s.nc.Drain()
}

// Subject returns <prefix>.<code>.<kind> for an entry. Characters that have
// a meaning in NATS subjects are replaced in the session code.
func Subject(prefix string, e Entry) string {
	return fmt.Sprintf("%s.%s.%s", prefix, subjectToken(e.SessionCode), e.Kind)
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return subjectReplacer.Replace(s)
}
