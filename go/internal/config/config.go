// Package config loads broker settings from defaults, an optional YAML file
// and the environment, in that order.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/buzzer/go/internal/buzzer"
	"github.com/mcdev12/buzzer/go/internal/dbconfig"
	"github.com/mcdev12/buzzer/go/internal/gateway"
	"github.com/mcdev12/buzzer/go/internal/journal"
)

// EnvConfigPath names the variable consulted when no --config flag is given.
const EnvConfigPath = "BUZZER_CONFIG"

type Config struct {
	LogLevel   string           `yaml:"log_level"`
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Connection ConnectionConfig `yaml:"connection"`
	NATS       NATSConfig       `yaml:"nats"`
	Database   dbconfig.Config  `yaml:"database"`
	Journal    JournalConfig    `yaml:"journal"`
}

type ServerConfig struct {
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type SessionConfig struct {
	DefaultDelayMs int64 `yaml:"default_delay_ms"`
	CodeLength     int   `yaml:"code_length"`
}

type ConnectionConfig struct {
	PingInterval    time.Duration `yaml:"ping_interval"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	SendBuffer      int           `yaml:"send_buffer"`
	BroadcastBuffer int           `yaml:"broadcast_buffer"`
}

type NATSConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	StreamName    string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	MaxAge        time.Duration `yaml:"max_age"`
}

type JournalConfig struct {
	Buffer     int           `yaml:"buffer"`
	MaxRetries int           `yaml:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Default returns the built-in settings.
func Default() Config {
	session := buzzer.DefaultConfig()
	conn := gateway.DefaultConnectionConfig()
	nats := journal.DefaultNATSConfig()
	jc := journal.DefaultConfig()

	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            "8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Session: SessionConfig{
			DefaultDelayMs: session.DefaultDelay.Milliseconds(),
			CodeLength:     session.CodeLength,
		},
		Connection: ConnectionConfig{
			PingInterval:    conn.PingInterval,
			ReadTimeout:     conn.ReadTimeout,
			WriteTimeout:    conn.WriteTimeout,
			MaxMessageSize:  conn.MaxMessageSize,
			SendBuffer:      conn.SendBuffer,
			BroadcastBuffer: conn.BroadcastBuffer,
		},
		NATS: NATSConfig{
			URL:           nats.URL,
			StreamName:    nats.StreamName,
			SubjectPrefix: nats.SubjectPrefix,
			MaxAge:        nats.MaxAge,
		},
		Database: dbconfig.Default(),
		Journal: JournalConfig{
			Buffer:     jc.Buffer,
			MaxRetries: jc.MaxRetries,
			RetryDelay: jc.RetryDelay,
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first without overriding the real environment. path falls back to
// $BUZZER_CONFIG; an empty path skips the YAML layer.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	if v := os.Getenv("BUZZER_ALLOWED_ORIGINS"); v != "" {
		c.Server.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("BUZZER_DEFAULT_DELAY_MS"); v != "" {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BUZZER_DEFAULT_DELAY_MS: %w", err)
		}
		c.Session.DefaultDelayMs = ms
	}
	if v := os.Getenv("BUZZER_CODE_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("BUZZER_CODE_LENGTH: %w", err)
		}
		c.Session.CodeLength = n
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}

	c.Database = c.Database.WithEnv()
	return nil
}

// Validate rejects settings the broker cannot run with.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Session.DefaultDelayMs < 0 {
		return fmt.Errorf("default delay must not be negative, got %d", c.Session.DefaultDelayMs)
	}
	if c.Session.CodeLength < 4 || c.Session.CodeLength > 16 {
		return fmt.Errorf("code length must be between 4 and 16, got %d", c.Session.CodeLength)
	}
	if c.NATS.Enabled && (c.NATS.StreamName == "" || c.NATS.SubjectPrefix == "") {
		return errors.New("nats stream and subject prefix are required when nats is enabled")
	}
	return nil
}

// SessionSettings converts to the registry configuration.
func (c Config) SessionSettings() buzzer.Config {
	return buzzer.Config{
		DefaultDelay: time.Duration(c.Session.DefaultDelayMs) * time.Millisecond,
		CodeLength:   c.Session.CodeLength,
	}
}

// GatewaySettings converts to the gateway configuration. Websocket origins
// follow the CORS allow list.
func (c Config) GatewaySettings() gateway.Config {
	conn := gateway.DefaultConnectionConfig()
	conn.PingInterval = c.Connection.PingInterval
	conn.ReadTimeout = c.Connection.ReadTimeout
	conn.WriteTimeout = c.Connection.WriteTimeout
	conn.MaxMessageSize = c.Connection.MaxMessageSize
	conn.SendBuffer = c.Connection.SendBuffer
	conn.BroadcastBuffer = c.Connection.BroadcastBuffer
	conn.CheckOrigin = c.Server.CheckOrigin

	return gateway.Config{
		ConnectionConfig: conn,
		SessionConfig:    c.SessionSettings(),
	}
}

// JournalSettings converts to the dispatcher configuration.
func (c Config) JournalSettings() journal.Config {
	return journal.Config{
		Buffer:     c.Journal.Buffer,
		MaxRetries: c.Journal.MaxRetries,
		RetryDelay: c.Journal.RetryDelay,
	}
}

// NATSSettings converts to the JetStream sink configuration.
func (c Config) NATSSettings() journal.NATSConfig {
	nc := journal.DefaultNATSConfig()
	nc.URL = c.NATS.URL
	nc.StreamName = c.NATS.StreamName
	nc.SubjectPrefix = c.NATS.SubjectPrefix
	nc.MaxAge = c.NATS.MaxAge
	return nc
}

// CheckOrigin allows requests without an Origin header and those whose
// origin is on the allow list; "*" allows everything.
func (s ServerConfig) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
