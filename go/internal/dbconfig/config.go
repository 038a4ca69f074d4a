package dbconfig

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds Postgres connection settings.
type Config struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"` // takes precedence over the discrete fields
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

// Default returns the local development settings, disabled.
func Default() Config {
	return Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "buzzer",
		SSLMode:  "disable",
		MaxConns: 4,
	}
}

// NewConfigFromEnv reads DB_* environment variables (with defaults).
func NewConfigFromEnv() Config {
	return Default().WithEnv()
}

// WithEnv overrides c with any DB_* variables that are set. Setting
// DATABASE_URL or DB_HOST enables the database unless DB_ENABLED says
// otherwise.
func (c Config) WithEnv() Config {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.URL = v
		c.Enabled = true
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
		c.Enabled = true
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	c.User = getEnv("DB_USER", c.User)
	c.Password = getEnv("DB_PASSWORD", c.Password)
	c.Database = getEnv("DB_NAME", c.Database)
	c.SSLMode = getEnv("DB_SSLMODE", c.SSLMode)
	if v := os.Getenv("DB_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Enabled = enabled
		}
	}
	return c
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.User), url.QueryEscape(c.Password), c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Connect opens a pool and checks that the server answers.
func (c Config) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(c.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	if c.MaxConns > 0 {
		poolCfg.MaxConns = c.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
