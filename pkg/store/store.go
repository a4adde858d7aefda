// Package store is the PostgreSQL persistence layer. It replaces the
// teacher's generated ent client with hand-written pgx queries against the
// plain structs in pkg/models — there is no code generator in this build,
// so every query is explicit SQL.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DSN builds a libpq-style connection string from Config.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store wraps a pgx connection pool and exposes one repository per entity.
// Each repository is a thin method set over the shared pool; there is no
// per-repository state.
type Store struct {
	pool *pgxpool.Pool

	Sessions         *SessionStore
	StageExecutions  *StageExecutionStore
	Interactions     *InteractionStore
	Events           *EventStore
	Scores           *SessionScoreStore
	Chats            *ChatStore
}

// Open connects to PostgreSQL, applies pool settings and runs migrations.
func Open(ctx context.Context, cfg Config, migrationsFS MigrationsFS) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("opening pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := RunMigrations(cfg, migrationsFS); err != nil {
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{pool: pool}
	s.Sessions = &SessionStore{pool: pool}
	s.StageExecutions = &StageExecutionStore{pool: pool}
	s.Interactions = &InteractionStore{pool: pool}
	s.Events = &EventStore{pool: pool}
	s.Scores = &SessionScoreStore{pool: pool}
	s.Chats = &ChatStore{pool: pool}
	return s, nil
}

// Pool exposes the underlying pgx pool for components that need raw access
// (LISTEN/NOTIFY in pkg/eventbus, health checks).
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// NowMicros returns the current Unix time in microseconds, matching the
// microsecond-resolution timestamps used throughout pkg/models.
func NowMicros() int64 {
	return time.Now().UnixMicro()
}
