// Package storage opens the catalog backend named by the configured
// database URL and bounds every backend call with the configured timeout.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/analyzer/internal/catalog"
	"github.com/JonMunkholm/analyzer/internal/config"
	"github.com/JonMunkholm/analyzer/internal/country"
	"github.com/JonMunkholm/analyzer/internal/storage/postgres"
	"github.com/JonMunkholm/analyzer/internal/storage/sqlite"
)

// Store is an open backend plus the handle needed to release it.
type Store struct {
	catalog.Backend

	// Driver is "postgres" or "sqlite".
	Driver string

	ping    func(context.Context) error
	closeFn func()
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

// Close releases the pool or database handle.
func (s *Store) Close() {
	s.closeFn()
}

// Open connects to the database named by cfg.URL and migrates its schema.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	switch driver := config.Driver(cfg.URL); driver {
	case "postgres":
		return openPostgres(ctx, cfg)
	case "sqlite":
		return openSQLite(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported database url scheme: %q", schemeOf(cfg.URL))
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo, err := postgres.New(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to database", "driver", "postgres", "name", poolConfig.ConnConfig.Database)
	return &Store{
		Backend: WithTimeout(repo, cfg.OpTimeout),
		Driver:  "postgres",
		ping:    repo.Ping,
		closeFn: pool.Close,
	}, nil
}

func openSQLite(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	dsn := SQLitePath(cfg.URL)
	repo, err := sqlite.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	slog.Info("connected to database", "driver", "sqlite", "path", dsn)
	return &Store{
		Backend: WithTimeout(repo, cfg.OpTimeout),
		Driver:  "sqlite",
		ping:    repo.Ping,
		closeFn: func() {
			if err := repo.Close(); err != nil {
				slog.Warn("close sqlite database", "error", err)
			}
		},
	}, nil
}

// SQLitePath turns a sqlite:// URL into the DSN modernc.org/sqlite expects.
// file: URIs and ":memory:" pass through unchanged.
func SQLitePath(raw string) string {
	return strings.TrimPrefix(raw, "sqlite://")
}

func schemeOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return u.Scheme
	}
	return raw
}

// timeoutBackend bounds each call to the wrapped backend.
type timeoutBackend struct {
	inner   catalog.Backend
	timeout time.Duration
}

// WithTimeout wraps b so every call runs under a deadline of d.
// A non-positive d returns b unchanged.
func WithTimeout(b catalog.Backend, d time.Duration) catalog.Backend {
	if d <= 0 {
		return b
	}
	return &timeoutBackend{inner: b, timeout: d}
}

func (t *timeoutBackend) ReadAll(ctx context.Context) ([]country.Country, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.ReadAll(ctx)
}

func (t *timeoutBackend) Insert(ctx context.Context, c country.Country) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Insert(ctx, c)
}

func (t *timeoutBackend) Update(ctx context.Context, c country.Country) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Update(ctx, c)
}

func (t *timeoutBackend) Delete(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Delete(ctx, code)
}
