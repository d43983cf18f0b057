package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq" // also registers the PostgreSQL driver

	"github.com/pumpwatch/promatrix/internal/persistence"
)

// Config holds database connection configuration.
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
}

// DefaultConfig returns reasonable defaults for database connections.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		QueryTimeout:    30 * time.Second,
	}
}

// Store implements persistence.Store on PostgreSQL.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewStore opens a connection pool and verifies it with a ping.
func NewStore(config Config) (*Store, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	timeout := config.QueryTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Store{db: db, timeout: timeout}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// SaveRun persists a full run snapshot in one transaction. A failure on any
// statement rolls everything back: the store never holds a partially applied
// run.
func (s *Store) SaveRun(ctx context.Context, snap *persistence.RunSnapshot) error {
	// Transaction timeout scales with snapshot size.
	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(len(snap.Promoters)/500+2))
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range snap.Promoters {
		if err := upsertPromoter(ctx, tx, p); err != nil {
			return err
		}
	}
	for i := range snap.Links {
		if err := upsertLink(ctx, tx, &snap.Links[i]); err != nil {
			return err
		}
	}
	for i := range snap.Networks {
		if err := upsertNetwork(ctx, tx, &snap.Networks[i]); err != nil {
			return err
		}
	}
	for i := range snap.Alerts {
		if err := insertAlert(ctx, tx, &snap.Alerts[i]); err != nil {
			return err
		}
	}
	if err := insertRunReport(ctx, tx, &snap.Report); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run snapshot: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}
