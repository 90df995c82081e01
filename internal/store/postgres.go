package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("store: run not found")
	ErrDuplicateRun = errors.New("store: run already saved")
)

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// Open opens a PostgreSQL pool for dsn.
func Open(dsn string, maxOpenConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Set connection pool settings
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

// Store persists search reports.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New wraps an open database.
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTables creates the necessary database tables
func (s *Store) CreateTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS probe_runs (
			id UUID PRIMARY KEY,
			target TEXT NOT NULL,
			success_pattern TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			stop_reason VARCHAR(32) NOT NULL,
			answer_rate DOUBLE PRECISION,
			answer_seq INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS probe_bursts (
			run_id UUID NOT NULL REFERENCES probe_runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			attempted_rate DOUBLE PRECISION NOT NULL,
			actual_rate DOUBLE PRECISION NOT NULL,
			success_percent DOUBLE PRECISION NOT NULL,
			median_latency_ms BIGINT NOT NULL,
			requests INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			elapsed_ms BIGINT NOT NULL,
			passed BOOLEAN NOT NULL,
			reason VARCHAR(32) NOT NULL,
			abandoned BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (run_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_probe_runs_started ON probe_runs(started_at DESC)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
