// Package postgres provides Postgres-backed persistence for jobs, companies,
// proxies, and the CAPTCHA audit log.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/bizregistry-scraper/internal/scraper"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the statement surface shared by the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Store implements the scraper job, company, proxy, and CAPTCHA stores on
// a single pool. Every update is a single guarded statement so per-record
// read-modify-write is atomic.
type Store struct {
	pool dbPool
}

// New connects a Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool dbPool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return persistenceErr("ping database", err)
	}
	return nil
}

// Migrate creates the tables the engine needs when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: apply schema: %w", scraper.ErrPersistence, err)
	}
	return nil
}

func persistenceErr(action string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", scraper.ErrPersistence, action, err)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

const schema = `
CREATE TABLE IF NOT EXISTS scraping_jobs (
	job_id         TEXT PRIMARY KEY,
	job_type       TEXT NOT NULL,
	user_id        TEXT,
	parameters     JSONB NOT NULL DEFAULT '{}'::jsonb,
	status         TEXT NOT NULL,
	progress       INTEGER NOT NULL DEFAULT 0,
	total_records  INTEGER NOT NULL DEFAULT 0,
	success_count  INTEGER NOT NULL DEFAULT 0,
	captcha_solved INTEGER NOT NULL DEFAULT 0,
	cost_tracking  DOUBLE PRECISION NOT NULL DEFAULT 0,
	sources_done   INTEGER NOT NULL DEFAULT 0,
	error_logs     TEXT[] NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ
);
ALTER TABLE scraping_jobs ADD COLUMN IF NOT EXISTS sources_done INTEGER NOT NULL DEFAULT 0;
CREATE INDEX IF NOT EXISTS scraping_jobs_status_idx ON scraping_jobs (status);

CREATE TABLE IF NOT EXISTS companies (
	job_id               TEXT NOT NULL,
	tax_code             TEXT NOT NULL,
	company_name         TEXT NOT NULL,
	legal_representative TEXT,
	address              TEXT,
	province             TEXT,
	district             TEXT,
	ward                 TEXT,
	industry_code        TEXT,
	industry_name        TEXT,
	charter_capital      TEXT,
	establishment_date   DATE,
	business_status      TEXT,
	phone                TEXT,
	email                TEXT,
	website              TEXT,
	source_website       TEXT NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (job_id, tax_code)
);

CREATE TABLE IF NOT EXISTS proxy_pool (
	proxy_id         TEXT PRIMARY KEY,
	proxy_url        TEXT NOT NULL,
	proxy_type       TEXT NOT NULL,
	country          TEXT,
	provider         TEXT,
	username         TEXT,
	password         TEXT,
	status           TEXT NOT NULL,
	response_time    BIGINT NOT NULL DEFAULT 0,
	success_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
	tests_total      INTEGER NOT NULL DEFAULT 0,
	tests_passed     INTEGER NOT NULL DEFAULT 0,
	cost_per_request DOUBLE PRECISION NOT NULL DEFAULT 0,
	last_checked     TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS captcha_tasks (
	task_id          TEXT PRIMARY KEY,
	captcha_type     TEXT NOT NULL,
	solver_service   TEXT NOT NULL,
	image_url        TEXT,
	site_key         TEXT,
	page_url         TEXT,
	provider_task_id TEXT,
	status           TEXT NOT NULL,
	solution         TEXT,
	cost             DOUBLE PRECISION NOT NULL DEFAULT 0,
	solve_time       BIGINT NOT NULL DEFAULT 0,
	success          BOOLEAN NOT NULL DEFAULT false,
	error_text       TEXT,
	job_id           TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS captcha_tasks_job_idx ON captcha_tasks (job_id);
`
