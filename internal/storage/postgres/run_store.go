// Package postgres provides Postgres-backed run history.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/lurk/internal/lurk"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const (
	defaultTable = "lurk_runs"
	defaultLimit = 50
)

// RunStoreConfig controls the Postgres connection pool used for run reports.
type RunStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore persists run reports into a single table.
type RunStore struct {
	pool  pool
	table string
}

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, lurk.Configf("history.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, lurk.Configf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p, table: table}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool, table string) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", lurk.Configf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the run table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	searches INTEGER NOT NULL DEFAULT 0,
	failed_searches INTEGER NOT NULL DEFAULT 0,
	products INTEGER NOT NULL DEFAULT 0,
	in_stock INTEGER NOT NULL DEFAULT 0,
	notified INTEGER NOT NULL DEFAULT 0,
	errors JSONB NOT NULL DEFAULT '[]'::jsonb
);
CREATE INDEX IF NOT EXISTS %[1]s_started_at_idx ON %[1]s (started_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SaveRun upserts a report.
func (s *RunStore) SaveRun(ctx context.Context, report lurk.RunReport) error {
	if report.ID == "" {
		return fmt.Errorf("run id is required")
	}
	errs := report.Errors
	if errs == nil {
		errs = []string{}
	}
	errorsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	status,
	started_at,
	finished_at,
	searches,
	failed_searches,
	products,
	in_stock,
	notified,
	errors
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	finished_at = EXCLUDED.finished_at,
	searches = EXCLUDED.searches,
	failed_searches = EXCLUDED.failed_searches,
	products = EXCLUDED.products,
	in_stock = EXCLUDED.in_stock,
	notified = EXCLUDED.notified,
	errors = EXCLUDED.errors`, s.table)

	args := []any{
		report.ID,
		string(report.Status),
		report.StartedAt,
		report.FinishedAt,
		report.Searches,
		report.FailedSearches,
		report.Products,
		report.InStock,
		report.Notified,
		errorsJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectColumns = `id, status, started_at, finished_at, searches, failed_searches, products, in_stock, notified, errors`

// GetRun fetches a report by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (lurk.RunReport, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, selectColumns, s.table)
	report, err := scanRun(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lurk.RunReport{}, fmt.Errorf("run %s: %w", id, lurk.ErrNotFound)
	}
	if err != nil {
		return lurk.RunReport{}, fmt.Errorf("get run: %w", err)
	}
	return report, nil
}

// ListRuns returns up to limit reports, newest first.
func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]lurk.RunReport, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY started_at DESC LIMIT $1`, selectColumns, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []lurk.RunReport
	for rows.Next() {
		report, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (lurk.RunReport, error) {
	var (
		report     lurk.RunReport
		status     string
		errorsJSON []byte
	)
	err := row.Scan(
		&report.ID,
		&status,
		&report.StartedAt,
		&report.FinishedAt,
		&report.Searches,
		&report.FailedSearches,
		&report.Products,
		&report.InStock,
		&report.Notified,
		&errorsJSON,
	)
	if err != nil {
		return lurk.RunReport{}, err
	}
	report.Status = lurk.RunStatus(status)
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &report.Errors); err != nil {
			return lurk.RunReport{}, fmt.Errorf("decode run errors: %w", err)
		}
	}
	if len(report.Errors) == 0 {
		report.Errors = nil
	}
	return report, nil
}
