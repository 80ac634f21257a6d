package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS crossbuild_runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	outcome     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS crossbuild_cells (
	run_id      TEXT NOT NULL REFERENCES crossbuild_runs(id) ON DELETE CASCADE,
	cell        TEXT NOT NULL,
	variant     TEXT NOT NULL,
	triplet     TEXT NOT NULL,
	status      TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, cell)
);`

// uniqueViolation is the Postgres SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

// PostgresStore implements Store using Postgres.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres creates a new store with an existing *sql.DB.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects with the lib/pq driver and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn not configured")
	}
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := NewPostgres(db)
	if err := p.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// EnsureSchema creates the history tables if missing.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (p *PostgresStore) Close() error { return p.db.Close() }

// Record stores a run and its cells in one transaction. Recording the same
// run twice is not an error.
func (p *PostgresStore) Record(ctx context.Context, run Run) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO crossbuild_runs (id, started_at, finished_at, outcome) VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, run.FinishedAt, run.Outcome)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO crossbuild_cells (run_id, cell, variant, triplet, status, fingerprint, summary, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, c := range run.Cells {
		if _, err := stmt.ExecContext(ctx, run.ID, c.Cell, c.Variant, c.Triplet, c.Status, c.Fingerprint, c.Summary, c.DurationMS); err != nil {
			return fmt.Errorf("insert cell %s: %w", c.Cell, err)
		}
	}
	return tx.Commit()
}

// Recent returns the newest runs with their cells.
func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, outcome FROM crossbuild_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	var ids []string
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Outcome); err != nil {
			return nil, err
		}
		runs = append(runs, r)
		ids = append(ids, r.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return runs, nil
	}

	cellRows, err := p.db.QueryContext(ctx,
		`SELECT run_id, cell, variant, triplet, status, fingerprint, summary, duration_ms
		 FROM crossbuild_cells WHERE run_id = ANY($1) ORDER BY run_id, cell`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer cellRows.Close()
	byID := make(map[string]*Run, len(runs))
	for i := range runs {
		byID[runs[i].ID] = &runs[i]
	}
	for cellRows.Next() {
		var runID string
		var c Cell
		if err := cellRows.Scan(&runID, &c.Cell, &c.Variant, &c.Triplet, &c.Status, &c.Fingerprint, &c.Summary, &c.DurationMS); err != nil {
			return nil, err
		}
		if r := byID[runID]; r != nil {
			r.Cells = append(r.Cells, c)
		}
	}
	return runs, cellRows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
