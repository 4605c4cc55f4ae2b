package runlog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
)

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on an open pool. The pool is owned by
// the caller.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	mode        TEXT NOT NULL,
	scope       TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	report      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_kind ON runs(kind, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Migrate creates the runs table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate runs")
}

// Close is a no-op; the pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}

// Start records a running run.
func (s *PostgresStore) Start(ctx context.Context, kind, mode, scope string) (*Run, error) {
	r := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Mode:      mode,
		Scope:     scope,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, kind, mode, scope, status, started_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.Kind, r.Mode, r.Scope, string(r.Status), r.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return r, nil
}

// Finish stores the report and final status of a run.
func (s *PostgresStore) Finish(ctx context.Context, id string, report any, runErr error) error {
	b, err := marshalReport(report)
	if err != nil {
		return err
	}
	status, msg := finishState(runErr)

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, report = $2, error = $3, finished_at = now() WHERE id = $4`,
		string(status), b, msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

const runColumns = `id::text, kind, mode, scope, status, report, error, started_at, finished_at`

// Get returns a run by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*Run, error) {
	var r Run
	err := s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Kind, &r.Mode, &r.Scope, (*string)(&r.Status), &r.Report, &r.Error, &r.StartedAt, &r.FinishedAt)
	if db.IsNoRows(err) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", id)
	}
	return &r, nil
}

// List returns runs, newest first.
func (s *PostgresStore) List(ctx context.Context, f Filter) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if f.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, f.Kind)
		argIdx++
	}
	if f.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(f.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if f.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, f.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Kind, &r.Mode, &r.Scope, (*string)(&r.Status), &r.Report, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
