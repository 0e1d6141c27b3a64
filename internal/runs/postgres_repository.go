package runs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema creates the extraction_runs table.
const Schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	request        JSONB NOT NULL,
	processed      INTEGER NOT NULL DEFAULT 0,
	emitted        INTEGER NOT NULL DEFAULT 0,
	skipped        JSONB NOT NULL DEFAULT '{}'::jsonb,
	boundary_links INTEGER NOT NULL DEFAULT 0,
	error          TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ,
	finished_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS extraction_runs_created_at_idx ON extraction_runs (created_at DESC);
`

const runColumns = `
	id, status, request, processed, emitted, skipped, boundary_links, error,
	created_at, started_at, finished_at
`

// PostgresRepository stores runs in PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a repository on pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the table when missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create extraction_runs: %w", err)
	}
	return nil
}

// Get retrieves a run by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Run, error) {
	query := `SELECT` + runColumns + `FROM extraction_runs WHERE id = $1`

	run, err := scanRun(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns runs newest first, optionally filtered by status.
func (r *PostgresRepository) List(ctx context.Context, opts ListOptions) ([]*Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT` + runColumns + `FROM extraction_runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, string(opts.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Create inserts a run.
func (r *PostgresRepository) Create(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO extraction_runs (` + runColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.Request,
		run.Processed, run.Emitted, skippedOrEmpty(run.Skipped), run.BoundaryLinks, run.Error,
		run.CreatedAt, run.StartedAt, run.FinishedAt,
	)
	return err
}

// Update writes the mutable fields of a run.
func (r *PostgresRepository) Update(ctx context.Context, run *Run) error {
	query := `
		UPDATE extraction_runs SET
			status = $2, processed = $3, emitted = $4, skipped = $5,
			boundary_links = $6, error = $7, started_at = $8, finished_at = $9
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		run.ID, string(run.Status), run.Processed, run.Emitted, skippedOrEmpty(run.Skipped),
		run.BoundaryLinks, run.Error, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var status string
	err := row.Scan(
		&run.ID,
		&status,
		&run.Request,
		&run.Processed,
		&run.Emitted,
		&run.Skipped,
		&run.BoundaryLinks,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = Status(status)
	return &run, nil
}

func skippedOrEmpty(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

var _ Repository = (*PostgresRepository)(nil)
