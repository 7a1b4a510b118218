package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-sync/internal/runs"
)

var _ runs.Repository = (*RunRepository)(nil)

// RunRepository persists pipeline runs in the pipeline_run table.
type RunRepository struct {
	db *DB
}

func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, mode, status, products, categories, promotions,
	faults, changes, error, created_at, started_at, completed_at`

func (r *RunRepository) Create(ctx context.Context, run *runs.Run) error {
	query := `
		INSERT INTO pipeline_run (id, mode, status, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.db.Exec(ctx, query, run.ID, string(run.Mode), string(run.Status), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*runs.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_run WHERE id = $1`

	run, err := scanRun(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, runs.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) List(ctx context.Context, limit int) ([]*runs.Run, error) {
	query := `SELECT ` + runColumns + `
		FROM pipeline_run
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []*runs.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// ClaimNext locks the oldest pending run so that concurrent workers never
// execute the same run twice.
func (r *RunRepository) ClaimNext(ctx context.Context, now time.Time) (*runs.Run, error) {
	query := `
		UPDATE pipeline_run
		SET status = $1, started_at = $2
		WHERE id = (
			SELECT id FROM pipeline_run
			WHERE status = $3
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + runColumns

	run, err := scanRun(r.db.QueryRow(ctx, query,
		string(runs.StatusRunning), now, string(runs.StatusPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) Finish(ctx context.Context, run *runs.Run) error {
	query := `
		UPDATE pipeline_run
		SET status = $2, products = $3, categories = $4, promotions = $5,
			faults = $6, changes = $7, error = $8, completed_at = $9
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		run.ID, string(run.Status), run.Products, run.Categories, run.Promotions,
		run.Faults, run.Changes, run.Error, run.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runs.ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*runs.Run, error) {
	run := &runs.Run{}
	var mode, status string
	err := row.Scan(
		&run.ID, &mode, &status, &run.Products, &run.Categories, &run.Promotions,
		&run.Faults, &run.Changes, &run.Error, &run.CreatedAt, &run.StartedAt, &run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Mode = runs.Mode(mode)
	run.Status = runs.Status(status)
	return run, nil
}
