package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/reconcile"
)

// ChangePublisher writes change events inside the transaction that records
// the changes.
type ChangePublisher interface {
	PublishChangesWithTx(ctx context.Context, tx pgx.Tx, runID string, changes []models.Change) error
}

var _ reconcile.Store = (*CatalogRepository)(nil)

// CatalogRepository stores catalog rows and the change log in PostgreSQL.
type CatalogRepository struct {
	db        *DB
	publisher ChangePublisher
	logger    *slog.Logger
}

func NewCatalogRepository(db *DB, publisher ChangePublisher, logger *slog.Logger) *CatalogRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogRepository{
		db:        db,
		publisher: publisher,
		logger:    logger.With("component", "catalog_repository"),
	}
}

func (r *CatalogRepository) Rows(ctx context.Context) ([]reconcile.Row, error) {
	query := `
		SELECT category, tags, name, image, link, description, price, pv, bv
		FROM catalog_row
		ORDER BY name`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog rows: %w", err)
	}
	defer rows.Close()

	var out []reconcile.Row
	for rows.Next() {
		var row reconcile.Row
		if err := rows.Scan(
			&row.Category, &row.Tags, &row.Name, &row.Image, &row.Link,
			&row.Description, &row.Price, &row.PV, &row.BV,
		); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// UpsertRows writes rows keyed by name and stamps them with runID. Empty
// tags or description never overwrite stored enrichment.
func (r *CatalogRepository) UpsertRows(ctx context.Context, runID string, rows []reconcile.Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		INSERT INTO catalog_row (
			name, category, tags, image, link, description,
			price, pv, bv, run_id, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (name) DO UPDATE SET
			category = EXCLUDED.category,
			tags = COALESCE(NULLIF(EXCLUDED.tags, ''), catalog_row.tags),
			image = EXCLUDED.image,
			link = EXCLUDED.link,
			description = COALESCE(NULLIF(EXCLUDED.description, ''), catalog_row.description),
			price = EXCLUDED.price,
			pv = EXCLUDED.pv,
			bv = EXCLUDED.bv,
			run_id = EXCLUDED.run_id,
			updated_at = EXCLUDED.updated_at`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query,
			row.Name, row.Category, row.Tags, row.Image, row.Link, row.Description,
			row.Price, row.PV, row.BV, runID, now,
		)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
}

// Prune deletes every row that the run identified by runID did not write.
func (r *CatalogRepository) Prune(ctx context.Context, runID string) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM catalog_row WHERE run_id <> $1`, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to prune catalog rows: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendChanges records changes and, when a publisher is configured, their
// events in one transaction.
func (r *CatalogRepository) AppendChanges(ctx context.Context, runID string, changes []models.Change) error {
	if len(changes) == 0 {
		return nil
	}

	query := `
		INSERT INTO change_log (
			run_id, recorded_at, kind, name, detail, old_value, new_value
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(query, runID, c.Timestamp, string(c.Kind), c.Name, c.Detail, c.OldValue, c.NewValue)
	}

	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		if err := execBatch(ctx, tx, batch); err != nil {
			return err
		}
		if r.publisher == nil {
			return nil
		}
		if err := r.publisher.PublishChangesWithTx(ctx, tx, runID, changes); err != nil {
			return fmt.Errorf("failed to publish change events: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info("changes recorded", "run_id", runID, "count", len(changes))
	return nil
}

// UpdateEnrichment overwrites tags and description of existing rows.
func (r *CatalogRepository) UpdateEnrichment(ctx context.Context, rows []reconcile.Row) error {
	if len(rows) == 0 {
		return nil
	}

	query := `
		UPDATE catalog_row
		SET tags = $2, description = $3, updated_at = $4
		WHERE name = $1`

	now := time.Now()
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.Name, row.Tags, row.Description, now)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return execBatch(ctx, tx, batch)
	})
}

// ListChanges returns up to limit changes, newest first.
func (r *CatalogRepository) ListChanges(ctx context.Context, limit int) ([]models.Change, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT recorded_at, kind, name, detail, old_value, new_value
		FROM change_log
		ORDER BY recorded_at DESC, id DESC
		LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	changes := make([]models.Change, 0, limit)
	for rows.Next() {
		var c models.Change
		var kind string
		if err := rows.Scan(&c.Timestamp, &kind, &c.Name, &c.Detail, &c.OldValue, &c.NewValue); err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		c.Kind = models.ChangeKind(kind)
		changes = append(changes, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return changes, nil
}

func execBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("batch statement %d failed: %w", i, err)
		}
	}
	return results.Close()
}
