package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
)

// ErrEmptyRun is returned by Finalize when no product was observed, so an
// unreachable site never prunes the catalog.
var ErrEmptyRun = errors.New("no products observed in this run")

// Store persists catalog rows and the change log.
type Store interface {
	Rows(ctx context.Context) ([]Row, error)
	UpsertRows(ctx context.Context, runID string, rows []Row) error
	// Prune deletes rows not written by runID and returns how many.
	Prune(ctx context.Context, runID string) (int, error)
	AppendChanges(ctx context.Context, runID string, changes []models.Change) error
}

type SinkOptions struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func DefaultSinkOptions() SinkOptions {
	return SinkOptions{
		MaxAttempts:   5,
		RetryDelay:    time.Second,
		MaxRetryDelay: 30 * time.Second,
	}
}

// Sink reconciles crawled batches against the previous catalog. Batches
// may arrive concurrently; writes are serialised.
type Sink struct {
	mu      sync.Mutex
	store   Store
	runID   string
	shadow  *Shadow
	seen    map[string]string
	failed  int
	retry   retrypolicy.RetryPolicy[any]
	metrics *metrics.Metrics
	now     func() time.Time
	logger  *slog.Logger
}

// NewSink loads the current rows from store as the previous state.
func NewSink(ctx context.Context, store Store, runID string, opts SinkOptions, m *metrics.Metrics, logger *slog.Logger) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Millisecond
	}
	if opts.MaxRetryDelay <= opts.RetryDelay {
		opts.MaxRetryDelay = 2 * opts.RetryDelay
	}

	rows, err := store.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous rows: %w", err)
	}

	s := &Sink{
		store:   store,
		runID:   runID,
		shadow:  NewShadow(rows),
		seen:    make(map[string]string),
		metrics: m,
		now:     time.Now,
		logger:  logger.With("component", "reconcile", "run_id", runID),
	}
	s.retry = retrypolicy.NewBuilder[any]().
		WithBackoff(opts.RetryDelay, opts.MaxRetryDelay).
		WithMaxRetries(opts.MaxAttempts - 1).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		Build()

	s.logger.Info("previous state loaded", "rows", len(rows))
	return s, nil
}

// Write stores one batch. Known products keep their enrichment text.
func (s *Sink) Write(ctx context.Context, batch models.Snapshot) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]Row, 0, len(batch))
	for _, p := range batch {
		row := RowFromProduct(p)
		if e, ok := s.shadow.Enrichment[row.Name]; ok {
			row.Tags = e.Tags
			row.Description = e.Description
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	// Observed products count as present even when their write fails.
	for _, r := range rows {
		s.seen[r.Name] = r.Price
	}

	err := s.withRetry(ctx, "upsert", func() error {
		return s.store.UpsertRows(ctx, s.runID, rows)
	})
	if err != nil {
		s.failed++
		return fmt.Errorf("failed to write %d rows: %w", len(rows), err)
	}

	s.logger.Debug("batch written", "rows", len(rows), "seen", len(s.seen))
	return nil
}

// Seen returns the number of distinct product names observed so far.
func (s *Sink) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Finalize prunes rows not seen in this run and records the changes
// against the previous state. Pruning is skipped when any batch failed to
// write, since rows of that batch still carry an older run id.
func (s *Sink) Finalize(ctx context.Context) ([]models.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.seen) == 0 {
		return nil, ErrEmptyRun
	}

	var pruned int
	if s.failed > 0 {
		s.logger.Warn("skipping prune after failed writes", "failed_batches", s.failed)
	} else {
		err := s.withRetry(ctx, "prune", func() error {
			var err error
			pruned, err = s.store.Prune(ctx, s.runID)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to prune rows: %w", err)
		}
	}

	changes := Diff(s.shadow.Prices, s.seen, s.now())
	if len(changes) > 0 {
		err := s.withRetry(ctx, "append changes", func() error {
			return s.store.AppendChanges(ctx, s.runID, changes)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to append changes: %w", err)
		}
	}

	counts := make(map[models.ChangeKind]int)
	for _, c := range changes {
		counts[c.Kind]++
		s.metrics.Change(string(c.Kind))
	}
	s.logger.Info("catalog reconciled",
		"rows", len(s.seen),
		"pruned", pruned,
		"new", counts[models.ChangeNew],
		"removed", counts[models.ChangeRemoved],
		"price_changed", counts[models.ChangePriceChanged])

	return changes, nil
}

func (s *Sink) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := 0
	return failsafe.With[any](s.retry).WithContext(ctx).Run(func() error {
		attempt++
		err := fn()
		if err != nil {
			s.logger.Warn("store write failed", "op", op, "attempt", attempt, "error", err)
		}
		return err
	})
}
