package runs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Executor runs the pipeline stages selected by mode.
type Executor interface {
	Execute(ctx context.Context, runID string, mode Mode) (Outcome, error)
}

type ExecutorFunc func(ctx context.Context, runID string, mode Mode) (Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, runID string, mode Mode) (Outcome, error) {
	return f(ctx, runID, mode)
}

// Manager queues runs and executes them one at a time.
type Manager struct {
	repo     Repository
	exec     Executor
	interval time.Duration
	wake     chan struct{}
	now      func() time.Time
	logger   *slog.Logger
}

func NewManager(repo Repository, exec Executor, pollInterval time.Duration, logger *slog.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		repo:     repo,
		exec:     exec,
		interval: pollInterval,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
		logger:   logger.With("component", "run_manager"),
	}
}

// Create queues a run of the given mode.
func (m *Manager) Create(ctx context.Context, mode Mode) (*Run, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, fmt.Errorf("%w: %q", err, mode)
	}

	run := &Run{
		ID:        uuid.New().String(),
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: m.now(),
	}
	if err := m.repo.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	select {
	case m.wake <- struct{}{}:
	default:
	}

	m.logger.Info("run queued", "id", run.ID, "mode", mode)
	return run, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*Run, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return m.repo.List(ctx, limit)
}

// StartWorker executes queued runs until ctx is done.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("run worker started", "interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		for m.processNext(ctx) {
		}

		select {
		case <-ctx.Done():
			m.logger.Info("run worker stopping")
			return
		case <-ticker.C:
		case <-m.wake:
		}
	}
}

// processNext executes the oldest pending run and reports whether one was
// found.
func (m *Manager) processNext(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	run, err := m.repo.ClaimNext(ctx, m.now())
	if err != nil {
		m.logger.Error("failed to claim run", "error", err)
		return false
	}
	if run == nil {
		return false
	}

	m.logger.Info("processing run", "id", run.ID, "mode", run.Mode)

	outcome, execErr := m.execute(ctx, run)

	completed := m.now()
	run.CompletedAt = &completed
	run.Products = outcome.Products
	run.Categories = outcome.Categories
	run.Promotions = outcome.Promotions
	run.Faults = outcome.Faults
	run.Changes = outcome.Changes
	if execErr != nil {
		run.Status = StatusFailed
		run.Error = execErr.Error()
		m.logger.Error("run failed", "id", run.ID, "error", execErr)
	} else {
		run.Status = StatusCompleted
		m.logger.Info("run completed", "id", run.ID, "products", run.Products, "changes", run.Changes)
	}

	if err := m.repo.Finish(context.WithoutCancel(ctx), run); err != nil {
		m.logger.Error("failed to record run result", "id", run.ID, "error", err)
	}
	return true
}

func (m *Manager) execute(ctx context.Context, run *Run) (outcome Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panicked: %v", rec)
		}
	}()
	return m.exec.Execute(ctx, run.ID, run.Mode)
}
