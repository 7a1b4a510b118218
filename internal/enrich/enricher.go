package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/queue"
	"github.com/maltedev/catalog-sync/internal/ratelimit"
	"github.com/maltedev/catalog-sync/internal/reconcile"
)

// Store reads catalog rows and writes generated text back.
type Store interface {
	Rows(ctx context.Context) ([]reconcile.Row, error)
	UpdateEnrichment(ctx context.Context, rows []reconcile.Row) error
}

type Options struct {
	BatchSize int
	// MaxRequests caps provider calls per pass; zero means unlimited.
	MaxRequests int
	MinInterval time.Duration
	// EventLabel marks event rows, which are filled by EventSync instead.
	EventLabel string
}

func DefaultOptions() Options {
	return Options{
		BatchSize:   5,
		MaxRequests: 240,
		MinInterval: time.Second,
		EventLabel:  "이벤트",
	}
}

// Report summarises one enrichment pass.
type Report struct {
	Filled         int           `json:"filled"`
	Updated        int           `json:"updated"`
	Requests       int           `json:"requests"`
	FailedBatches  int           `json:"failed_batches"`
	Unwritten      int           `json:"unwritten"`
	CapReached     bool          `json:"cap_reached"`
	QuotaExhausted bool          `json:"quota_exhausted"`
	RetryIn        time.Duration `json:"retry_in,omitempty"`
}

type job struct {
	name   string
	update bool
}

// Empty rows are filled before outdated rows are refreshed.
const (
	priorityUpdate = iota
	priorityFill
)

type Enricher struct {
	provider Provider
	store    Store
	limiter  *ratelimit.AdaptiveLimiter
	opts     Options
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

func NewEnricher(provider Provider, store Store, opts Options, m *metrics.Metrics, logger *slog.Logger) *Enricher {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		provider: provider,
		store:    store,
		limiter:  ratelimit.NewAdaptiveLimiter(opts.MinInterval, opts.MinInterval),
		opts:     opts,
		metrics:  m,
		now:      time.Now,
		logger:   logger.With("component", "enricher", "provider", provider.Name()),
	}
}

// Plan splits rows into those missing tags or description and those
// whose text is in an outdated format. Event rows and unnamed rows are
// skipped.
func Plan(rows []reconcile.Row, eventLabel string) (fill, update []reconcile.Row) {
	for _, r := range rows {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		if eventLabel != "" && strings.Contains(r.Category, eventLabel) {
			continue
		}

		tags := strings.TrimSpace(r.Tags)
		desc := strings.TrimSpace(r.Description)
		switch {
		case tags == "" || desc == "":
			fill = append(fill, r)
		case strings.Contains(tags, "#") || !strings.Contains(desc, "\n"):
			update = append(update, r)
		}
	}
	return fill, update
}

// Run fills empty rows first, then refreshes outdated ones. Results are
// written after every batch. Hitting the request cap or the provider quota
// ends the pass early without an error.
func (e *Enricher) Run(ctx context.Context) (*Report, error) {
	rows, err := e.store.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}

	fill, update := Plan(rows, e.opts.EventLabel)
	e.logger.Info("enrichment planned", "fill", len(fill), "update", len(update))

	q := queue.New[job]()
	for _, r := range fill {
		_ = q.Push(job{name: strings.TrimSpace(r.Name)}, priorityFill)
	}
	for _, r := range update {
		_ = q.Push(job{name: strings.TrimSpace(r.Name), update: true}, priorityUpdate)
	}
	batches := queue.NewBatchQueue(q, e.opts.BatchSize)

	report := &Report{}
	budget := ratelimit.NewBudget(e.opts.MaxRequests)
	var pending []reconcile.Row

	abort := func(err error) (*Report, error) {
		e.flush(context.WithoutCancel(ctx), &pending)
		report.Unwritten = len(pending)
		return report, err
	}

	for batches.Size() > 0 {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		if err := budget.Take(); err != nil {
			report.CapReached = true
			e.logger.Warn("request cap reached", "max_requests", e.opts.MaxRequests, "remaining", batches.Size())
			break
		}

		batch, err := batches.PopBatch()
		if err != nil {
			break
		}

		if err := e.limiter.Wait(ctx); err != nil {
			return abort(err)
		}

		report.Requests++
		results, err := e.provider.Generate(ctx, names(batch))
		if errors.Is(err, ErrQuotaExhausted) {
			e.metrics.EnrichRequest("quota")
			report.QuotaExhausted = true
			report.RetryIn = untilQuotaReset(e.now())
			e.logger.Warn("provider quota exhausted",
				"retry_in", report.RetryIn.Round(time.Minute))
			break
		}
		if err != nil || len(results) == 0 {
			e.metrics.EnrichRequest("error")
			e.limiter.RecordError()
			report.FailedBatches++
			e.logger.Error("enrichment batch failed", "first", batch[0].name, "size", len(batch), "error", err)
			continue
		}
		e.metrics.EnrichRequest("ok")
		e.limiter.RecordSuccess()

		for _, upd := range match(batch, results) {
			pending = append(pending, reconcile.Row{
				Name:        upd.job.name,
				Tags:        upd.result.Tags,
				Description: upd.result.Description,
			})
			if upd.job.update {
				report.Updated++
			} else {
				report.Filled++
			}
		}

		e.flush(ctx, &pending)
	}

	e.flush(context.WithoutCancel(ctx), &pending)
	report.Unwritten = len(pending)
	if report.Unwritten > 0 {
		return report, fmt.Errorf("failed to write %d enriched rows", report.Unwritten)
	}

	e.logger.Info("enrichment finished",
		"filled", report.Filled,
		"updated", report.Updated,
		"requests", report.Requests,
		"failed_batches", report.FailedBatches)
	return report, nil
}

// flush writes pending rows; on failure they stay pending for the next
// attempt.
func (e *Enricher) flush(ctx context.Context, pending *[]reconcile.Row) {
	if len(*pending) == 0 {
		return
	}
	if err := e.store.UpdateEnrichment(ctx, *pending); err != nil {
		e.logger.Warn("failed to write enrichment, keeping rows for retry", "rows", len(*pending), "error", err)
		return
	}
	*pending = nil
}

type matched struct {
	job    job
	result Result
}

// match pairs results with the batch by name, falling back to position
// for results whose name does not appear in the batch.
func match(batch []job, results []Result) []matched {
	byName := make(map[string]int, len(batch))
	for i, j := range batch {
		byName[j.name] = i
	}

	used := make([]bool, len(batch))
	var out []matched
	for i, r := range results {
		idx, ok := byName[strings.TrimSpace(r.Name)]
		if !ok || used[idx] {
			if i >= len(batch) || used[i] {
				continue
			}
			idx = i
		}
		if strings.TrimSpace(r.Tags) == "" && strings.TrimSpace(r.Description) == "" {
			continue
		}
		used[idx] = true
		out = append(out, matched{job: batch[idx], result: r})
	}
	return out
}

func names(batch []job) []string {
	out := make([]string, len(batch))
	for i, j := range batch {
		out[i] = j.name
	}
	return out
}

var seoul = time.FixedZone("KST", 9*60*60)

// untilQuotaReset returns the time until the next 09:00 in Seoul, when
// daily provider quotas reset.
func untilQuotaReset(now time.Time) time.Duration {
	local := now.In(seoul)
	reset := time.Date(local.Year(), local.Month(), local.Day(), 9, 0, 0, 0, seoul)
	if !local.Before(reset) {
		reset = reset.AddDate(0, 0, 1)
	}
	return reset.Sub(local)
}
