package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/catalog-sync/internal/crawler"
	"github.com/maltedev/catalog-sync/internal/enrich"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/reconcile"
	"github.com/maltedev/catalog-sync/internal/runs"
)

// ErrNoProvider is returned by enrichment when no provider is configured.
var ErrNoProvider = errors.New("no enrichment provider configured")

// Crawler produces the product batches of one crawl.
type Crawler interface {
	Run(ctx context.Context, sink crawler.SinkFunc) (*crawler.Result, error)
}

// Store is the catalog the pipeline reconciles into and enriches.
type Store interface {
	reconcile.Store
	UpdateEnrichment(ctx context.Context, rows []reconcile.Row) error
}

type Options struct {
	Sink   reconcile.SinkOptions
	Enrich enrich.Options
	Sync   enrich.SyncOptions
	// DryRun plans enrichment and event sync without calling the provider
	// or writing text back.
	DryRun bool
	// Ephemeral marks a store that does not outlive the process. Generated
	// text would be lost, so enrichment and event sync are skipped.
	Ephemeral bool
}

// Pipeline sequences crawl, reconcile, enrichment and event backfill.
type Pipeline struct {
	crawler  Crawler
	store    Store
	provider enrich.Provider
	opts     Options
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds a pipeline. provider may be nil, in which case only the
// crawl and event stages can run.
func New(c Crawler, store Store, provider enrich.Provider, opts Options, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	opts.Sync.DryRun = opts.Sync.DryRun || opts.DryRun
	return &Pipeline{
		crawler:  c,
		store:    store,
		provider: provider,
		opts:     opts,
		metrics:  m,
		logger:   logger.With("component", "pipeline"),
	}
}

// CrawlReport is the result of one crawl and reconcile stage.
type CrawlReport struct {
	Products int             `json:"products"`
	Summary  crawler.Summary `json:"summary"`
	Changes  int             `json:"changes"`
}

// Crawl runs the crawler, streaming every batch into the reconciling sink,
// then finalises the catalog for runID.
func (p *Pipeline) Crawl(ctx context.Context, runID string) (*CrawlReport, error) {
	sink, err := reconcile.NewSink(ctx, p.store, runID, p.opts.Sink, p.metrics, p.logger)
	if err != nil {
		return nil, err
	}

	result, err := p.crawler.Run(ctx, sink.Write)
	if err != nil {
		return nil, fmt.Errorf("crawl failed: %w", err)
	}

	report := &CrawlReport{Products: len(result.Products), Summary: result.Summary}

	changes, err := sink.Finalize(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to finalize catalog: %w", err)
	}
	report.Changes = len(changes)

	return report, nil
}

// Enrich fills and refreshes marketing text with the provider.
func (p *Pipeline) Enrich(ctx context.Context) (*enrich.Report, error) {
	if p.opts.DryRun {
		rows, err := p.store.Rows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load rows: %w", err)
		}
		fill, update := enrich.Plan(rows, p.opts.Enrich.EventLabel)
		p.logger.Info("dry run, enrichment skipped", "fill", len(fill), "update", len(update))
		return &enrich.Report{}, nil
	}
	if p.opts.Ephemeral {
		p.logger.Warn("catalog is not persisted, enrichment skipped")
		return &enrich.Report{}, nil
	}
	if p.provider == nil {
		return nil, ErrNoProvider
	}

	return enrich.NewEnricher(p.provider, p.store, p.opts.Enrich, p.metrics, p.logger).Run(ctx)
}

// SyncEvents backfills event rows from matching regular rows.
func (p *Pipeline) SyncEvents(ctx context.Context) (*enrich.SyncReport, error) {
	if p.opts.Ephemeral && !p.opts.DryRun {
		p.logger.Warn("catalog is not persisted, event sync skipped")
		return &enrich.SyncReport{}, nil
	}
	return enrich.NewEventSync(p.store, p.opts.Sync, p.logger).Run(ctx)
}

// Execute runs the stages selected by mode. It implements runs.Executor.
// A failed catalog finalize does not stop the later stages, which work on
// the rows already written; its error is returned once they are done.
func (p *Pipeline) Execute(ctx context.Context, runID string, mode runs.Mode) (runs.Outcome, error) {
	var (
		out         runs.Outcome
		finalizeErr error
	)

	if mode == runs.ModeCrawl || mode == runs.ModeAll {
		report, err := p.Crawl(ctx, runID)
		if report == nil {
			return out, err
		}
		out.Products = report.Products
		out.Categories = report.Summary.Categories
		out.Promotions = report.Summary.Promotions
		out.Faults = report.Summary.TotalFaults()
		out.Changes = report.Changes
		if err != nil {
			out.Faults++
			finalizeErr = err
			p.logger.Error("catalog finalize failed, continuing", "run_id", runID, "error", err)
		}
	}

	if mode == runs.ModeEnrich || mode == runs.ModeAll {
		report, err := p.Enrich(ctx)
		if report != nil {
			out.Faults += report.FailedBatches
		}
		if err != nil {
			return out, errors.Join(finalizeErr, fmt.Errorf("enrichment failed: %w", err))
		}
	}

	if mode == runs.ModeEvents || mode == runs.ModeAll {
		if _, err := p.SyncEvents(ctx); err != nil {
			return out, errors.Join(finalizeErr, fmt.Errorf("event sync failed: %w", err))
		}
	}

	return out, finalizeErr
}
