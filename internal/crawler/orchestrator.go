package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/parser"
	"golang.org/x/sync/errgroup"
)

// SnapshotSaver persists the merged result of a run.
type SnapshotSaver interface {
	Save(products models.Snapshot) error
}

type Result struct {
	Products models.Snapshot
	Summary  Summary
	Duration time.Duration
}

type Orchestrator struct {
	launch    LaunchFunc
	nav       *browser.Navigator
	extractor *parser.Extractor
	snapshots SnapshotSaver
	opts      Options
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewOrchestrator(launch LaunchFunc, nav *browser.Navigator, extractor *parser.Extractor, snapshots SnapshotSaver, opts Options, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		launch:    launch,
		nav:       nav,
		extractor: extractor,
		snapshots: snapshots,
		opts:      opts.normalize(),
		metrics:   m,
		logger:    logger.With("component", "crawler"),
	}
}

// Run crawls every category and promotion, streaming each non-empty batch
// to sink as soon as it is available. Unit failures are contained; only a
// browser that cannot be launched fails the run.
func (o *Orchestrator) Run(ctx context.Context, sink SinkFunc) (*Result, error) {
	start := time.Now()

	b, err := o.launch()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBrowserLaunch, err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			o.logger.Warn("failed to close browser", "error", err)
		}
	}()

	run := NewRun(b, o.nav, o.extractor, o.opts, o.metrics, o.logger)

	categories := NewDiscoverer(run).Discover(ctx)
	if len(categories) == 0 {
		fallback := run.site.FallbackDescriptor()
		o.logger.Warn("no categories discovered, crawling shop root", "url", fallback.URL)
		categories = []models.Category{fallback}
	}

	crawler := NewCategoryCrawler(run)
	results := make([]models.Snapshot, len(categories))

	var g errgroup.Group
	g.SetLimit(run.opts.CategoryConcurrency)
	for i, cat := range categories {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					o.logger.Error("category crawl panicked", "category", cat.Name, "panic", rec)
				}
			}()
			results[i] = crawler.Crawl(ctx, cat)
			o.emit(ctx, run, sink, cat.Name, results[i])
			return nil
		})
	}
	_ = g.Wait()

	promotions := NewPromotionCrawler(run).Crawl(ctx)
	o.emit(ctx, run, sink, run.site.EventLabel, promotions)

	total := make(models.Snapshot)
	for _, res := range results {
		total.Merge(res)
	}
	total.Merge(promotions)

	if o.snapshots != nil {
		if err := o.snapshots.Save(total); err != nil {
			o.logger.Error("failed to save snapshot", "error", err)
		}
	}

	summary := run.stats.Summary()
	duration := time.Since(start)
	o.metrics.RunFinished(duration)
	o.logger.Info("crawl finished",
		"products", len(total),
		"categories", summary.Categories,
		"promotions", summary.Promotions,
		"batches", summary.Batches,
		"faults", summary.TotalFaults(),
		"duration", duration)

	return &Result{Products: total, Summary: summary, Duration: duration}, nil
}

func (o *Orchestrator) emit(ctx context.Context, run *Run, sink SinkFunc, source string, batch models.Snapshot) {
	if len(batch) == 0 || sink == nil {
		return
	}

	if err := sink(ctx, batch); err != nil {
		run.stats.Fault(metrics.FaultSink)
		o.logger.Error("sink rejected batch", "source", source, "products", len(batch), "error", err)
		return
	}

	run.stats.batches.Add(1)
	o.metrics.Batch()
	o.logger.Info("batch streamed", "source", source, "products", len(batch))
}
