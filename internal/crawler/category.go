package crawler

import (
	"context"
	"fmt"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
)

type CategoryCrawler struct {
	run *Run
}

func NewCategoryCrawler(run *Run) *CategoryCrawler {
	return &CategoryCrawler{run: run}
}

// Crawl extracts every product of one category listing. Any failure
// yields an empty map.
func (c *CategoryCrawler) Crawl(ctx context.Context, cat models.Category) models.Snapshot {
	r := c.run
	logger := r.logger.With("category", cat.Name)

	products := make(models.Snapshot)
	err := r.withTab(func(page browser.Page) error {
		if err := r.load(ctx, page, cat.URL); err != nil {
			return err
		}

		if !r.nav.WaitFor(page, r.cardSelector(), r.opts.CardWait) {
			logger.Info("no product cards found", "url", cat.URL)
			return nil
		}

		iterations, err := r.nav.Paginate(ctx, page)
		if err != nil {
			logger.Warn("pagination interrupted", "iterations", iterations, "error", err)
		}

		html, err := page.Content()
		if err != nil {
			r.stats.Fault(metrics.FaultTab)
			return fmt.Errorf("failed to read page content: %w", err)
		}

		found, skipped, err := r.extractor.ExtractCards(html, cat.Name)
		if err != nil {
			r.stats.Fault(metrics.FaultExtraction)
			return err
		}
		r.stats.FaultN(metrics.FaultExtraction, skipped)
		products = found

		logger.Debug("listing paginated", "iterations", iterations, "skipped", skipped)
		return nil
	})
	if err != nil {
		logger.Warn("category crawl failed", "url", cat.URL, "error", err)
		return make(models.Snapshot)
	}

	r.stats.categories.Add(1)
	r.stats.extracted("category", len(products))
	logger.Info("category crawled", "products", len(products))
	return products
}
