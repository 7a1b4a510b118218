package crawler

import (
	"context"
	"fmt"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"golang.org/x/sync/errgroup"
)

type PromotionCrawler struct {
	run *Run
}

func NewPromotionCrawler(run *Run) *PromotionCrawler {
	return &PromotionCrawler{run: run}
}

// Crawl visits every running promotion and collects the products it
// features. Detail pages are fetched concurrently, each in its own tab.
// When two promotions yield the same id the one listed first wins.
func (p *PromotionCrawler) Crawl(ctx context.Context) models.Snapshot {
	r := p.run

	promotions := p.List(ctx)
	results := make([]models.Snapshot, len(promotions))

	var g errgroup.Group
	g.SetLimit(r.opts.PromotionConcurrency)
	for i, promo := range promotions {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Error("promotion crawl panicked", "promotion", promo.Text, "panic", rec)
				}
			}()
			results[i] = p.Detail(ctx, promo)
			return nil
		})
	}
	_ = g.Wait()

	merged := make(models.Snapshot)
	for _, res := range results {
		merged.MergeFirst(res)
	}

	r.stats.extracted("promotion", len(merged))
	r.logger.Info("promotions crawled", "promotions", len(promotions), "products", len(merged))
	return merged
}

// List collects the running promotions from the promotions index.
func (p *PromotionCrawler) List(ctx context.Context) []models.Promotion {
	r := p.run
	index := r.site.AbsoluteURL(r.site.PromotionIndex)

	var promotions []models.Promotion
	err := r.withTab(func(page browser.Page) error {
		if err := r.load(ctx, page, index); err != nil {
			return err
		}
		if err := r.nav.Scroll(ctx, page, r.opts.ListScroll, r.opts.ScrollSettle); err != nil {
			return err
		}

		anchors, err := r.nav.Anchors(page, "a")
		if err != nil {
			return err
		}
		promotions = r.site.PromotionCandidates(anchors)
		return nil
	})
	if err != nil {
		r.logger.Warn("promotion list failed", "url", index, "error", err)
		return nil
	}

	r.logger.Info("promotions found", "count", len(promotions))
	return promotions
}

// Detail extracts the products of one promotion page. Pages without
// product cards are scanned for product links instead.
func (p *PromotionCrawler) Detail(ctx context.Context, promo models.Promotion) models.Snapshot {
	r := p.run
	logger := r.logger.With("promotion", promo.Text)

	products := make(models.Snapshot)
	err := r.withTab(func(page browser.Page) error {
		if err := r.load(ctx, page, promo.URL); err != nil {
			return err
		}
		if err := r.nav.Scroll(ctx, page, r.opts.DetailScroll, r.opts.ScrollSettle); err != nil {
			return err
		}

		html, err := page.Content()
		if err != nil {
			r.stats.Fault(metrics.FaultTab)
			return fmt.Errorf("failed to read page content: %w", err)
		}

		found, skipped, err := r.extractor.ExtractPromotionCards(html)
		if err != nil {
			r.stats.Fault(metrics.FaultExtraction)
			return err
		}
		r.stats.FaultN(metrics.FaultExtraction, skipped)

		if len(found) == 0 {
			found, err = r.extractor.ScanProductLinks(html)
			if err != nil {
				r.stats.Fault(metrics.FaultExtraction)
				return err
			}
			logger.Debug("no product cards, scanned links", "products", len(found))
		}
		products = found
		return nil
	})
	if err != nil {
		logger.Warn("promotion crawl failed", "url", promo.URL, "error", err)
		return make(models.Snapshot)
	}

	r.stats.promotions.Add(1)
	logger.Info("promotion crawled", "products", len(products))
	return products
}
