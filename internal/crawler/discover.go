package crawler

import (
	"context"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/models"
)

type Discoverer struct {
	run *Run
}

func NewDiscoverer(run *Run) *Discoverer {
	return &Discoverer{run: run}
}

// Discover loads the shop root and resolves the configured category labels
// to listing URLs. Failures yield an empty list.
func (d *Discoverer) Discover(ctx context.Context) []models.Category {
	r := d.run
	root := r.site.AbsoluteURL(r.site.ShopRoot)

	var categories []models.Category
	err := r.withTab(func(page browser.Page) error {
		if err := r.load(ctx, page, root); err != nil {
			return err
		}

		anchors, err := r.nav.Anchors(page, "a")
		if err != nil {
			return err
		}

		categories = r.site.MatchCategories(anchors, r.site.CategoryLabels)
		return nil
	})
	if err != nil {
		r.logger.Warn("category discovery failed", "url", root, "error", err)
		return nil
	}

	r.logger.Info("categories discovered", "count", len(categories))
	return categories
}
