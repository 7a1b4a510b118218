package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/parser"
)

var ErrBrowserLaunch = errors.New("browser launch failed")

// Tabs opens isolated pages within one shared browser context.
type Tabs interface {
	NewPage() (browser.Page, error)
}

type Browser interface {
	Tabs
	Close() error
}

// LaunchFunc starts the browser for a single run.
type LaunchFunc func() (Browser, error)

// SinkFunc receives each non-empty batch as soon as it is crawled. It may
// be called concurrently.
type SinkFunc func(ctx context.Context, batch models.Snapshot) error

type Options struct {
	CategoryConcurrency  int
	PromotionConcurrency int
	CardWait             time.Duration
	ListScroll           int
	DetailScroll         int
	ScrollSettle         time.Duration
}

func DefaultOptions() Options {
	return Options{
		CategoryConcurrency:  3,
		PromotionConcurrency: 5,
		CardWait:             20 * time.Second,
		ListScroll:           5000,
		DetailScroll:         3000,
		ScrollSettle:         time.Second,
	}
}

func (o Options) normalize() Options {
	d := DefaultOptions()
	if o.CategoryConcurrency < 1 {
		o.CategoryConcurrency = d.CategoryConcurrency
	}
	if o.PromotionConcurrency < 1 {
		o.PromotionConcurrency = d.PromotionConcurrency
	}
	if o.CardWait <= 0 {
		o.CardWait = d.CardWait
	}
	return o
}

// Run carries everything one crawl needs. It is created per run and
// shared by the crawlers working on it.
type Run struct {
	tabs      Tabs
	nav       *browser.Navigator
	extractor *parser.Extractor
	site      *parser.Site
	opts      Options
	stats     *Stats
	logger    *slog.Logger
}

func NewRun(tabs Tabs, nav *browser.Navigator, extractor *parser.Extractor, opts Options, m *metrics.Metrics, logger *slog.Logger) *Run {
	if logger == nil {
		logger = slog.Default()
	}
	return &Run{
		tabs:      tabs,
		nav:       nav,
		extractor: extractor,
		site:      extractor.Site(),
		opts:      opts.normalize(),
		stats:     NewStats(m),
		logger:    logger,
	}
}

func (r *Run) Stats() *Stats {
	return r.stats
}

func (r *Run) cardSelector() string {
	return strings.Join(r.site.CardSelectors, ", ")
}

// withTab runs fn on a fresh tab and closes it on every path.
func (r *Run) withTab(fn func(page browser.Page) error) error {
	page, err := r.tabs.NewPage()
	if err != nil {
		r.stats.Fault(metrics.FaultTab)
		return fmt.Errorf("failed to open tab: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.logger.Warn("failed to close tab", "error", err)
		}
	}()

	return fn(page)
}

// load navigates page and counts a failure as a navigation fault.
func (r *Run) load(ctx context.Context, page browser.Page, url string) error {
	if err := r.nav.Load(ctx, page, url); err != nil {
		r.stats.Fault(metrics.FaultNavigation)
		return err
	}
	return nil
}

// Stats counts progress and contained faults of a run.
type Stats struct {
	categories atomic.Int64
	promotions atomic.Int64
	products   atomic.Int64
	batches    atomic.Int64
	faults     map[string]*atomic.Int64
	metrics    *metrics.Metrics
}

func NewStats(m *metrics.Metrics) *Stats {
	return &Stats{
		faults: map[string]*atomic.Int64{
			metrics.FaultNavigation: new(atomic.Int64),
			metrics.FaultExtraction: new(atomic.Int64),
			metrics.FaultTab:        new(atomic.Int64),
			metrics.FaultSink:       new(atomic.Int64),
		},
		metrics: m,
	}
}

func (s *Stats) Fault(kind string) {
	s.FaultN(kind, 1)
}

func (s *Stats) FaultN(kind string, n int) {
	if n <= 0 {
		return
	}
	if c, ok := s.faults[kind]; ok {
		c.Add(int64(n))
	}
	for i := 0; i < n; i++ {
		s.metrics.Fault(kind)
	}
}

func (s *Stats) extracted(source string, n int) {
	s.products.Add(int64(n))
	s.metrics.ProductsExtracted(source, n)
}

type Summary struct {
	Categories int            `json:"categories"`
	Promotions int            `json:"promotions"`
	Products   int            `json:"products"`
	Batches    int            `json:"batches"`
	Faults     map[string]int `json:"faults"`
}

func (s *Stats) Summary() Summary {
	faults := make(map[string]int, len(s.faults))
	for kind, c := range s.faults {
		faults[kind] = int(c.Load())
	}
	return Summary{
		Categories: int(s.categories.Load()),
		Promotions: int(s.promotions.Load()),
		Products:   int(s.products.Load()),
		Batches:    int(s.batches.Load()),
		Faults:     faults,
	}
}

// TotalFaults sums faults of every kind.
func (s Summary) TotalFaults() int {
	total := 0
	for _, n := range s.Faults {
		total += n
	}
	return total
}
