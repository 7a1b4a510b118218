package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/playwright-community/playwright-go"
)

const (
	scrollHeightJS = `() => document.body.scrollHeight`
	scrollBottomJS = `() => window.scrollTo(0, document.body.scrollHeight)`
	scrollByJS     = `(delta) => window.scrollBy(0, delta)`
	clickVisibleJS = `(selector) => {
		let clicked = 0;
		document.querySelectorAll(selector).forEach(el => {
			const style = window.getComputedStyle(el);
			if (el.offsetParent !== null && style.visibility !== 'hidden' && style.display !== 'none') {
				el.click();
				clicked++;
			}
		});
		return clicked;
	}`
	collectAnchorsJS = `(selector) => Array.from(document.querySelectorAll(selector)).map(a => ({
		text: (a.innerText || a.textContent || '').trim(),
		href: a.getAttribute('href') || '',
		visible: !!(a.offsetWidth || a.offsetHeight || a.getClientRects().length),
		code: a.getAttribute('data-code') || '',
		noticeType: a.getAttribute('data-notice-type') || ''
	}))`
)

type NavigatorOptions struct {
	NavigationTimeout time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	MaxRetryDelay     time.Duration

	// MaxScrolls bounds the pagination loop regardless of page growth.
	MaxScrolls int
	// MinScrolls is the number of iterations before a stalled height ends
	// pagination.
	MinScrolls    int
	GrowthTimeout time.Duration
	PollInterval  time.Duration
	SettleDelay   time.Duration
	IdleTimeout   time.Duration
	LoadMore      string
}

func DefaultNavigatorOptions() NavigatorOptions {
	return NavigatorOptions{
		NavigationTimeout: 60 * time.Second,
		MaxRetries:        2,
		RetryDelay:        2 * time.Second,
		MaxRetryDelay:     10 * time.Second,
		MaxScrolls:        15,
		MinScrolls:        3,
		GrowthTimeout:     2 * time.Second,
		PollInterval:      100 * time.Millisecond,
		SettleDelay:       200 * time.Millisecond,
		IdleTimeout:       time.Second,
		LoadMore:          "a.btn_more, button.btn_more",
	}
}

// Navigator loads pages and drives lazy-loaded listings to completion.
type Navigator struct {
	opts   NavigatorOptions
	retry  retrypolicy.RetryPolicy[any]
	logger *slog.Logger
}

func NewNavigator(opts NavigatorOptions, logger *slog.Logger) *Navigator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxScrolls <= 0 {
		opts.MaxScrolls = 15
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Millisecond
	}
	if opts.MaxRetryDelay <= opts.RetryDelay {
		opts.MaxRetryDelay = 2 * opts.RetryDelay
	}

	retry := retrypolicy.NewBuilder[any]().
		WithBackoff(opts.RetryDelay, opts.MaxRetryDelay).
		WithMaxRetries(opts.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		}).
		Build()

	return &Navigator{
		opts:   opts,
		retry:  retry,
		logger: logger.With("component", "navigator"),
	}
}

// Load navigates to url and waits for the network to go idle, retrying
// with backoff.
func (n *Navigator) Load(ctx context.Context, page Page, url string) error {
	attempt := 0
	err := failsafe.With[any](n.retry).WithContext(ctx).Run(func() error {
		attempt++
		if attempt > 1 {
			n.logger.Info("retrying navigation", "url", url, "attempt", attempt)
		}
		_, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateNetworkidle,
			Timeout:   playwright.Float(float64(n.opts.NavigationTimeout.Milliseconds())),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", url, err)
	}
	return nil
}

// WaitFor waits for selector to appear. A timeout is reported as false.
func (n *Navigator) WaitFor(page Page, selector string, timeout time.Duration) bool {
	_, err := page.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		n.logger.Debug("selector did not appear", "selector", selector, "error", err)
		return false
	}
	return true
}

// Paginate scrolls a lazy-loaded listing until its height stops growing
// or MaxScrolls iterations have run. It returns the iterations executed.
func (n *Navigator) Paginate(ctx context.Context, page Page) (int, error) {
	prev, err := n.scrollHeight(page)
	if err != nil {
		return 0, err
	}

	for i := 0; i < n.opts.MaxScrolls; i++ {
		if _, err := page.Evaluate(scrollBottomJS); err != nil {
			return i, fmt.Errorf("failed to scroll: %w", err)
		}

		if err := n.waitForGrowth(ctx, page, prev); err != nil {
			return i + 1, err
		}
		if err := sleep(ctx, n.opts.SettleDelay); err != nil {
			return i + 1, err
		}

		if n.clickLoadMore(page) > 0 {
			err := page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
				State:   playwright.LoadStateNetworkidle,
				Timeout: playwright.Float(float64(n.opts.IdleTimeout.Milliseconds())),
			})
			if err != nil {
				if err := sleep(ctx, n.opts.IdleTimeout); err != nil {
					return i + 1, err
				}
			}
		}

		cur, err := n.scrollHeight(page)
		if err != nil {
			return i + 1, err
		}
		if cur <= prev && i >= n.opts.MinScrolls {
			n.logger.Debug("page stopped growing", "iterations", i+1, "height", cur)
			return i + 1, nil
		}
		prev = cur
	}

	return n.opts.MaxScrolls, nil
}

// Scroll scrolls by delta pixels and waits settle.
func (n *Navigator) Scroll(ctx context.Context, page Page, delta int, settle time.Duration) error {
	if _, err := page.Evaluate(scrollByJS, delta); err != nil {
		return fmt.Errorf("failed to scroll: %w", err)
	}
	return sleep(ctx, settle)
}

// Anchors returns every element matching selector as rendered anchors.
func (n *Navigator) Anchors(page Page, selector string) ([]models.Anchor, error) {
	result, err := page.Evaluate(collectAnchorsJS, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to collect anchors: %w", err)
	}

	var anchors []models.Anchor
	if err := decode(result, &anchors); err != nil {
		return nil, fmt.Errorf("failed to decode anchors: %w", err)
	}
	return anchors, nil
}

func (n *Navigator) waitForGrowth(ctx context.Context, page Page, prev int) error {
	deadline := time.Now().Add(n.opts.GrowthTimeout)
	for time.Now().Before(deadline) {
		h, err := n.scrollHeight(page)
		if err != nil {
			return err
		}
		if h > prev {
			return nil
		}
		if err := sleep(ctx, n.opts.PollInterval); err != nil {
			return err
		}
	}
	return nil
}

func (n *Navigator) clickLoadMore(page Page) int {
	if n.opts.LoadMore == "" {
		return 0
	}
	result, err := page.Evaluate(clickVisibleJS, n.opts.LoadMore)
	if err != nil {
		n.logger.Debug("load more click failed", "error", err)
		return 0
	}
	clicked, _ := toInt(result)
	return clicked
}

func (n *Navigator) scrollHeight(page Page) (int, error) {
	result, err := page.Evaluate(scrollHeightJS)
	if err != nil {
		return 0, fmt.Errorf("failed to read scroll height: %w", err)
	}
	h, ok := toInt(result)
	if !ok {
		return 0, fmt.Errorf("unexpected scroll height %v", result)
	}
	return h, nil
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func decode(v interface{}, out interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
