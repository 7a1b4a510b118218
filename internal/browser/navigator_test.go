package browser_test

import (
	"context"
	"testing"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/browser/browsertest"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pageURL = "https://www.amway.co.kr/shop/c/nutrition"

func fastOptions() browser.NavigatorOptions {
	opts := browser.DefaultNavigatorOptions()
	opts.RetryDelay = time.Millisecond
	opts.MaxRetryDelay = 2 * time.Millisecond
	opts.GrowthTimeout = 5 * time.Millisecond
	opts.PollInterval = time.Millisecond
	opts.SettleDelay = 0
	opts.IdleTimeout = 0
	return opts
}

func openPage(t *testing.T, doc *browsertest.Document) (*browsertest.Browser, *browsertest.Page) {
	t.Helper()
	b := browsertest.New()
	b.Serve(pageURL, doc)

	page, err := b.NewPage()
	require.NoError(t, err)
	_, err = page.Goto(pageURL)
	require.NoError(t, err)
	return b, page.(*browsertest.Page)
}

func TestPaginate(t *testing.T) {
	tests := []struct {
		name       string
		height     func(scrolls int) int
		iterations int
	}{
		{
			name:       "Endless growth is capped",
			height:     func(scrolls int) int { return 1000 + 500*scrolls },
			iterations: 15,
		},
		{
			name:       "Flat page stops after minimum iterations",
			height:     func(int) int { return 1000 },
			iterations: 4,
		},
		{
			name:       "Stops on first stall after growth",
			height:     func(scrolls int) int { return 1000 + 500*min(scrolls, 5) },
			iterations: 6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, page := openPage(t, &browsertest.Document{Height: tt.height})
			nav := browser.NewNavigator(fastOptions(), nil)

			n, err := nav.Paginate(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, tt.iterations, n)
			assert.Equal(t, tt.iterations, page.Scrolls())
		})
	}
}

func TestPaginateCanceled(t *testing.T) {
	_, page := openPage(t, &browsertest.Document{Height: func(int) int { return 1000 }})
	nav := browser.NewNavigator(fastOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := nav.Paginate(ctx, page)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoad(t *testing.T) {
	t.Run("Retries transient failure", func(t *testing.T) {
		b := browsertest.New()
		b.Serve(pageURL, &browsertest.Document{Fail: 1})
		page, err := b.NewPage()
		require.NoError(t, err)

		nav := browser.NewNavigator(fastOptions(), nil)
		require.NoError(t, nav.Load(context.Background(), page, pageURL))
		assert.Equal(t, 2, b.Gotos(pageURL))
	})

	t.Run("Gives up after max retries", func(t *testing.T) {
		b := browsertest.New()
		b.Serve(pageURL, &browsertest.Document{Fail: 10})
		page, err := b.NewPage()
		require.NoError(t, err)

		nav := browser.NewNavigator(fastOptions(), nil)
		err = nav.Load(context.Background(), page, pageURL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), pageURL)
		assert.Equal(t, 3, b.Gotos(pageURL))
	})
}

func TestAnchors(t *testing.T) {
	expected := []models.Anchor{
		{Text: "영양건강", Href: "/shop/c/nutrition", Visible: true},
		{Text: "프로모션 기간 : 상시", Href: "javascript:void(0)", Code: "N1", NoticeType: "PROMO"},
	}
	_, page := openPage(t, &browsertest.Document{Anchors: expected})
	nav := browser.NewNavigator(fastOptions(), nil)

	anchors, err := nav.Anchors(page, "a")
	require.NoError(t, err)
	assert.Equal(t, expected, anchors)
}

func TestWaitFor(t *testing.T) {
	nav := browser.NewNavigator(fastOptions(), nil)

	_, page := openPage(t, &browsertest.Document{})
	assert.True(t, nav.WaitFor(page, ".product_item", time.Second))

	_, page = openPage(t, &browsertest.Document{NoCards: true})
	assert.False(t, nav.WaitFor(page, ".product_item", time.Second))
}
