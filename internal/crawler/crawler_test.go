package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/maltedev/catalog-sync/internal/browser"
	"github.com/maltedev/catalog-sync/internal/browser/browsertest"
	"github.com/maltedev/catalog-sync/internal/metrics"
	"github.com/maltedev/catalog-sync/internal/models"
	"github.com/maltedev/catalog-sync/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const origin = "https://www.amway.co.kr"

var (
	shopRoot       = origin + "/shop/c/shop"
	promotionIndex = origin + "/notifications/promotion"
)

func card(id, name, price string) string {
	var b strings.Builder
	b.WriteString(`<div class="product_item">`)
	fmt.Fprintf(&b, `<a href="/shop/p/%s"><img src="/img/%s.jpg"></a>`, id, id)
	fmt.Fprintf(&b, `<p class="text_product-title">%s</p>`, name)
	if price != "" {
		fmt.Fprintf(&b, `<span class="text_price-data">%s</span>`, price)
	}
	b.WriteString(`</div>`)
	return b.String()
}

func page(cards ...string) string {
	return "<html><body>" + strings.Join(cards, "\n") + "</body></html>"
}

func testOptions() Options {
	return Options{
		CategoryConcurrency:  3,
		PromotionConcurrency: 5,
		CardWait:             10 * time.Millisecond,
		ListScroll:           5000,
		DetailScroll:         3000,
	}
}

func testNavigator() *browser.Navigator {
	opts := browser.DefaultNavigatorOptions()
	opts.MaxRetries = 0
	opts.GrowthTimeout = 2 * time.Millisecond
	opts.PollInterval = time.Millisecond
	opts.SettleDelay = 0
	opts.IdleTimeout = 0
	return browser.NewNavigator(opts, nil)
}

func testRun(b *browsertest.Browser) *Run {
	return NewRun(b, testNavigator(), parser.NewExtractor(nil), testOptions(), nil, nil)
}

type memorySnapshots struct {
	mu    sync.Mutex
	saved []models.Snapshot
}

func (m *memorySnapshots) Save(products models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, products)
	return nil
}

type batchRecorder struct {
	mu      sync.Mutex
	batches []models.Snapshot
	err     error
}

func (r *batchRecorder) sink(_ context.Context, batch models.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	return r.err
}

func assertTabsClosed(t *testing.T, b *browsertest.Browser) {
	t.Helper()
	opened, closed, _ := b.Stats()
	assert.Equal(t, opened, closed, "every opened tab must be closed")
}

func TestCategoryCrawler(t *testing.T) {
	t.Run("Three cards with one missing price", func(t *testing.T) {
		b := browsertest.New()
		url := origin + "/shop/c/nutrition"
		b.Serve(url, &browsertest.Document{HTML: page(
			card("1", "더블엑스", "89,600원"),
			card("2", "오메가", ""),
			card("3", "프로틴", "52,000원"),
		)})

		run := testRun(b)
		products := NewCategoryCrawler(run).Crawl(context.Background(), models.Category{Name: "영양건강", URL: url})

		require.Len(t, products, 3)
		assert.Equal(t, "89,600원", products["1"].Price)
		assert.Equal(t, "0", products["2"].Price)
		assert.Equal(t, "52,000원", products["3"].Price)
		assert.Equal(t, "영양건강", products["2"].Category)
		assert.Equal(t, 1, run.Stats().Summary().Categories)
		assertTabsClosed(t, b)
	})

	t.Run("Navigation failure yields empty result", func(t *testing.T) {
		b := browsertest.New()
		run := testRun(b)

		products := NewCategoryCrawler(run).Crawl(context.Background(), models.Category{Name: "뷰티", URL: origin + "/missing"})

		assert.Empty(t, products)
		assert.Equal(t, 1, run.Stats().Summary().Faults[metrics.FaultNavigation])
		assertTabsClosed(t, b)
	})

	t.Run("No cards is not an error", func(t *testing.T) {
		b := browsertest.New()
		url := origin + "/shop/c/empty"
		b.Serve(url, &browsertest.Document{HTML: page(), NoCards: true})
		run := testRun(b)

		products := NewCategoryCrawler(run).Crawl(context.Background(), models.Category{Name: "홈리빙", URL: url})

		assert.Empty(t, products)
		assert.Equal(t, 0, run.Stats().Summary().TotalFaults())
		assertTabsClosed(t, b)
	})

	t.Run("Tab failure yields empty result", func(t *testing.T) {
		b := browsertest.New()
		b.NewPageErr = errors.New("target closed")
		run := testRun(b)

		products := NewCategoryCrawler(run).Crawl(context.Background(), models.Category{Name: "뷰티", URL: origin + "/shop/c/beauty"})

		assert.Empty(t, products)
		assert.Equal(t, 1, run.Stats().Summary().Faults[metrics.FaultTab])
	})
}

func TestDiscoverer(t *testing.T) {
	b := browsertest.New()
	b.Serve(shopRoot, &browsertest.Document{Anchors: []models.Anchor{
		{Text: "영양건강", Href: "/shop/c/nutrition", Visible: true},
		{Text: "뷰티", Href: "/shop/c/beauty", Visible: true},
		{Text: "로그인", Href: "/login", Visible: true},
	}})

	categories := NewDiscoverer(testRun(b)).Discover(context.Background())

	assert.Equal(t, []models.Category{
		{Name: "영양건강", URL: origin + "/shop/c/nutrition"},
		{Name: "뷰티", URL: origin + "/shop/c/beauty"},
	}, categories)
	assertTabsClosed(t, b)
}

func TestPromotionCrawler(t *testing.T) {
	t.Run("First listed promotion wins on duplicate id", func(t *testing.T) {
		b := browsertest.New()
		b.Serve(promotionIndex, &browsertest.Document{Anchors: []models.Anchor{
			{Text: "첫번째 프로모션\n기간 : 10.01 ~ 10.31", Href: "/notifications/promotion/detail?notificationCode=A"},
			{Text: "두번째 프로모션\n기간 : 10.01 ~ 10.31", Href: "/notifications/promotion/detail?notificationCode=B"},
			{Text: "진행중인 프로모션", Href: "/notifications/promotion"},
		}})
		// The first promotion loads slower so the second completes first.
		b.Serve(origin+"/notifications/promotion/detail?notificationCode=A", &browsertest.Document{
			HTML:  page(card("100", "첫번째 구성", "10,000원")),
			Delay: 30 * time.Millisecond,
		})
		b.Serve(origin+"/notifications/promotion/detail?notificationCode=B", &browsertest.Document{
			HTML: page(card("100", "두번째 구성", "9,000원"), card("200", "단독 구성", "5,000원")),
		})

		run := testRun(b)
		products := NewPromotionCrawler(run).Crawl(context.Background())

		require.Len(t, products, 2)
		assert.Equal(t, "첫번째 구성", products["100"].Name)
		assert.Equal(t, models.StatusInProgress, products["100"].Status)
		assert.Equal(t, "이벤트", products["200"].Category)
		assert.Equal(t, 2, run.Stats().Summary().Promotions)
		assertTabsClosed(t, b)
	})

	t.Run("Falls back to product links", func(t *testing.T) {
		b := browsertest.New()
		b.Serve(promotionIndex, &browsertest.Document{Anchors: []models.Anchor{
			{Text: "링크형 프로모션 안내", Href: "javascript:void(0)", Code: "C", NoticeType: "EVENT"},
		}})
		detail := parser.DefaultSite().PromotionDetailURL("C", "EVENT")
		b.Serve(detail, &browsertest.Document{
			HTML: `<a href="/shop/c/beauty">뷰티</a><a href="/shop/nutrilite/p/555">더블엑스 증정</a>`,
		})

		products := NewPromotionCrawler(testRun(b)).Crawl(context.Background())

		require.Len(t, products, 1)
		assert.Equal(t, "더블엑스 증정", products["555"].Name)
		assert.Equal(t, "0", products["555"].Price)
		assertTabsClosed(t, b)
	})

	t.Run("Failing detail does not affect siblings", func(t *testing.T) {
		b := browsertest.New()
		b.Serve(promotionIndex, &browsertest.Document{Anchors: []models.Anchor{
			{Text: "깨진 프로모션 페이지", Href: "/notifications/promotion/detail?notificationCode=X"},
			{Text: "정상 프로모션 페이지", Href: "/notifications/promotion/detail?notificationCode=Y"},
		}})
		b.Serve(origin+"/notifications/promotion/detail?notificationCode=Y", &browsertest.Document{
			HTML: page(card("300", "정상 상품", "1,000원")),
		})

		run := testRun(b)
		products := NewPromotionCrawler(run).Crawl(context.Background())

		require.Len(t, products, 1)
		assert.Contains(t, products, "300")
		assert.Equal(t, 1, run.Stats().Summary().Faults[metrics.FaultNavigation])
		assertTabsClosed(t, b)
	})

	t.Run("Concurrency is capped", func(t *testing.T) {
		b := browsertest.New()
		var anchors []models.Anchor
		for i := 0; i < 12; i++ {
			href := fmt.Sprintf("/notifications/promotion/detail?notificationCode=P%d", i)
			anchors = append(anchors, models.Anchor{Text: fmt.Sprintf("프로모션 %d 안내", i), Href: href})
			b.Serve(origin+href, &browsertest.Document{
				HTML:  page(card(fmt.Sprint(1000+i), "상품", "1,000원")),
				Delay: 15 * time.Millisecond,
			})
		}
		b.Serve(promotionIndex, &browsertest.Document{Anchors: anchors})

		products := NewPromotionCrawler(testRun(b)).Crawl(context.Background())

		assert.Len(t, products, 12)
		_, _, maxActive := b.Stats()
		assert.LessOrEqual(t, maxActive, 5)
		assert.Greater(t, maxActive, 1)
		assertTabsClosed(t, b)
	})
}

func newTestOrchestrator(b *browsertest.Browser, snapshots SnapshotSaver) *Orchestrator {
	launch := func() (Browser, error) { return b, nil }
	return NewOrchestrator(launch, testNavigator(), parser.NewExtractor(nil), snapshots, testOptions(), nil, nil)
}

func TestOrchestratorRun(t *testing.T) {
	b := browsertest.New()
	b.Serve(shopRoot, &browsertest.Document{Anchors: []models.Anchor{
		{Text: "영양건강", Href: "/shop/c/nutrition", Visible: true},
		{Text: "뷰티", Href: "/shop/c/beauty", Visible: true},
	}})
	b.Serve(origin+"/shop/c/nutrition", &browsertest.Document{
		HTML:  page(card("1", "더블엑스", "89,600원"), card("shared", "영양 세트", "10,000원")),
		Delay: 20 * time.Millisecond,
	})
	b.Serve(origin+"/shop/c/beauty", &browsertest.Document{
		HTML: page(card("2", "크림", "45,000원"), card("shared", "뷰티 세트", "12,000원")),
	})
	b.Serve(promotionIndex, &browsertest.Document{Anchors: []models.Anchor{
		{Text: "가을 프로모션 안내", Href: "/notifications/promotion/detail?notificationCode=E"},
	}})
	b.Serve(origin+"/notifications/promotion/detail?notificationCode=E", &browsertest.Document{
		HTML: page(card("1", "더블엑스 기획", "80,000원"), card("9", "증정품", "0")),
	})

	snapshots := &memorySnapshots{}
	rec := &batchRecorder{}
	result, err := newTestOrchestrator(b, snapshots).Run(context.Background(), rec.sink)
	require.NoError(t, err)

	products := result.Products
	require.Len(t, products, 4)
	assert.Equal(t, "뷰티 세트", products["shared"].Name, "later category wins")
	assert.Equal(t, "더블엑스 기획", products["1"].Name, "promotions merge last")
	assert.Equal(t, "이벤트", products["9"].Category)

	assert.Len(t, rec.batches, 3)
	require.Len(t, snapshots.saved, 1)
	assert.Equal(t, products, snapshots.saved[0])

	assert.Equal(t, 2, result.Summary.Categories)
	assert.Equal(t, 1, result.Summary.Promotions)
	assert.Equal(t, 3, result.Summary.Batches)
	assertTabsClosed(t, b)
}

func TestOrchestratorFallbackCategory(t *testing.T) {
	b := browsertest.New()
	b.Serve(shopRoot, &browsertest.Document{
		Anchors: []models.Anchor{{Text: "고객센터", Href: "/cs", Visible: true}},
		HTML:    page(card("7", "전체 상품", "7,000원")),
	})

	rec := &batchRecorder{}
	result, err := newTestOrchestrator(b, nil).Run(context.Background(), rec.sink)
	require.NoError(t, err)

	require.Contains(t, result.Products, "7")
	assert.Equal(t, "전체상품", result.Products["7"].Category)
	assert.Equal(t, 1, result.Summary.Faults[metrics.FaultNavigation], "promotion index is missing")
}

func TestOrchestratorSinkErrorDoesNotAbort(t *testing.T) {
	b := browsertest.New()
	b.Serve(shopRoot, &browsertest.Document{Anchors: []models.Anchor{
		{Text: "영양건강", Href: "/shop/c/nutrition", Visible: true},
		{Text: "뷰티", Href: "/shop/c/beauty", Visible: true},
	}})
	b.Serve(origin+"/shop/c/nutrition", &browsertest.Document{HTML: page(card("1", "a", "1"))})
	b.Serve(origin+"/shop/c/beauty", &browsertest.Document{HTML: page(card("2", "b", "2"))})

	snapshots := &memorySnapshots{}
	rec := &batchRecorder{err: errors.New("sheet quota exceeded")}
	result, err := newTestOrchestrator(b, snapshots).Run(context.Background(), rec.sink)
	require.NoError(t, err)

	assert.Len(t, result.Products, 2)
	assert.Len(t, rec.batches, 2)
	assert.Equal(t, 2, result.Summary.Faults[metrics.FaultSink])
	assert.Equal(t, 0, result.Summary.Batches)
	assert.Len(t, snapshots.saved, 1)
}

func TestOrchestratorCategoryConcurrency(t *testing.T) {
	b := browsertest.New()
	var anchors []models.Anchor
	labels := parser.DefaultSite().CategoryLabels
	for i, label := range labels {
		href := fmt.Sprintf("/shop/c/cat-%d", i)
		anchors = append(anchors, models.Anchor{Text: label, Href: href, Visible: true})
		b.Serve(origin+href, &browsertest.Document{
			HTML:  page(card(fmt.Sprint(i), label, "1,000원")),
			Delay: 15 * time.Millisecond,
		})
	}
	b.Serve(shopRoot, &browsertest.Document{Anchors: anchors})

	result, err := newTestOrchestrator(b, nil).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, result.Products, len(labels))
	_, _, maxActive := b.Stats()
	assert.LessOrEqual(t, maxActive, 3)
	assertTabsClosed(t, b)
}

func TestOrchestratorLaunchFailure(t *testing.T) {
	launch := func() (Browser, error) { return nil, errors.New("chromium not installed") }
	o := NewOrchestrator(launch, testNavigator(), parser.NewExtractor(nil), nil, testOptions(), nil, nil)

	result, err := o.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrBrowserLaunch)
	assert.Nil(t, result)
}
