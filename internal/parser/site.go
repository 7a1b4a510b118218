package parser

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/maltedev/catalog-sync/internal/models"
)

// FieldRule lists the selectors tried in order for a single card field.
// Attr selects an attribute instead of the element text.
type FieldRule struct {
	Selectors []string
	Attr      string
	Default   string
}

// PointSource is an element shape carrying loyalty point attributes.
type PointSource struct {
	Selector string
	PVAttr   string
	BVAttr   string
}

type StatusMarker struct {
	Marker string
	Status models.Status
}

// Site describes the markup and URL layout of the crawled shop.
type Site struct {
	Origin          string
	ShopPath        string
	ShopRoot        string
	ListingPath     string
	ProductMarker   string
	PromotionIndex  string
	PromotionDetail string

	CategoryLabels   []string
	FallbackCategory string

	CardSelectors []string
	LoadMore      string

	Name  FieldRule
	Price FieldRule
	Link  FieldRule
	Image FieldRule

	PointSources []PointSource
	PVPattern    *regexp.Regexp
	BVPattern    *regexp.Regexp

	// StatusMarkers are checked in order, first match wins.
	StatusMarkers []StatusMarker

	SubscriptionVariants []string
	SubscriptionLabel    string

	EventLabel       string
	EventProductName string

	PromotionMarkers []string
	PromotionTabs    []string
}

func DefaultSite() *Site {
	return &Site{
		Origin:          "https://www.amway.co.kr",
		ShopPath:        "/shop/",
		ShopRoot:        "/shop/c/shop",
		ListingPath:     "/shop/c/",
		ProductMarker:   "/p/",
		PromotionIndex:  "/notifications/promotion",
		PromotionDetail: "/notifications/promotion/detail",

		CategoryLabels: []string{
			"영양건강", "뷰티", "퍼스널 케어", "홈리빙", "원포원",
			"웰니스", "플러스 쇼핑", "장바구니 스마트 오더", "스마트 오더",
		},
		FallbackCategory: "전체상품",

		CardSelectors: []string{".product_item", ".box_product"},
		LoadMore:      "a.btn_more, button.btn_more",

		Name:  FieldRule{Selectors: []string{".text_product-title", ".product_name"}, Default: "Unknown Name"},
		Price: FieldRule{Selectors: []string{".text_price-data", ".price"}, Default: "0"},
		Link:  FieldRule{Selectors: []string{"a"}, Attr: "href"},
		Image: FieldRule{Selectors: []string{"img"}, Attr: "src"},

		PointSources: []PointSource{
			{Selector: "input[name='productTealiumTagInfo']", PVAttr: "data-product-point-value", BVAttr: "data-product-business-volume"},
			{Selector: ".js-addtocart-v2", PVAttr: "data-product-point-value", BVAttr: "data-product-business-volume"},
		},
		PVPattern: regexp.MustCompile(`PV\s*:\s*([\d,]+)`),
		BVPattern: regexp.MustCompile(`BV\s*:\s*([\d,]+)`),

		StatusMarkers: []StatusMarker{
			{Marker: "일시품절", Status: models.StatusTemporarilyOutOfStock},
			{Marker: "품절", Status: models.StatusOutOfStock},
			{Marker: "단종", Status: models.StatusDiscontinued},
		},

		SubscriptionVariants: []string{"스마트 오더", "스마트오더"},
		SubscriptionLabel:    "스마트 오더",

		EventLabel:       "이벤트",
		EventProductName: "이벤트 상품",

		PromotionMarkers: []string{"기간 :", "프로모션"},
		PromotionTabs:    []string{"진행중인", "종료된"},
	}
}

// AbsoluteURL prefixes root-relative references with the origin. Absolute
// URLs and empty strings are returned unchanged.
func (s *Site) AbsoluteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "//"):
		return "https:" + raw
	case strings.HasPrefix(raw, "/"):
		return strings.TrimRight(s.Origin, "/") + raw
	default:
		return raw
	}
}

// PromotionDetailURL builds a detail link for list entries that carry only
// data attributes.
func (s *Site) PromotionDetailURL(code, noticeType string) string {
	q := url.Values{}
	q.Set("notificationCode", code)
	q.Set("noticeType", noticeType)
	q.Set("searchPromotionStatus", "progress")
	return s.AbsoluteURL(s.PromotionDetail) + "?" + q.Encode()
}

// ClassifyStatus maps the rendered card text to a stock status.
func (s *Site) ClassifyStatus(text string) models.Status {
	for _, m := range s.StatusMarkers {
		if strings.Contains(text, m.Marker) {
			return m.Status
		}
	}
	return models.StatusOnSale
}

// IsSubscription reports whether a product name marks a subscription order.
func (s *Site) IsSubscription(name string) bool {
	for _, v := range s.SubscriptionVariants {
		if v != "" && strings.Contains(name, v) {
			return true
		}
	}
	return false
}

// FallbackDescriptor is crawled when no category could be discovered.
func (s *Site) FallbackDescriptor() models.Category {
	return models.Category{Name: s.FallbackCategory, URL: s.AbsoluteURL(s.ShopRoot)}
}
