package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/maltedev/catalog-sync/internal/models"
)

var ErrNoCard = errors.New("no product card")

type Extractor struct {
	site *Site
}

func NewExtractor(site *Site) *Extractor {
	if site == nil {
		site = DefaultSite()
	}
	return &Extractor{site: site}
}

func (e *Extractor) Site() *Site {
	return e.site
}

// ExtractCard builds a product from a single listing card. A card that
// cannot be read yields an error and no product; it never panics.
func (e *Extractor) ExtractCard(card *goquery.Selection, category string) (product *models.Product, err error) {
	defer func() {
		if r := recover(); r != nil {
			product = nil
			err = fmt.Errorf("extract card: %v", r)
		}
	}()

	if card == nil || card.Length() == 0 {
		return nil, ErrNoCard
	}

	name := e.field(card, e.site.Name)
	link := e.site.AbsoluteURL(e.field(card, e.site.Link))
	text := card.Text()
	pv, bv := e.points(card, text)

	if e.site.IsSubscription(name) {
		category = e.site.SubscriptionLabel
	}

	return &models.Product{
		ID:       ProductID(link, name),
		Name:     name,
		Price:    e.field(card, e.site.Price),
		Status:   e.site.ClassifyStatus(text),
		Link:     link,
		Image:    e.site.AbsoluteURL(e.field(card, e.site.Image)),
		Category: category,
		PV:       pv,
		BV:       bv,
	}, nil
}

// ExtractCards extracts every card on a listing page. Cards sharing an id
// overwrite earlier ones. The second return value counts skipped cards.
func (e *Extractor) ExtractCards(html, category string) (models.Snapshot, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	products := make(models.Snapshot)
	skipped := 0
	e.cards(doc).Each(func(_ int, card *goquery.Selection) {
		p, err := e.ExtractCard(card, category)
		if err != nil {
			skipped++
			return
		}
		products[p.ID] = p
	})

	return products, skipped, nil
}

// ExtractPromotionCards extracts cards on a promotion detail page. Every
// product is placed in the event category and marked in progress; cards
// without a shop link are ignored and the first card per id wins.
func (e *Extractor) ExtractPromotionCards(html string) (models.Snapshot, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse HTML: %w", err)
	}

	products := make(models.Snapshot)
	skipped := 0
	e.cards(doc).Each(func(_ int, card *goquery.Selection) {
		p, err := e.ExtractCard(card, e.site.EventLabel)
		if err != nil {
			skipped++
			return
		}
		if p.Link == "" || !strings.Contains(p.Link, e.site.ShopPath) {
			return
		}
		p.Category = e.site.EventLabel
		p.Status = models.StatusInProgress
		if _, exists := products[p.ID]; !exists {
			products[p.ID] = p
		}
	})

	return products, skipped, nil
}

// ScanProductLinks collects product detail links from a page without
// product cards. Category listings are excluded.
func (e *Extractor) ScanProductLinks(html string) (models.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	products := make(models.Snapshot)
	doc.Find(fmt.Sprintf("a[href*='%s']", e.site.ShopPath)).Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if strings.Contains(href, e.site.ListingPath) {
			return
		}

		link := e.site.AbsoluteURL(href)
		id := ProductID(link, "")
		if !strings.Contains(link, e.site.ProductMarker) && !isDigits(id) {
			return
		}
		if _, exists := products[id]; exists {
			return
		}

		name := strings.TrimSpace(a.Text())
		if name == "" {
			name = strings.TrimSpace(a.Find("img").AttrOr("alt", ""))
		}
		if name == "" {
			name = e.site.EventProductName
		}

		products[id] = &models.Product{
			ID:       id,
			Name:     name,
			Price:    "0",
			Status:   models.StatusInProgress,
			Link:     link,
			Category: e.site.EventLabel,
			PV:       "0",
			BV:       "0",
		}
	})

	return products, nil
}

func (e *Extractor) cards(doc *goquery.Document) *goquery.Selection {
	for _, sel := range e.site.CardSelectors {
		if cards := doc.Find(sel); cards.Length() > 0 {
			return cards
		}
	}
	return doc.Find(strings.Join(e.site.CardSelectors, ", "))
}

func (e *Extractor) field(card *goquery.Selection, rule FieldRule) string {
	for _, sel := range rule.Selectors {
		el := card.Find(sel).First()
		if el.Length() == 0 {
			continue
		}

		var value string
		if rule.Attr != "" {
			value = el.AttrOr(rule.Attr, "")
		} else {
			value = el.Text()
		}
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return rule.Default
}

func (e *Extractor) points(card *goquery.Selection, text string) (string, string) {
	pv, bv := "0", "0"

	for _, src := range e.site.PointSources {
		el := card.Find(src.Selector).First()
		if el.Length() == 0 {
			continue
		}
		pv = NormalizePoints(el.AttrOr(src.PVAttr, ""))
		bv = NormalizePoints(el.AttrOr(src.BVAttr, ""))
		break
	}

	if pv == "0" {
		if m := e.site.PVPattern.FindStringSubmatch(text); m != nil {
			pv = strings.ReplaceAll(m[1], ",", "")
		}
	}
	if bv == "0" {
		if m := e.site.BVPattern.FindStringSubmatch(text); m != nil {
			bv = strings.ReplaceAll(m[1], ",", "")
		}
	}

	return pv, bv
}

// NormalizePoints truncates a decimal point value to an integer string.
// Unparseable input yields "0".
func NormalizePoints(raw string) string {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return "0"
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return "0"
	}
	return strconv.FormatInt(int64(f), 10)
}

// ProductID returns the last path segment of link, or name when there is
// no link.
func ProductID(link, name string) string {
	if link == "" {
		return name
	}

	path := link
	if u, err := url.Parse(link); err == nil && u.Path != "" {
		path = u.Path
	}
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if path == "" {
		return name
	}
	return path
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
