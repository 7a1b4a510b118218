package reconcile

import (
	"sort"
	"strings"
	"time"

	"github.com/maltedev/catalog-sync/internal/models"
)

const TimestampLayout = "2006-01-02 15:04"

// Row is a persisted catalog row. Rows are keyed by product name.
type Row struct {
	Category    string `json:"category"`
	Tags        string `json:"tags"`
	Name        string `json:"name"`
	Image       string `json:"image"`
	Link        string `json:"link"`
	Description string `json:"description"`
	Price       string `json:"price"`
	PV          string `json:"pv"`
	BV          string `json:"bv"`
}

type Enrichment struct {
	Tags        string
	Description string
}

// Shadow is the state known before the current run.
type Shadow struct {
	Prices     map[string]string
	Enrichment map[string]Enrichment
}

func NewShadow(rows []Row) *Shadow {
	s := &Shadow{
		Prices:     make(map[string]string, len(rows)),
		Enrichment: make(map[string]Enrichment, len(rows)),
	}
	for _, r := range rows {
		if r.Name == "" {
			continue
		}
		s.Prices[r.Name] = CleanPrice(r.Price)
		if r.Tags != "" || r.Description != "" {
			s.Enrichment[r.Name] = Enrichment{Tags: r.Tags, Description: r.Description}
		}
	}
	return s
}

// RowFromProduct converts a crawled product into a row with normalised
// price and point values.
func RowFromProduct(p *models.Product) Row {
	return Row{
		Category: p.Category,
		Name:     p.Name,
		Image:    p.Image,
		Link:     p.Link,
		Price:    CleanPrice(p.Price),
		PV:       CleanPoints(p.PV),
		BV:       CleanPoints(p.BV),
	}
}

// RowsFromSnapshot turns a saved snapshot into rows sorted by name.
func RowsFromSnapshot(products models.Snapshot) []Row {
	rows := make([]Row, 0, len(products))
	for _, p := range products.Products() {
		rows = append(rows, RowFromProduct(p))
	}
	return rows
}

var (
	priceReplacer  = strings.NewReplacer("원", "", ",", "", " ", "")
	pointsReplacer = strings.NewReplacer("PV", "", "BV", "", ":", "", ",", "", " ", "")
)

// CleanPrice strips the currency suffix and thousands separators.
func CleanPrice(raw string) string {
	if v := priceReplacer.Replace(strings.TrimSpace(raw)); v != "" {
		return v
	}
	return "0"
}

// CleanPoints strips point labels and separators.
func CleanPoints(raw string) string {
	if v := pointsReplacer.Replace(strings.TrimSpace(raw)); v != "" {
		return v
	}
	return "0"
}

// Diff classifies the difference between the previous and current name to
// price maps. Price changes are only reported when both prices are known.
func Diff(previous, current map[string]string, now time.Time) []models.Change {
	var changes []models.Change

	for _, name := range sortedKeys(current) {
		price := current[name]
		old, existed := previous[name]
		switch {
		case !existed:
			changes = append(changes, models.Change{
				Timestamp: now,
				Kind:      models.ChangeNew,
				Name:      name,
				Detail:    "new product",
				NewValue:  price,
			})
		case knownPrice(old) && knownPrice(price) && old != price:
			changes = append(changes, models.Change{
				Timestamp: now,
				Kind:      models.ChangePriceChanged,
				Name:      name,
				Detail:    "price changed",
				OldValue:  old,
				NewValue:  price,
			})
		}
	}

	for _, name := range sortedKeys(previous) {
		if _, ok := current[name]; ok {
			continue
		}
		changes = append(changes, models.Change{
			Timestamp: now,
			Kind:      models.ChangeRemoved,
			Name:      name,
			Detail:    "removed or discontinued",
			OldValue:  previous[name],
			NewValue:  "-",
		})
	}

	return changes
}

func knownPrice(p string) bool {
	return p != "" && p != "0"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
