package models

import (
	"sort"
	"time"
)

type Status string

const (
	StatusOnSale                Status = "on_sale"
	StatusTemporarilyOutOfStock Status = "temporarily_out_of_stock"
	StatusOutOfStock            Status = "out_of_stock"
	StatusDiscontinued          Status = "discontinued"
	// StatusInProgress is only assigned to products found on promotion pages.
	StatusInProgress Status = "in_progress"
)

type Product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Status      Status `json:"status"`
	Link        string `json:"link"`
	Image       string `json:"image"`
	Category    string `json:"category"`
	SubCategory string `json:"sub_category"`
	PV          string `json:"pv"`
	BV          string `json:"bv"`
}

type Category struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Promotion struct {
	Text string `json:"text"`
	URL  string `json:"url"`
}

// Snapshot maps product id to product.
type Snapshot map[string]*Product

// Merge copies other into s, replacing entries with the same id.
func (s Snapshot) Merge(other Snapshot) {
	for id, p := range other {
		s[id] = p
	}
}

// MergeFirst copies entries of other whose id is not yet present.
func (s Snapshot) MergeFirst(other Snapshot) {
	for id, p := range other {
		if _, exists := s[id]; !exists {
			s[id] = p
		}
	}
}

// Products returns the snapshot's products sorted by name, then id.
func (s Snapshot) Products() []*Product {
	products := make([]*Product, 0, len(s))
	for _, p := range s {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name == products[j].Name {
			return products[i].ID < products[j].ID
		}
		return products[i].Name < products[j].Name
	})
	return products
}

type ChangeKind string

const (
	ChangeNew          ChangeKind = "new"
	ChangeRemoved      ChangeKind = "removed"
	ChangePriceChanged ChangeKind = "price_changed"
)

type Change struct {
	Timestamp time.Time  `json:"timestamp"`
	Kind      ChangeKind `json:"kind"`
	Name      string     `json:"name"`
	Detail    string     `json:"detail"`
	OldValue  string     `json:"old_value"`
	NewValue  string     `json:"new_value"`
}
