package parser

import (
	"strings"
	"unicode/utf8"

	"github.com/maltedev/catalog-sync/internal/models"
)

// MatchCategories resolves each label to a category link. A visible anchor
// whose text equals the label is preferred; otherwise the first shop link
// containing the label is used. Labels without a match are omitted.
func (s *Site) MatchCategories(anchors []models.Anchor, labels []string) []models.Category {
	var categories []models.Category
	seen := make(map[string]bool)

	for _, label := range labels {
		href, ok := s.matchLabel(anchors, label)
		if !ok {
			continue
		}
		link := s.AbsoluteURL(href)
		if seen[link] {
			continue
		}
		seen[link] = true
		categories = append(categories, models.Category{Name: label, URL: link})
	}

	return categories
}

func (s *Site) matchLabel(anchors []models.Anchor, label string) (string, bool) {
	for _, a := range anchors {
		if a.Visible && a.Href != "" && strings.TrimSpace(a.Text) == label {
			return a.Href, true
		}
	}
	for _, a := range anchors {
		if strings.Contains(a.Text, label) && strings.Contains(a.Href, s.ShopPath) {
			return a.Href, true
		}
	}
	return "", false
}

// PromotionCandidates filters promotion list anchors down to campaign
// entries and resolves their detail URLs.
func (s *Site) PromotionCandidates(anchors []models.Anchor) []models.Promotion {
	var promotions []models.Promotion
	seen := make(map[string]bool)

	for _, a := range anchors {
		text := strings.TrimSpace(a.Text)
		if utf8.RuneCountInString(text) <= 5 || !s.isPromotionText(text) {
			continue
		}

		link := s.promotionLink(a)
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true

		title := text
		if i := strings.IndexByte(title, '\n'); i >= 0 {
			title = strings.TrimSpace(title[:i])
		}
		promotions = append(promotions, models.Promotion{Text: title, URL: link})
	}

	return promotions
}

func (s *Site) isPromotionText(text string) bool {
	for _, tab := range s.PromotionTabs {
		if strings.Contains(text, tab) {
			return false
		}
	}
	for _, marker := range s.PromotionMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (s *Site) promotionLink(a models.Anchor) string {
	href := strings.TrimSpace(a.Href)
	if href != "" && href != "#" && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return s.AbsoluteURL(href)
	}
	if a.Code != "" {
		return s.PromotionDetailURL(a.Code, a.NoticeType)
	}
	return ""
}
