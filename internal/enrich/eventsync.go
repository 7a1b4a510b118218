package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"github.com/maltedev/catalog-sync/internal/reconcile"
)

// LeadSentence opens the first paragraph of descriptions borrowed through
// a fuzzy match.
const LeadSentence = "이번 이벤트 구성을 통해 제품의 가치를 더욱 합리적으로 경험하시는 데 효과적입니다."

// promoKeywords are stripped from event names before fuzzy matching.
var promoKeywords = []string{"기획", "증정", "세트", "번들", "용량 추가"}

type SyncOptions struct {
	EventLabel string
	// Cutoff is the minimum similarity for a fuzzy match.
	Cutoff float64
	DryRun bool
}

func DefaultSyncOptions() SyncOptions {
	return SyncOptions{EventLabel: "이벤트", Cutoff: 0.6}
}

// SyncUpdate is the text an event row receives from a reference row.
type SyncUpdate struct {
	Name        string  `json:"name"`
	MatchedName string  `json:"matched_name"`
	Exact       bool    `json:"exact"`
	Score       float64 `json:"score"`
	Tags        string  `json:"tags"`
	Description string  `json:"description"`
}

type SyncReport struct {
	Targets    int          `json:"targets"`
	References int          `json:"references"`
	Updates    []SyncUpdate `json:"updates"`
	DryRun     bool         `json:"dry_run"`
}

// EventSync copies tags and descriptions from regular catalog rows to
// event rows that lack them.
type EventSync struct {
	store  Store
	opts   SyncOptions
	metric strutil.StringMetric
	logger *slog.Logger
}

func NewEventSync(store Store, opts SyncOptions, logger *slog.Logger) *EventSync {
	if opts.EventLabel == "" {
		opts.EventLabel = DefaultSyncOptions().EventLabel
	}
	if opts.Cutoff <= 0 {
		opts.Cutoff = DefaultSyncOptions().Cutoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSync{
		store:  store,
		opts:   opts,
		metric: metrics.NewLevenshtein(),
		logger: logger.With("component", "event_sync"),
	}
}

// CleanName removes promotion keywords and collapses whitespace.
func CleanName(name string) string {
	for _, kw := range promoKeywords {
		name = strings.ReplaceAll(name, kw, "")
	}
	return strings.Join(strings.Fields(name), " ")
}

// FormatDescription splits desc into paragraphs and prepends LeadSentence
// to the first one unless it is already there.
func FormatDescription(desc string) string {
	if desc == "" {
		return ""
	}

	var paragraphs []string
	for _, p := range strings.Split(desc, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		paragraphs = []string{""}
	}
	if !strings.Contains(paragraphs[0], LeadSentence) {
		paragraphs[0] = strings.TrimSpace(LeadSentence + " " + paragraphs[0])
	}
	return strings.Join(paragraphs, "\n\n")
}

type reference struct {
	tags string
	desc string
}

// Plan computes the updates for rows without writing anything.
func (s *EventSync) Plan(rows []reconcile.Row) (*SyncReport, error) {
	refs := make(map[string]reference)
	var targets []reconcile.Row

	for _, r := range rows {
		if r.Name == "" {
			continue
		}
		if r.Category == s.opts.EventLabel {
			if r.Tags == "" || r.Description == "" {
				targets = append(targets, r)
			}
			continue
		}
		refs[r.Name] = reference{tags: r.Tags, desc: r.Description}
	}

	refNames := make([]string, 0, len(refs))
	for name := range refs {
		refNames = append(refNames, name)
	}
	sort.Strings(refNames)

	report := &SyncReport{
		Targets:    len(targets),
		References: len(refNames),
		DryRun:     s.opts.DryRun,
	}

	for _, t := range targets {
		upd := SyncUpdate{Name: t.Name, Tags: t.Tags, Description: t.Description}

		ref, exact := refs[t.Name]
		if exact {
			upd.MatchedName, upd.Exact, upd.Score = t.Name, true, 1
		} else {
			name, score := s.closest(CleanName(t.Name), refNames)
			if name == "" {
				continue
			}
			ref = refs[name]
			upd.MatchedName, upd.Score = name, score
		}

		changed := false
		if t.Tags == "" && ref.tags != "" {
			upd.Tags = ref.tags
			changed = true
		}
		if t.Description == "" && ref.desc != "" {
			if exact {
				upd.Description = ref.desc
			} else {
				upd.Description = FormatDescription(ref.desc)
			}
			changed = true
		}
		if changed {
			report.Updates = append(report.Updates, upd)
		}
	}

	return report, nil
}

// closest returns the most similar candidate at or above the cutoff.
// Ties go to the candidate that sorts first.
func (s *EventSync) closest(name string, candidates []string) (string, float64) {
	best, bestScore := "", 0.0
	for _, c := range candidates {
		score := strutil.Similarity(name, c, s.metric)
		if score >= s.opts.Cutoff && score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore
}

// Run plans the updates and writes them unless the sync is a dry run.
func (s *EventSync) Run(ctx context.Context) (*SyncReport, error) {
	rows, err := s.store.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}

	report, err := s.Plan(rows)
	if err != nil {
		return nil, err
	}
	s.logger.Info("event rows analysed",
		"targets", report.Targets,
		"references", report.References,
		"updates", len(report.Updates))

	for _, u := range report.Updates {
		s.logger.Debug("event row matched",
			"name", u.Name,
			"matched", u.MatchedName,
			"exact", u.Exact,
			"score", u.Score)
	}

	if s.opts.DryRun || len(report.Updates) == 0 {
		return report, nil
	}

	rowsOut := make([]reconcile.Row, len(report.Updates))
	for i, u := range report.Updates {
		rowsOut[i] = reconcile.Row{Name: u.Name, Tags: u.Tags, Description: u.Description}
	}
	if err := s.store.UpdateEnrichment(ctx, rowsOut); err != nil {
		return nil, fmt.Errorf("failed to write event rows: %w", err)
	}

	s.logger.Info("event rows synced", "rows", len(rowsOut))
	return report, nil
}
