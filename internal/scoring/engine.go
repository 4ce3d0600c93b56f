// Package scoring turns raw page elements into ranked, deduplicated
// materiality issues with deterministic confidence scores.
package scoring

import (
	"log/slog"
	"sort"
	"strings"

	"github.com/esgflow/materiality/internal/catalog"
	"github.com/esgflow/materiality/internal/document"
	"github.com/esgflow/materiality/internal/industry"
)

// Confidence contributions and caps. Scores are deterministic functions of
// element text and the detected industry.
const (
	materialityWeight = 0.2
	materialityCap    = 0.6
	categoryWeight    = 0.1
	categoryCap       = 0.3
	industryWeight    = 0.1
	industryCap       = 0.2
	tableBonus        = 0.3
	summaryTableBoost = 0.2
)

// Priority tiers by confidence score.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

const maxNameRunes = 60

// Issue is one ranked materiality issue in the final result.
type Issue struct {
	Name            string           `json:"name"`
	Category        catalog.Category `json:"category"`
	Confidence      float64          `json:"confidence"`
	PriorityTier    string           `json:"priorityTier"`
	SupportingPages []int            `json:"supportingPages"`
}

// DedupKey returns the normalized identity of the issue: lower-cased,
// whitespace-collapsed name plus category.
func (i Issue) DedupKey() string {
	return normalizeName(i.Name) + "|" + string(i.Category)
}

// Summary is the overall confidence of one extraction result.
type Summary struct {
	Score float64 `json:"score"`
	Tier  string  `json:"tier"`
}

// Engine scores, deduplicates, and ranks issue candidates.
type Engine struct {
	maxIssues int
	logger    *slog.Logger
}

func NewEngine(maxIssues int, logger *slog.Logger) *Engine {
	if maxIssues <= 0 {
		maxIssues = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{maxIssues: maxIssues, logger: logger}
}

// Score builds the ranked issue list from page elements. Elements without
// any materiality-indicator keyword are discarded. Scoring the same
// elements with the same signal twice yields identical output.
func (e *Engine) Score(elements []document.PageElement, signal industry.Signal) ([]Issue, Summary) {
	industryKeywords := catalog.IndustryKeywords(signal.Label)

	type candidate struct {
		issue     Issue
		fromTable bool
	}
	var candidates []candidate
	for _, el := range elements {
		matched := matchedKeywords(el.Text, catalog.MaterialityIndicators())
		// AI-derived elements assert materiality by construction: the
		// vision backend only reports issues the page marks as material.
		if len(matched) == 0 && el.Kind != document.KindAIDerived {
			continue
		}
		conf := confidenceFor(el, matched, industryKeywords)
		if el.Kind == document.KindAIDerived && el.AIConfidence > conf {
			conf = clamp01(el.AIConfidence)
		}
		candidates = append(candidates, candidate{
			issue: Issue{
				Name:            issueName(el),
				Category:        categoryFor(el),
				Confidence:      conf,
				PriorityTier:    TierFor(conf),
				SupportingPages: []int{el.Page},
			},
			fromTable: el.Kind == document.KindTable,
		})
	}

	// Dedup: keep the highest-confidence candidate per key, merge pages.
	// First-seen order is preserved for stable ranking on ties.
	type group struct {
		best      Issue
		pages     map[int]bool
		fromTable bool
		order     int
	}
	groups := map[string]*group{}
	var keys []string
	for _, c := range candidates {
		key := c.issue.DedupKey()
		g, ok := groups[key]
		if !ok {
			g = &group{best: c.issue, pages: map[int]bool{}, order: len(keys)}
			groups[key] = g
			keys = append(keys, key)
		}
		if c.issue.Confidence > g.best.Confidence {
			g.best = c.issue
		}
		for _, p := range c.issue.SupportingPages {
			g.pages[p] = true
		}
		g.fromTable = g.fromTable || c.fromTable
	}

	issues := make([]Issue, 0, len(keys))
	anyTable := false
	for _, key := range keys {
		g := groups[key]
		issue := g.best
		issue.SupportingPages = sortedPages(g.pages)
		issues = append(issues, issue)
		anyTable = anyTable || g.fromTable
	}

	sort.SliceStable(issues, func(a, b int) bool {
		return issues[a].Confidence > issues[b].Confidence
	})
	if len(issues) > e.maxIssues {
		issues = issues[:e.maxIssues]
	}

	summary := summarize(issues, anyTable)
	e.logger.Info("scoring complete",
		"candidates", len(candidates),
		"uniqueIssues", len(issues),
		"overallScore", summary.Score,
		"tier", summary.Tier,
	)
	return issues, summary
}

// confidenceFor implements the scoring formula: materiality hits at 0.2
// each (max 3 counted), universal category hits at 0.1 each (cap 0.3),
// industry-specific hits at 0.1 each (cap 0.2), a 0.3 table bonus, clamped
// to [0, 1].
func confidenceFor(el document.PageElement, materialityHits []string, industryKeywords []string) float64 {
	conf := capped(float64(len(materialityHits))*materialityWeight, materialityCap)

	universal := 0
	for _, g := range catalog.CategoryGroups() {
		universal += len(matchedKeywords(el.Text, g.Keywords))
	}
	conf += capped(float64(universal)*categoryWeight, categoryCap)

	if len(industryKeywords) > 0 {
		hits := len(matchedKeywords(el.Text, industryKeywords))
		conf += capped(float64(hits)*industryWeight, industryCap)
	}

	if el.Kind == document.KindTable {
		conf += tableBonus
	}

	return clamp01(conf)
}

// categoryFor trusts a valid category from the vision backend and falls
// back to the keyword scan otherwise.
func categoryFor(el document.PageElement) catalog.Category {
	switch catalog.Category(el.AICategory) {
	case catalog.Environmental, catalog.Social, catalog.Governance:
		return catalog.Category(el.AICategory)
	}
	return categorize(el.Text)
}

// categorize assigns E, S, or G by scanning the universal groups in fixed
// priority order; the first group with a hit wins.
func categorize(text string) catalog.Category {
	for _, g := range catalog.CategoryGroups() {
		for _, kw := range g.Keywords {
			if containsKeyword(text, kw) {
				return g.Category
			}
		}
	}
	return catalog.Unknown
}

// TierFor maps a confidence score to its priority tier.
func TierFor(score float64) string {
	switch {
	case score >= 0.8:
		return TierHigh
	case score >= 0.5:
		return TierMedium
	default:
		return TierLow
	}
}

// CountByCategory tallies final issues per category for result metadata.
func CountByCategory(issues []Issue) map[catalog.Category]int {
	counts := map[catalog.Category]int{}
	for _, i := range issues {
		counts[i.Category]++
	}
	return counts
}

func summarize(issues []Issue, anyTable bool) Summary {
	if len(issues) == 0 {
		return Summary{Score: 0, Tier: TierLow}
	}
	var sum float64
	for _, i := range issues {
		sum += i.Confidence
	}
	score := sum / float64(len(issues))
	if anyTable {
		score = clamp01(score + summaryTableBoost)
	}
	return Summary{Score: score, Tier: TierFor(score)}
}

// issueName prefers the extracted label (AI-derived elements), falling
// back to a short excerpt of the element text.
func issueName(el document.PageElement) string {
	if el.Label != "" {
		return el.Label
	}
	runes := []rune(strings.TrimSpace(el.Text))
	if len(runes) > maxNameRunes {
		runes = runes[:maxNameRunes]
	}
	return strings.TrimSpace(string(runes))
}

func matchedKeywords(text string, keywords []string) []string {
	var matched []string
	for _, kw := range keywords {
		if containsKeyword(text, kw) {
			matched = append(matched, kw)
		}
	}
	return matched
}

func containsKeyword(text, keyword string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(keyword))
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func sortedPages(set map[int]bool) []int {
	pages := make([]int, 0, len(set))
	for p := range set {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

func capped(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
