// Package rerank turns raw nearest-neighbour candidates into the final ranked
// craving matches.
package rerank

import (
	"sort"
	"strings"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/rules"
	"github.com/ca-srg/cravings/internal/textnorm"
	"github.com/ca-srg/cravings/internal/vectorindex"
)

// Reranker scores vector candidates against the parsed craving.
type Reranker struct {
	rules *rules.Rules
}

func New(r *rules.Rules) *Reranker {
	if r == nil {
		r = rules.Default()
	}
	return &Reranker{rules: r}
}

// EmbeddingText builds the text sent to the embedding service: the normalized
// query followed by each positive keyword and its expansion synonyms.
func (r *Reranker) EmbeddingText(parsed menu.ParsedQuery) string {
	parts := []string{strings.TrimSpace(parsed.NormalizedQuery)}
	for _, kw := range parsed.PositiveKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		parts = append(parts, kw)
		parts = append(parts, r.rules.ExpansionSynonyms[kw]...)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

type candidate struct {
	match    menu.SearchMatch
	negative bool
}

// Rank applies the budget filter, attribute coverage, bonuses and penalties,
// then returns at most ResultLimit matches ordered by final score. Ties keep
// the index order.
//
// Candidates that mention a negative keyword are only returned when there are
// not enough clean candidates to fill the result.
func (r *Reranker) Rank(parsed menu.ParsedQuery, hits []vectorindex.Hit) []menu.SearchMatch {
	w := r.rules.Rerank
	positives := textnorm.LowerUnique(parsed.PositiveKeywords)
	negatives := textnorm.LowerUnique(parsed.NegativeKeywords)
	course := textnorm.Normalize(parsed.Hints.CourseType)

	var requested []string
	for _, kw := range positives {
		if r.rules.IsStrong(kw) {
			requested = append(requested, kw)
		}
	}

	candidates := make([]candidate, 0, len(hits))
	for _, hit := range hits {
		item := hit.Item
		if parsed.Hints.HasBudget() && item.Price > *parsed.Hints.Budget {
			continue
		}

		tags := textnorm.LowerSet(item.Tags)
		text := strings.ToLower(item.Name + " " + item.Description)

		matched := 0
		for _, attr := range requested {
			if r.attributePresent(attr, tags, text) {
				matched++
			}
		}
		if len(requested) >= w.MinCoverage && matched < w.MinCoverage {
			continue
		}

		final := hit.Score
		for _, kw := range positives {
			if _, ok := tags[kw]; ok {
				final += w.TagBonus
			}
		}
		negative := false
		for _, kw := range negatives {
			if _, ok := tags[kw]; ok {
				final -= w.NegativePenalty
				negative = true
			} else if strings.Contains(text, kw) {
				negative = true
			}
		}
		if course != "" && r.rules.CourseFor(item.CategoryID) == course {
			final += w.CourseBonus
		}
		if item.IsBestseller {
			final += w.BestsellerBonus
		}
		if len(requested) == 1 && matched == 0 {
			final -= w.CoveragePenalty
		}

		candidates = append(candidates, candidate{
			match:    menu.NewMatch(item, hit.Score, final),
			negative: negative,
		})
	}

	limit := r.rules.ResultLimit
	clean := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if !c.negative {
			clean = append(clean, c)
		}
	}
	if len(clean) >= limit {
		candidates = clean
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].match.FinalScore > candidates[j].match.FinalScore
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]menu.SearchMatch, len(candidates))
	for i, c := range candidates {
		out[i] = c.match
	}
	return out
}

func (r *Reranker) attributePresent(attr string, tags map[string]struct{}, text string) bool {
	if _, ok := tags[attr]; ok {
		return true
	}
	if strings.Contains(text, attr) {
		return true
	}
	for _, syn := range r.rules.ExpansionSynonyms[attr] {
		if _, ok := tags[syn]; ok {
			return true
		}
		if strings.Contains(text, syn) {
			return true
		}
	}
	return false
}
