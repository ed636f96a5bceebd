// Package keyword implements the deterministic searches used when the vector
// path is degraded. Nothing here calls an external service.
package keyword

import (
	"math"
	"sort"
	"strings"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/rules"
	"github.com/ca-srg/cravings/internal/textnorm"
)

type Searcher struct {
	rules *rules.Rules
}

func New(r *rules.Rules) *Searcher {
	if r == nil {
		r = rules.Default()
	}
	return &Searcher{rules: r}
}

type scored struct {
	item  menu.MenuItem
	score float64
}

// Simple scores every item against the words of the raw query, stripped of
// punctuation, using literal
// and synonym hits, compound boosts and contradiction penalties. An item must
// score above zero and satisfy at least half of the query words.
func (s *Searcher) Simple(items []menu.MenuItem, raw string) []menu.SearchMatch {
	query := textnorm.Simplify(raw)
	words := strings.Fields(query)
	if len(words) == 0 {
		return []menu.SearchMatch{}
	}

	w := s.rules.Keyword
	required := int(math.Ceil(float64(len(words)) * w.CoverageRatio))
	if required < 1 {
		required = 1
	}
	compound := s.activeCompound(query)

	var results []scored
	for _, item := range items {
		name := strings.ToLower(item.Name)
		desc := strings.ToLower(item.Description)
		blob := name + " " + desc

		score := 0.0
		matched := 0
		for _, word := range words {
			hit := false
			if strings.Contains(name, word) {
				score += w.NameHit
				hit = true
			}
			if strings.Contains(desc, word) {
				score += w.DescriptionHit
				hit = true
			}
			for _, syn := range s.rules.FallbackSynonyms[word] {
				if strings.Contains(name, syn) {
					score += w.SynonymNameHit
					hit = true
				}
				if strings.Contains(desc, syn) {
					score += w.SynonymDescriptionHit
					hit = true
				}
			}
			if hit {
				matched++
			}
		}

		if compound != nil && s.compoundHolds(*compound, item, blob) {
			score += w.CompoundBoost
			matched++
		}

		for _, c := range s.rules.Contradictions {
			if strings.Contains(query, c.Query) && textnorm.ContainsAny(blob, c.Terms) {
				score -= c.Penalty
			}
		}

		if score > 0 && matched >= required {
			results = append(results, scored{item: item, score: score})
		}
	}

	return s.top(results, func(sc scored) menu.MenuItemView {
		return s.describe(sc.item)
	})
}

// activeCompound returns the first compound rule whose query terms all occur
// in the query. Only that rule is evaluated against items.
func (s *Searcher) activeCompound(query string) *rules.Compound {
	for i := range s.rules.Compounds {
		c := &s.rules.Compounds[i]
		all := true
		for _, term := range c.QueryTerms {
			if !strings.Contains(query, term) {
				all = false
				break
			}
		}
		if all {
			return c
		}
	}
	return nil
}

func (s *Searcher) compoundHolds(c rules.Compound, item menu.MenuItem, blob string) bool {
	for _, group := range c.TextAll {
		if !textnorm.ContainsAny(blob, group) {
			return false
		}
	}
	if textnorm.ContainsAny(blob, c.TextNone) {
		return false
	}
	if c.Course != "" && s.rules.CourseFor(item.CategoryID) != c.Course {
		return false
	}
	if c.RequireVeg && !item.IsVeg {
		return false
	}
	return true
}

// describe builds the display view for a keyword hit, synthesizing tags since
// the precomputed ones are not consulted on this path.
func (s *Searcher) describe(item menu.MenuItem) menu.MenuItemView {
	p := s.rules.Popularity
	blob := strings.ToLower(item.Name + " " + item.Description)

	tags := make([]string, 0, 8)
	diet := "non-veg"
	if item.IsVeg {
		diet = "veg"
	}
	tags = append(tags, diet)
	if item.IsBestseller {
		tags = append(tags, "popular")
	}
	switch {
	case item.Price < p.BudgetTagBelow:
		tags = append(tags, "budget")
	case item.Price > p.PremiumTagAbove:
		tags = append(tags, "premium")
	}
	if course := s.rules.CourseFor(item.CategoryID); course != "" {
		tags = append(tags, course)
	}
	for _, tt := range s.rules.TasteTags {
		if textnorm.ContainsAny(blob, tt.Terms) {
			tags = append(tags, tt.Tag)
		}
	}

	popularity := p.Base
	if item.IsBestseller {
		popularity += p.Bestseller
	}
	if item.Price < p.CheapBelow {
		popularity += p.Cheap
	}
	if item.IsVeg {
		popularity += p.Veg
	}

	view := item.View()
	view.Tags = tags
	view.DietInfo = &diet
	view.Popularity = &popularity
	return view
}

// top sorts by score, keeping input order on ties, and converts the first
// ResultLimit entries into matches whose score and final score are equal.
func (s *Searcher) top(results []scored, view func(scored) menu.MenuItemView) []menu.SearchMatch {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
	if len(results) > s.rules.ResultLimit {
		results = results[:s.rules.ResultLimit]
	}
	out := make([]menu.SearchMatch, len(results))
	for i, r := range results {
		out[i] = menu.NewMatch(view(r), r.score, r.score)
	}
	return out
}
