package keyword

import (
	"strings"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/textnorm"
)

// Hinted scores items using the parsed craving. Negative keywords, diet,
// budget and a known course are hard filters; query words, positive keywords,
// the course match and bestseller status add to the score.
func (s *Searcher) Hinted(items []menu.MenuItem, raw string, parsed menu.ParsedQuery) []menu.SearchMatch {
	w := s.rules.Hinted
	positives := textnorm.LowerUnique(parsed.PositiveKeywords)
	negatives := textnorm.LowerUnique(parsed.NegativeKeywords)
	diet := textnorm.Normalize(parsed.Hints.Diet)
	course := textnorm.Normalize(parsed.Hints.CourseType)
	// A course the category table does not know cannot filter anything.
	if !s.rules.HasCourse(course) {
		course = ""
	}

	query := textnorm.Normalize(parsed.NormalizedQuery)
	if query == "" {
		query = textnorm.Normalize(raw)
	}
	words := strings.Fields(query)

	var results []scored
	for _, item := range items {
		name := strings.ToLower(item.Name)
		desc := strings.ToLower(item.Description)
		blob := name + " " + desc

		if textnorm.ContainsAny(blob, negatives) {
			continue
		}
		if !dietAllows(diet, item) {
			continue
		}
		if parsed.Hints.HasBudget() && item.Price > *parsed.Hints.Budget {
			continue
		}
		if course != "" && s.rules.CourseFor(item.CategoryID) != course {
			continue
		}

		score := 0.0
		for _, word := range words {
			if strings.Contains(name, word) {
				score += w.QueryNameHit
			}
			if strings.Contains(desc, word) {
				score += w.QueryDescriptionHit
			}
		}
		for _, kw := range positives {
			if strings.Contains(name, kw) {
				score += w.KeywordNameHit
			}
			if strings.Contains(desc, kw) {
				score += w.KeywordDescriptionHit
			}
		}
		if course != "" {
			score += w.CourseMatch
		}
		if item.IsBestseller {
			score += w.Bestseller
		}

		if score > 0 {
			results = append(results, scored{item: item, score: score})
		}
	}

	return s.top(results, func(sc scored) menu.MenuItemView {
		return sc.item.View()
	})
}

// dietAllows applies the diet hint. Vegan is served from the vegetarian set
// since the menu carries no separate vegan flag.
func dietAllows(diet string, item menu.MenuItem) bool {
	switch diet {
	case "veg", "vegetarian", "vegan":
		return item.IsVeg
	case "non-veg", "nonveg", "non-vegetarian":
		return !item.IsVeg
	}
	return true
}
