package keyword

import (
	"strings"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/textnorm"
)

// BestMatch resolves a free-text dish name to one menu item, trying an exact
// match, then a prefix, then a substring, then the largest word overlap.
// Earlier items win ties.
func BestMatch(items []menu.MenuItem, name string) (menu.MenuItem, bool) {
	query := textnorm.Simplify(name)
	if query == "" {
		return menu.MenuItem{}, false
	}

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = textnorm.Simplify(it.Name)
	}

	for i, n := range names {
		if n == query {
			return items[i], true
		}
	}
	for i, n := range names {
		if strings.HasPrefix(n, query) {
			return items[i], true
		}
	}
	for i, n := range names {
		if strings.Contains(n, query) {
			return items[i], true
		}
	}

	queryTokens := textnorm.LowerSet(strings.Fields(query))
	best, bestScore := -1, 0
	for i, n := range names {
		overlap := 0
		for tok := range textnorm.LowerSet(strings.Fields(n)) {
			if _, ok := queryTokens[tok]; ok {
				overlap++
			}
		}
		if overlap > bestScore {
			best, bestScore = i, overlap
		}
	}
	if best < 0 {
		return menu.MenuItem{}, false
	}
	return items[best], true
}
