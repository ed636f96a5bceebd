package keyword

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/menu"
)

func drinksAndWings() []menu.MenuItem {
	return []menu.MenuItem{
		{ID: 1, Name: "Iced Mocha", Description: "chilled coffee with chocolate", CategoryID: 12, Price: 120, IsVeg: true, IsBestseller: true, IsAvailable: true},
		{ID: 2, Name: "Spicy Wings", Description: "crispy chicken tossed in hot chili sauce", CategoryID: 1, Price: 220, IsAvailable: true},
		{ID: 3, Name: "Hot Chocolate", Description: "warm cocoa", CategoryID: 12, Price: 90, IsVeg: true, IsAvailable: true},
		{ID: 4, Name: "Mango Lassi", Description: "cool yogurt drink", CategoryID: 12, Price: 80, IsVeg: true, IsAvailable: true},
	}
}

func matchIDs(matches []menu.SearchMatch) []int64 {
	out := make([]int64, len(matches))
	for i, m := range matches {
		out[i] = m.ID
	}
	return out
}

func TestSimple_ColdAndSweet(t *testing.T) {
	s := New(nil)

	got := s.Simple(drinksAndWings(), "Something cold and sweet")
	require.Len(t, got, 1)

	m := got[0]
	assert.Equal(t, int64(1), m.ID)
	// chilled +2, "ice" and "iced" in the name +4 each, chocolate +2, compound +5.
	assert.Equal(t, 17.0, m.Score)
	assert.Equal(t, m.Score, m.FinalScore)
	assert.Equal(t, []string{"veg", "popular", "drink", "sweet", "cold"}, m.Metadata.Tags)
	require.NotNil(t, m.Metadata.DietInfo)
	assert.Equal(t, "veg", *m.Metadata.DietInfo)
	require.NotNil(t, m.Metadata.Popularity)
	assert.Equal(t, 9.5, *m.Metadata.Popularity)
}

func TestSimple_IgnoresPunctuation(t *testing.T) {
	s := New(nil)

	plain := s.Simple(drinksAndWings(), "cold sweet")
	punctuated := s.Simple(drinksAndWings(), "cold, sweet!")
	require.NotEmpty(t, plain)
	assert.Equal(t, matchIDs(plain), matchIDs(punctuated))
	assert.Equal(t, plain[0].Score, punctuated[0].Score)
}

func TestSimple_HotAndSpicy(t *testing.T) {
	s := New(nil)

	got := s.Simple(drinksAndWings(), "hot spicy")
	require.Len(t, got, 2)
	assert.Equal(t, []int64{2, 3}, matchIDs(got))
	assert.Equal(t, 21.0, got[0].Score)
	// Compound boost withheld for sweet text and the spicy-vs-sweet penalty applied.
	assert.Equal(t, 9.0, got[1].Score)
	assert.Equal(t, []string{"non-veg", "starter", "spicy", "hot", "crispy"}, got[0].Metadata.Tags)
}

func TestSimple_RefreshingDrinkCompound(t *testing.T) {
	s := New(nil)

	got := s.Simple(drinksAndWings(), "refreshing drink")
	assert.Equal(t, []int64{4, 1}, matchIDs(got))
	assert.Equal(t, 10.0, got[0].Score)
	assert.Equal(t, 9.0, got[1].Score)
	assert.Contains(t, got[0].Metadata.Tags, "budget")
}

func TestSimple_VegetarianMainCompound(t *testing.T) {
	s := New(nil)
	items := []menu.MenuItem{
		{ID: 1, Name: "Paneer Butter Masala", Description: "rich gravy", CategoryID: 6, Price: 320, IsVeg: true},
		{ID: 2, Name: "Butter Chicken", Description: "rich gravy", CategoryID: 6, Price: 340},
	}

	got := s.Simple(items, "vegetarian main")
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, 5.0, got[0].Score)
	assert.Contains(t, got[0].Metadata.Tags, "premium")
	assert.Contains(t, got[0].Metadata.Tags, "main")
}

func TestSimple_RequiresHalfTheWords(t *testing.T) {
	s := New(nil)
	items := []menu.MenuItem{{ID: 1, Name: "Mango Lassi", Description: "yogurt", CategoryID: 12}}

	// One of three words matches; two are required.
	assert.Empty(t, s.Simple(items, "mango pizza burger"))
	assert.Len(t, s.Simple(items, "mango pizza"), 1)
}

func TestSimple_EmptyInputs(t *testing.T) {
	s := New(nil)
	assert.Empty(t, s.Simple(drinksAndWings(), "   "))
	assert.Empty(t, s.Simple(nil, "cold"))
}

func TestSimple_AtMostThree(t *testing.T) {
	s := New(nil)
	items := []menu.MenuItem{
		{ID: 1, Name: "Tea A"}, {ID: 2, Name: "Tea B"}, {ID: 3, Name: "Tea C"}, {ID: 4, Name: "Tea D"},
	}

	got := s.Simple(items, "tea")
	assert.Equal(t, []int64{1, 2, 3}, matchIDs(got))
}

func hintedMenu() []menu.MenuItem {
	return []menu.MenuItem{
		{ID: 1, Name: "Paneer Tikka", Description: "smoky grilled paneer", CategoryID: 1, Price: 200, IsVeg: true, Tags: []string{"grill"}},
		{ID: 2, Name: "Chicken Tikka", Description: "smoky grilled chicken", CategoryID: 1, Price: 250},
		{ID: 3, Name: "Veg Biryani", Description: "fragrant rice", CategoryID: 6, Price: 140, IsVeg: true, IsBestseller: true},
		{ID: 4, Name: "Spicy Paneer Wrap", Description: "hot wrap", CategoryID: 5, Price: 120, IsVeg: true},
	}
}

func TestHinted_FiltersAndScores(t *testing.T) {
	s := New(nil)
	b := 220.0
	parsed := menu.ParsedQuery{
		NormalizedQuery:  "tikka",
		PositiveKeywords: []string{"Smoky"},
		NegativeKeywords: []string{"spicy"},
		Hints:            menu.Hints{Diet: "veg", CourseType: "starter", Budget: &b},
		FromModel:        true,
	}

	got := s.Hinted(hintedMenu(), "tikka", parsed)
	require.Len(t, got, 1)
	assert.Equal(t, []int64{1}, matchIDs(got))
	assert.Equal(t, 7.5, got[0].Score)
	assert.Equal(t, []string{"grill"}, got[0].Metadata.Tags)
	assert.Nil(t, got[0].Metadata.DietInfo)
}

func TestHinted_CourseIsAHardFilter(t *testing.T) {
	s := New(nil)
	items := append(hintedMenu(),
		menu.MenuItem{ID: 5, Name: "Lemon Soda", Description: "fizzy lime drink", CategoryID: 12, Price: 60, IsVeg: true},
	)

	drink := s.Hinted(items, "something to drink", menu.ParsedQuery{
		NormalizedQuery: "fizzy",
		Hints:           menu.Hints{CourseType: "Drink"},
		FromModel:       true,
	})
	assert.Equal(t, []int64{5}, matchIDs(drink))
	assert.Equal(t, 4.0, drink[0].Score)

	// An unmapped course neither filters nor scores.
	brunch := s.Hinted(items, "rice", menu.ParsedQuery{NormalizedQuery: "rice", Hints: menu.Hints{CourseType: "brunch"}})
	assert.Equal(t, []int64{3}, matchIDs(brunch))
	assert.Equal(t, 3.0, brunch[0].Score)
}

func TestHinted_DietVariants(t *testing.T) {
	s := New(nil)

	vegan := s.Hinted(hintedMenu(), "tikka", menu.ParsedQuery{NormalizedQuery: "tikka", Hints: menu.Hints{Diet: "vegan"}})
	assert.Equal(t, []int64{1, 3}, matchIDs(vegan))

	nonVeg := s.Hinted(hintedMenu(), "tikka", menu.ParsedQuery{NormalizedQuery: "tikka", Hints: menu.Hints{Diet: "Non-Veg"}})
	assert.Equal(t, []int64{2}, matchIDs(nonVeg))
}

func TestHinted_FallsBackToRawQuery(t *testing.T) {
	s := New(nil)

	got := s.Hinted(hintedMenu(), "Wrap", menu.ParsedQuery{})
	assert.Equal(t, []int64{4, 3}, matchIDs(got))
}

func TestBestMatch(t *testing.T) {
	items := []menu.MenuItem{
		{ID: 1, Name: "Paneer Tikka"},
		{ID: 2, Name: "Paneer Tikka Masala"},
		{ID: 3, Name: "Mango Lassi"},
		{ID: 4, Name: "Masala Dosa"},
	}

	tests := []struct {
		query string
		want  int64
		found bool
	}{
		{"paneer tikka!", 1, true},
		{"Mango", 3, true},
		{"tikka masala", 2, true},
		{"dosa masala", 4, true},
		{"pizza", 0, false},
		{"!!!", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, ok := BestMatch(items, tt.query)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}
