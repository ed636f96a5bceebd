package menu

import (
	"context"
	"errors"
	"strconv"
)

// ErrNotFound is returned by stores when a requested record does not exist.
var ErrNotFound = errors.New("menu: not found")

// MenuItem is a row of the source-of-truth menu store.
type MenuItem struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Price        float64  `json:"price"`
	CategoryID   int      `json:"category_id"`
	IsVeg        bool     `json:"is_veg"`
	IsBestseller bool     `json:"is_bestseller"`
	IsAvailable  bool     `json:"is_available"`
	Tags         []string `json:"tags"`
	ImageURL     string   `json:"image_url"`
}

// Key returns the identifier used for the item in vector indexes and caches.
func (m MenuItem) Key() string {
	return strconv.FormatInt(m.ID, 10)
}

// View converts the item into the record returned to API clients.
func (m MenuItem) View() MenuItemView {
	tags := make([]string, len(m.Tags))
	copy(tags, m.Tags)
	return MenuItemView{
		ID:           m.ID,
		Name:         m.Name,
		Description:  m.Description,
		ImageURL:     m.ImageURL,
		Price:        m.Price,
		IsVeg:        m.IsVeg,
		IsBestseller: m.IsBestseller,
		IsAvailable:  m.IsAvailable,
		CategoryID:   m.CategoryID,
		Tags:         tags,
	}
}

// MenuItemView is the item record attached to search results. Index metadata
// may be partial or stale, so fields that only some stages compute are pointers.
type MenuItemView struct {
	ID           int64    `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	ImageURL     string   `json:"image_url"`
	Price        float64  `json:"price"`
	IsVeg        bool     `json:"is_veg"`
	IsBestseller bool     `json:"is_bestseller"`
	IsAvailable  bool     `json:"is_available"`
	CategoryID   int      `json:"category_id"`
	Tags         []string `json:"tags"`
	DietInfo     *string  `json:"diet_info,omitempty"`
	Popularity   *float64 `json:"popularity,omitempty"`
}

// Overlay replaces the view's store-owned fields with fresh values from item.
// Fields computed by the search stages are kept.
func (v *MenuItemView) Overlay(item MenuItem) {
	fresh := item.View()
	fresh.DietInfo = v.DietInfo
	fresh.Popularity = v.Popularity
	*v = fresh
}

// Hints carries the optional structured preferences extracted from a craving.
// Empty strings and a nil Budget mean "not stated".
type Hints struct {
	Diet        string   `json:"diet,omitempty"`
	CourseType  string   `json:"course_type,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	PortionSize string   `json:"portion_size,omitempty"`
	Mood        string   `json:"mood,omitempty"`
}

// HasBudget reports whether a usable positive budget was stated.
func (h Hints) HasBudget() bool {
	return h.Budget != nil && *h.Budget > 0
}

// ParsedQuery is the structured form of a free-text craving.
// NormalizedQuery is always set; everything else may be empty.
type ParsedQuery struct {
	NormalizedQuery  string   `json:"normalized_query"`
	PositiveKeywords []string `json:"positive_keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	Hints            Hints    `json:"hints"`
	Intent           string   `json:"intent,omitempty"`
	// FromModel is false when the language model could not be reached or
	// returned something unusable and the parse is the lower-cased input only.
	FromModel bool `json:"-"`
}

// SearchMatch is one ranked result of a craving search.
type SearchMatch struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Score       float64      `json:"score"`
	FinalScore  float64      `json:"final_score"`
	Metadata    MenuItemView `json:"metadata"`
}

// NewMatch builds a match whose identity fields mirror the view.
func NewMatch(view MenuItemView, score, finalScore float64) SearchMatch {
	return SearchMatch{
		ID:          view.ID,
		Name:        view.Name,
		Description: view.Description,
		Score:       score,
		FinalScore:  finalScore,
		Metadata:    view,
	}
}

// Store is the read-only view of the menu store used by the engine.
type Store interface {
	ListItems(ctx context.Context) ([]MenuItem, error)
	GetItems(ctx context.Context, ids []int64) ([]MenuItem, error)
}

// OrderHistory exposes a user's past orders.
type OrderHistory interface {
	OrderIDs(ctx context.Context, userID string) ([]int64, error)
	OrderItemIDs(ctx context.Context, orderIDs []int64) ([]int64, error)
}
