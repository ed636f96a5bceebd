package recommender

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/menu"
)

type fakeStore struct {
	items []menu.MenuItem
	err   error
}

func (s *fakeStore) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	return s.items, s.err
}

func (s *fakeStore) GetItems(ctx context.Context, ids []int64) ([]menu.MenuItem, error) {
	return nil, nil
}

type fakeHistory struct {
	orders map[string][]int64
	items  map[int64][]int64
	err    error
}

func (h *fakeHistory) OrderIDs(ctx context.Context, userID string) ([]int64, error) {
	return h.orders[userID], h.err
}

func (h *fakeHistory) OrderItemIDs(ctx context.Context, orderIDs []int64) ([]int64, error) {
	var out []int64
	for _, id := range orderIDs {
		out = append(out, h.items[id]...)
	}
	return out, nil
}

func catalog() []menu.MenuItem {
	return []menu.MenuItem{
		{ID: 1, Name: "Paneer Tikka", Description: "smoky grilled paneer", Tags: []string{"spicy", "starter"}},
		{ID: 2, Name: "Chicken Tikka", Description: "smoky grilled chicken", Tags: []string{"spicy", "starter"}, IsBestseller: true},
		{ID: 3, Name: "Mango Lassi", Description: "sweet yogurt drink", Tags: []string{"sweet", "cold"}, IsBestseller: true},
		{ID: 4, Name: "Gulab Jamun", Description: "sweet syrup dumplings", Tags: []string{"sweet", "dessert"}, IsBestseller: true},
		{ID: 5, Name: "Tandoori Paneer Wrap", Description: "grilled paneer smoky wrap", Tags: []string{"spicy"}},
		{ID: 6, Name: "Lemon Soda", Description: "fizzy cold drink", Tags: []string{"cold", "refreshing"}},
	}
}

func newTestRecommender(items []menu.MenuItem, history menu.OrderHistory) *Recommender {
	r := New(&fakeStore{items: items}, history, zerolog.Nop())
	r.shuffle = func(int, func(i, j int)) {}
	return r
}

func ids(items []menu.MenuItem) []int64 {
	out := make([]int64, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestRecommend_NoHistoryUsesBestsellers(t *testing.T) {
	r := newTestRecommender(catalog(), &fakeHistory{})

	got, err := r.Recommend(context.Background(), "new-user", 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 4}, ids(got))
}

func TestRecommend_BackfillsWhenFewBestsellers(t *testing.T) {
	items := catalog()
	for i := range items {
		items[i].IsBestseller = items[i].ID == 3
	}
	r := newTestRecommender(items, nil)

	got, err := r.Recommend(context.Background(), "u", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Len(t, distinct(got), 4)
}

func TestRecommend_ContentSimilarity(t *testing.T) {
	history := &fakeHistory{
		orders: map[string][]int64{"u1": {10}},
		items:  map[int64][]int64{10: {1}},
	}
	r := newTestRecommender(catalog(), history)

	got, err := r.Recommend(context.Background(), "u1", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 5}, ids(got))
}

func TestRecommend_MissingHistoryItems(t *testing.T) {
	history := &fakeHistory{
		orders: map[string][]int64{"u1": {10}},
		items:  map[int64][]int64{10: {404, 405}},
	}
	r := newTestRecommender(catalog(), history)

	got, err := r.Recommend(context.Background(), "u1", 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{2, 3, 4}, ids(got))
}

func TestRecommend_AlwaysExactlyTopN(t *testing.T) {
	all := []int64{1, 2, 3, 4, 5, 6}
	histories := map[string]*fakeHistory{
		"none":    {},
		"covered": {orders: map[string][]int64{"covered": {1}}, items: map[int64][]int64{1: {3, 6}}},
		"orphan":  {orders: map[string][]int64{"orphan": {1}}, items: map[int64][]int64{1: {99}}},
		"all":     {orders: map[string][]int64{"all": {1}}, items: map[int64][]int64{1: all}},
		"most":    {orders: map[string][]int64{"most": {1}}, items: map[int64][]int64{1: {1, 2, 3, 4, 5}}},
		"failing": {err: errors.New("db down")},
	}

	for name, history := range histories {
		t.Run(name, func(t *testing.T) {
			r := New(&fakeStore{items: catalog()}, history, zerolog.Nop())
			got, err := r.Recommend(context.Background(), name, 3)
			require.NoError(t, err)
			assert.Len(t, got, 3)
			assert.Len(t, distinct(got), 3)
		})
	}
}

func TestRecommend_EmptyMenu(t *testing.T) {
	r := newTestRecommender(nil, nil)
	got, err := r.Recommend(context.Background(), "u", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecommend_StoreError(t *testing.T) {
	r := New(&fakeStore{err: errors.New("boom")}, nil, zerolog.Nop())
	_, err := r.Recommend(context.Background(), "u", 3)
	require.Error(t, err)
}

func TestRecommend_DefaultTopN(t *testing.T) {
	r := newTestRecommender(catalog(), nil)
	got, err := r.Recommend(context.Background(), "u", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultTopN)
}

func TestTFIDF(t *testing.T) {
	m := fitTransform([]string{"the spicy wings", "spicy paneer", "sweet lassi"})

	assert.NotContains(t, m.rows[0], "the")
	assert.InDelta(t, 1.0, sparseNorm(m.rows[0]), 1e-9)

	sims := m.cosineAll(m.rows[1])
	assert.InDelta(t, 1.0, sims[1], 1e-9)
	assert.Greater(t, sims[0], 0.0)
	assert.Zero(t, sims[2])

	assert.Equal(t, []int{1, 0, 2}, rankDescending(sims))
	assert.Equal(t, []int{2, 1, 0}, rankDescending([]float64{0, 0, 0}))
}

func distinct(items []menu.MenuItem) map[int64]struct{} {
	set := make(map[int64]struct{})
	for _, item := range items {
		set[item.ID] = struct{}{}
	}
	return set
}
