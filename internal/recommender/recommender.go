// Package recommender suggests menu items from a user's order history using
// TF-IDF content similarity, falling back to bestsellers.
package recommender

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ca-srg/cravings/internal/menu"
)

// DefaultTopN is the number of items returned when the caller does not ask.
const DefaultTopN = 3

var tracer = otel.Tracer("github.com/ca-srg/cravings/internal/recommender")

// Recommender returns exactly topN distinct items whenever the menu holds at
// least that many.
type Recommender struct {
	items   menu.Store
	history menu.OrderHistory
	logger  zerolog.Logger
	shuffle func(n int, swap func(i, j int))
}

// New creates a Recommender.
func New(items menu.Store, history menu.OrderHistory, logger zerolog.Logger) *Recommender {
	return &Recommender{
		items:   items,
		history: history,
		logger:  logger.With().Str("component", "recommender").Logger(),
		shuffle: rand.Shuffle,
	}
}

// Recommend returns topN items for userID. The order of the result is
// shuffled on every call.
func (r *Recommender) Recommend(ctx context.Context, userID string, topN int) ([]menu.MenuItem, error) {
	ctx, span := tracer.Start(ctx, "recommender.recommend")
	defer span.End()

	if topN <= 0 {
		topN = DefaultTopN
	}

	items, err := r.items.ListItems(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_items_failed")
		return nil, fmt.Errorf("fetch menu items: %w", err)
	}
	if len(items) == 0 {
		return []menu.MenuItem{}, nil
	}

	ordered := r.orderedItems(ctx, userID)

	var picks []menu.MenuItem
	strategy := "content"
	if len(ordered) == 0 {
		strategy = "bestseller"
		picks = r.backfill(items, nil, topN)
	} else {
		picks = r.byContent(items, ordered, topN)
		if picks == nil {
			strategy = "bestseller"
			picks = r.backfill(items, nil, topN)
		} else if len(picks) < topN {
			picks = r.backfill(items, picks, topN)
		}
	}

	r.shuffle(len(picks), func(i, j int) { picks[i], picks[j] = picks[j], picks[i] })

	span.SetAttributes(
		attribute.String("recommender.strategy", strategy),
		attribute.Int("recommender.history_items", len(ordered)),
		attribute.Int("recommender.results", len(picks)),
	)
	r.logger.Debug().Str("user_id", userID).Str("strategy", strategy).Int("results", len(picks)).Msg("recommendations computed")
	return picks, nil
}

// orderedItems returns the set of item ids the user ordered. History lookup
// failures are treated as an empty history.
func (r *Recommender) orderedItems(ctx context.Context, userID string) map[int64]struct{} {
	ordered := make(map[int64]struct{})
	if r.history == nil || strings.TrimSpace(userID) == "" {
		return ordered
	}

	orderIDs, err := r.history.OrderIDs(ctx, userID)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("order lookup failed, using bestsellers")
		return ordered
	}
	if len(orderIDs) == 0 {
		return ordered
	}

	itemIDs, err := r.history.OrderItemIDs(ctx, orderIDs)
	if err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("order item lookup failed, using bestsellers")
		return ordered
	}
	for _, id := range itemIDs {
		ordered[id] = struct{}{}
	}
	return ordered
}

// byContent ranks unordered items by similarity to the mean TF-IDF profile of
// the ordered ones. It returns nil when none of the ordered items is on the menu.
func (r *Recommender) byContent(items []menu.MenuItem, ordered map[int64]struct{}, topN int) []menu.MenuItem {
	corpus := make([]string, len(items))
	var historyRows []int
	for i, item := range items {
		corpus[i] = item.Name + " " + item.Description + " " + strings.Join(item.Tags, " ")
		if _, ok := ordered[item.ID]; ok {
			historyRows = append(historyRows, i)
		}
	}
	if len(historyRows) == 0 {
		return nil
	}

	matrix := fitTransform(corpus)
	sims := matrix.cosineAll(matrix.meanRow(historyRows))

	picks := make([]menu.MenuItem, 0, topN)
	for _, i := range rankDescending(sims) {
		if _, seen := ordered[items[i].ID]; seen {
			continue
		}
		picks = append(picks, items[i])
		if len(picks) >= topN {
			break
		}
	}
	return picks
}

// backfill tops picks up to topN with shuffled bestsellers, then with any
// shuffled remaining items.
func (r *Recommender) backfill(items []menu.MenuItem, picks []menu.MenuItem, topN int) []menu.MenuItem {
	chosen := make(map[int64]struct{}, topN)
	for _, p := range picks {
		chosen[p.ID] = struct{}{}
	}

	var bestsellers, others []menu.MenuItem
	for _, item := range items {
		if _, ok := chosen[item.ID]; ok {
			continue
		}
		if item.IsBestseller {
			bestsellers = append(bestsellers, item)
		} else {
			others = append(others, item)
		}
	}

	for _, pool := range [][]menu.MenuItem{bestsellers, others} {
		r.shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		for _, item := range pool {
			if len(picks) >= topN {
				return picks
			}
			picks = append(picks, item)
		}
	}
	return picks
}
