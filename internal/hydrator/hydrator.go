// Package hydrator refreshes search results with live values from the menu store.
package hydrator

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/menu"
)

const defaultTimeout = 5 * time.Second

type Hydrator struct {
	store   menu.Store
	timeout time.Duration
	logger  zerolog.Logger
}

func New(store menu.Store, timeout time.Duration, logger zerolog.Logger) *Hydrator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Hydrator{
		store:   store,
		timeout: timeout,
		logger:  logger.With().Str("component", "hydrator").Logger(),
	}
}

// Hydrate overlays current store values onto each match. Matches whose id
// is missing from the store, or all matches when the fetch fails, keep the
// metadata they came with. Order and scores are never changed.
func (h *Hydrator) Hydrate(ctx context.Context, matches []menu.SearchMatch) []menu.SearchMatch {
	if len(matches) == 0 || h.store == nil {
		return matches
	}

	ids := make([]int64, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	fresh, err := h.store.GetItems(ctx, ids)
	if err != nil {
		h.logger.Warn().Err(err).Int("count", len(ids)).Msg("hydration fetch failed; keeping index metadata")
		return matches
	}

	byID := make(map[int64]menu.MenuItem, len(fresh))
	for _, item := range fresh {
		byID[item.ID] = item
	}

	out := make([]menu.SearchMatch, len(matches))
	for i, m := range matches {
		item, ok := byID[m.ID]
		if !ok {
			h.logger.Debug().Int64("id", m.ID).Msg("item missing from store; keeping index metadata")
			out[i] = m
			continue
		}
		m.Metadata.Overlay(item)
		m.Name = m.Metadata.Name
		m.Description = m.Metadata.Description
		out[i] = m
	}
	return out
}
