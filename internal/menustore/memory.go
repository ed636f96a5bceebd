// Package menustore provides the menu item and order history stores the
// engine reads from: Postgres, a JSON snapshot (S3 or local file) and an
// in-memory store.
package menustore

import (
	"context"
	"sort"
	"sync"

	"github.com/ca-srg/cravings/internal/menu"
)

// Order is one historical order and the menu items it contained.
type Order struct {
	ID          int64   `json:"id"`
	UserID      string  `json:"user_id"`
	MenuItemIDs []int64 `json:"menu_item_ids"`
}

// Memory is a menu.Store and menu.OrderHistory held in process memory.
type Memory struct {
	mu     sync.RWMutex
	items  []menu.MenuItem
	byID   map[int64]menu.MenuItem
	orders []Order
}

// NewMemory creates a store holding items and orders.
func NewMemory(items []menu.MenuItem, orders []Order) *Memory {
	m := &Memory{}
	m.Replace(items, orders)
	return m
}

// Replace swaps the whole content of the store.
func (m *Memory) Replace(items []menu.MenuItem, orders []Order) {
	byID := make(map[int64]menu.MenuItem, len(items))
	copied := make([]menu.MenuItem, len(items))
	for i, item := range items {
		copied[i] = item
		byID[item.ID] = item
	}
	sort.SliceStable(copied, func(i, j int) bool { return copied[i].ID < copied[j].ID })

	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = copied
	m.byID = byID
	m.orders = append([]Order(nil), orders...)
}

func (m *Memory) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]menu.MenuItem(nil), m.items...), nil
}

// GetItems returns the items with the given ids that exist, in id order.
func (m *Memory) GetItems(ctx context.Context, ids []int64) ([]menu.MenuItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]menu.MenuItem, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if item, ok := m.byID[id]; ok {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) OrderIDs(ctx context.Context, userID string) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, o := range m.orders {
		if o.UserID == userID {
			ids = append(ids, o.ID)
		}
	}
	return ids, nil
}

func (m *Memory) OrderItemIDs(ctx context.Context, orderIDs []int64) ([]int64, error) {
	wanted := make(map[int64]bool, len(orderIDs))
	for _, id := range orderIDs {
		wanted[id] = true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, o := range m.orders {
		if wanted[o.ID] {
			ids = append(ids, o.MenuItemIDs...)
		}
	}
	return ids, nil
}
