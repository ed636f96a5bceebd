// Package cache memoizes craving search results for a short time.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/textnorm"
)

// ErrCacheMiss indicates a cache miss, including an expired entry.
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL is how long a search result stays valid.
const DefaultTTL = 600 * time.Second

// Cache stores ranked matches by query key.
type Cache interface {
	Get(ctx context.Context, key string) ([]menu.SearchMatch, error)
	Set(ctx context.Context, key string, matches []menu.SearchMatch, ttl time.Duration) error
}

// Key folds a raw craving into its cache key.
func Key(raw string) string {
	return textnorm.Normalize(raw)
}

type entry struct {
	matches   []menu.SearchMatch
	createdAt time.Time
	ttl       time.Duration
}

// Memory is a process-local cache. Expired entries are detected on read and
// never swept; concurrent writers for one key resolve last-writer-wins.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry), now: time.Now}
}

// NewMemoryWithClock returns a Memory cache reading time from now.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{data: make(map[string]entry), now: now}
}

func (c *Memory) Get(_ context.Context, key string) ([]menu.SearchMatch, error) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	if !ok || c.now().Sub(e.createdAt) >= e.ttl {
		return nil, ErrCacheMiss
	}
	return copyMatches(e.matches), nil
}

func (c *Memory) Set(_ context.Context, key string, matches []menu.SearchMatch, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.data[key] = entry{matches: copyMatches(matches), createdAt: c.now(), ttl: ttl}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func copyMatches(in []menu.SearchMatch) []menu.SearchMatch {
	out := make([]menu.SearchMatch, len(in))
	copy(out, in)
	return out
}
