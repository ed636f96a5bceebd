package metrics

import (
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu          sync.RWMutex
	globalStore *Store
	logger      = zerolog.Nop()
)

// Init opens the process-wide store at dbPath ("" for the default path).
// Calling it again replaces the previous store.
func Init(dbPath string, log zerolog.Logger) error {
	store, err := NewStore(dbPath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize invocation metrics store")
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if globalStore != nil {
		_ = globalStore.Close()
	}
	globalStore = store
	logger = log.With().Str("component", "metrics").Logger()
	return nil
}

// RecordInvocation counts one invocation of mode. It is a no-op before Init.
func RecordInvocation(mode Mode) {
	mu.RLock()
	store, log := globalStore, logger
	mu.RUnlock()
	if store == nil {
		return
	}
	if err := store.Increment(mode); err != nil {
		log.Warn().Err(err).Str("mode", string(mode)).Msg("failed to record invocation")
	}
}

// GetStats returns cumulative counts per mode, or nil before Init.
func GetStats() map[Mode]int64 {
	mu.RLock()
	store, log := globalStore, logger
	mu.RUnlock()
	if store == nil {
		return nil
	}

	stats, err := store.GetAllTotals()
	if err != nil {
		log.Warn().Err(err).Msg("failed to read invocation stats")
		return nil
	}
	return stats
}

// Close closes the process-wide store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if globalStore == nil {
		return nil
	}
	err := globalStore.Close()
	globalStore = nil
	return err
}

// SetStoreForTesting installs store as the process-wide store.
func SetStoreForTesting(store *Store) {
	mu.Lock()
	defer mu.Unlock()
	globalStore = store
}
