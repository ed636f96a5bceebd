package hashstore

import (
	"context"
	"sort"
)

// ChangeDetector detects menu item changes by comparing current content
// hashes with the ones recorded at embedding time.
type ChangeDetector struct {
	store *HashStore
}

// NewChangeDetector creates a new ChangeDetector
func NewChangeDetector(store *HashStore) *ChangeDetector {
	return &ChangeDetector{store: store}
}

// DetectChanges compares current items with stored hashes for the index.
func (d *ChangeDetector) DetectChanges(ctx context.Context, indexName string, items []ItemDigest) (*ChangeDetectionResult, error) {
	existingHashes, err := d.store.GetAllItemHashes(ctx, indexName)
	if err != nil {
		return nil, err
	}

	result := &ChangeDetectionResult{
		New:       make([]ItemChange, 0),
		Modified:  make([]ItemChange, 0),
		Unchanged: make([]string, 0),
		Deleted:   make([]string, 0),
	}

	seen := make(map[string]bool, len(items))
	for _, item := range items {
		seen[item.ItemID] = true

		existing, ok := existingHashes[item.ItemID]
		switch {
		case !ok:
			result.New = append(result.New, ItemChange{
				ItemID:     item.ItemID,
				ChangeType: ChangeTypeNew,
				NewHash:    item.ContentHash,
			})
			result.NewCount++
		case existing.ContentHash != item.ContentHash:
			result.Modified = append(result.Modified, ItemChange{
				ItemID:     item.ItemID,
				ChangeType: ChangeTypeModified,
				OldHash:    existing.ContentHash,
				NewHash:    item.ContentHash,
			})
			result.ModCount++
		default:
			result.Unchanged = append(result.Unchanged, item.ItemID)
			result.UnchangeCount++
		}
	}

	for itemID := range existingHashes {
		if !seen[itemID] {
			result.Deleted = append(result.Deleted, itemID)
			result.DeleteCount++
		}
	}
	sort.Strings(result.Deleted)

	return result, nil
}
