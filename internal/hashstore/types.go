package hashstore

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ca-srg/cravings/internal/menu"
)

// ChangeType represents the type of change detected for a menu item
type ChangeType int

const (
	// ChangeTypeNone indicates no change detected
	ChangeTypeNone ChangeType = iota
	// ChangeTypeNew indicates an item never embedded into the index
	ChangeTypeNew
	// ChangeTypeModified indicates an item whose content changed since it was embedded
	ChangeTypeModified
	// ChangeTypeDeleted indicates an embedded item that left the menu
	ChangeTypeDeleted
)

// String returns the string representation of ChangeType
func (c ChangeType) String() string {
	switch c {
	case ChangeTypeNone:
		return "none"
	case ChangeTypeNew:
		return "new"
	case ChangeTypeModified:
		return "modified"
	case ChangeTypeDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ItemHashRecord is the stored content hash of an embedded menu item.
type ItemHashRecord struct {
	IndexName   string
	ItemID      string
	ContentHash string // MD5 hash in hex format
	EmbeddedAt  time.Time
}

// ItemDigest is the current content hash of a menu item.
type ItemDigest struct {
	ItemID      string
	ContentHash string
}

// ItemChange represents a detected change for an item
type ItemChange struct {
	ItemID     string
	ChangeType ChangeType
	OldHash    string // Existing hash (for modified/deleted)
	NewHash    string // New hash (for new/modified)
}

// ChangeDetectionResult holds the results of change detection
type ChangeDetectionResult struct {
	New           []ItemChange
	Modified      []ItemChange
	Unchanged     []string
	Deleted       []string
	NewCount      int
	ModCount      int
	UnchangeCount int
	DeleteCount   int
}

// ContentHash fingerprints every field of the item that ends up in the index,
// so price or tag edits also trigger a re-embed.
func ContentHash(item menu.MenuItem) string {
	data, _ := json.Marshal(item)
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
