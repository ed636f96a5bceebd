package hashstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05"

// HashStore manages SQLite persistence for embedded item hashes
type HashStore struct {
	db *sql.DB
}

// NewHashStore creates a new HashStore with the database at ~/.cravings/embeddings.db.
// The directory and database file are created if they don't exist.
func NewHashStore() (*HashStore, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".cravings")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .cravings directory: %w", err)
	}

	return NewHashStoreWithPath(filepath.Join(dir, "embeddings.db"))
}

// NewHashStoreWithPath creates a new HashStore with a custom database path.
func NewHashStoreWithPath(dbPath string) (*HashStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &HashStore{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// NewHashStoreWithDB creates a new HashStore with an existing database connection.
// This allows sharing the database connection with other stores.
func NewHashStoreWithDB(db *sql.DB) (*HashStore, error) {
	store := &HashStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *HashStore) migrate() error {
	createTableSQL := `
		CREATE TABLE IF NOT EXISTS embedded_items (
			index_name TEXT NOT NULL,
			item_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			embedded_at DATETIME NOT NULL,
			PRIMARY KEY(index_name, item_id)
		);
	`
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("failed to create embedded_items table: %w", err)
	}
	return nil
}

// GetItemHash retrieves the record for one item, or nil when it was never embedded.
func (s *HashStore) GetItemHash(ctx context.Context, indexName, itemID string) (*ItemHashRecord, error) {
	query := `
		SELECT index_name, item_id, content_hash, embedded_at
		FROM embedded_items
		WHERE index_name = ? AND item_id = ?
	`
	row := s.db.QueryRowContext(ctx, query, indexName, itemID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item hash: %w", err)
	}
	return record, nil
}

// GetAllItemHashes retrieves every record for an index keyed by item id.
func (s *HashStore) GetAllItemHashes(ctx context.Context, indexName string) (map[string]*ItemHashRecord, error) {
	query := `
		SELECT index_name, item_id, content_hash, embedded_at
		FROM embedded_items
		WHERE index_name = ?
	`
	rows, err := s.db.QueryContext(ctx, query, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to query item hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make(map[string]*ItemHashRecord)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[record.ItemID] = record
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// UpsertItemHashes stores the records in one transaction.
func (s *HashStore) UpsertItemHashes(ctx context.Context, records []ItemHashRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedded_items (index_name, item_id, content_hash, embedded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(index_name, item_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			embedded_at = excluded.embedded_at;
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, record := range records {
		embeddedAt := record.EmbeddedAt
		if embeddedAt.IsZero() {
			embeddedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, record.IndexName, record.ItemID, record.ContentHash, embeddedAt.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("failed to upsert item hash %s: %w", record.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit item hashes: %w", err)
	}
	return nil
}

// DeleteItemHashes removes the records of the given items.
func (s *HashStore) DeleteItemHashes(ctx context.Context, indexName string, itemIDs []string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(itemIDs)), ", ")
	args := make([]any, 0, len(itemIDs)+1)
	args = append(args, indexName)
	for _, id := range itemIDs {
		args = append(args, id)
	}

	query := fmt.Sprintf(`DELETE FROM embedded_items WHERE index_name = ? AND item_id IN (%s)`, placeholders)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete item hashes: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection
func (s *HashStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ItemHashRecord, error) {
	var record ItemHashRecord
	var embeddedAt string
	if err := row.Scan(&record.IndexName, &record.ItemID, &record.ContentHash, &embeddedAt); err != nil {
		return nil, err
	}

	parsed, err := time.Parse(timeLayout, embeddedAt)
	if err != nil {
		// Try alternative format
		parsed, _ = time.Parse(time.RFC3339, embeddedAt)
	}
	record.EmbeddedAt = parsed
	return &record, nil
}
