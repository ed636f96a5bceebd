package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Mode is the entry point an invocation came through.
type Mode string

const (
	ModeCraving   Mode = "craving"
	ModeRecommend Mode = "recommend"
	ModeReembed   Mode = "reembed"
	ModeMCP       Mode = "mcp"
)

// AllModes lists every tracked mode.
var AllModes = []Mode{ModeCraving, ModeRecommend, ModeReembed, ModeMCP}

const dateLayout = "2006-01-02"

// Store persists daily invocation counts in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultStorePath returns ~/.cravings/stats.db.
func DefaultStorePath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".cravings", "stats.db"), nil
}

// NewStore opens the database at dbPath, or at DefaultStorePath when empty.
// The parent directory is created if needed.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		var err error
		if dbPath, err = DefaultStorePath(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS invocation_counts (
			mode TEXT NOT NULL,
			date TEXT NOT NULL,
			count INTEGER DEFAULT 0,
			PRIMARY KEY (mode, date)
		);
	`
	if _, err := db.Exec(createTableSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Increment adds one to today's count for mode.
func (s *Store) Increment(mode Mode) error {
	const upsertSQL = `
		INSERT INTO invocation_counts (mode, date, count)
		VALUES (?, ?, 1)
		ON CONFLICT(mode, date) DO UPDATE SET count = count + 1;
	`
	if _, err := s.db.Exec(upsertSQL, string(mode), s.now().Format(dateLayout)); err != nil {
		return fmt.Errorf("failed to increment count: %w", err)
	}
	return nil
}

// GetTotalByMode returns the count for mode summed over all dates.
func (s *Store) GetTotalByMode(mode Mode) (int64, error) {
	var total int64
	row := s.db.QueryRow("SELECT COALESCE(SUM(count), 0) FROM invocation_counts WHERE mode = ?", string(mode))
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to get total for mode %s: %w", mode, err)
	}
	return total, nil
}

// GetAllTotals returns the cumulative count of every mode, zero included.
func (s *Store) GetAllTotals() (map[Mode]int64, error) {
	result := make(map[Mode]int64, len(AllModes))
	for _, mode := range AllModes {
		result[mode] = 0
	}

	rows, err := s.db.Query("SELECT mode, COALESCE(SUM(count), 0) FROM invocation_counts GROUP BY mode")
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var mode string
		var total int64
		if err := rows.Scan(&mode, &total); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result[Mode(mode)] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// GetCountByDate returns the count for mode on date (YYYY-MM-DD).
func (s *Store) GetCountByDate(mode Mode, date string) (int64, error) {
	var count int64
	row := s.db.QueryRow("SELECT COALESCE(count, 0) FROM invocation_counts WHERE mode = ? AND date = ?", string(mode), date)
	if err := row.Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get count: %w", err)
	}
	return count, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
