package menustore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/menu"
)

// SnapshotDocument is the JSON layout of a menu snapshot.
type SnapshotDocument struct {
	MenuItems []menu.MenuItem `json:"menu_items"`
	Orders    []Order         `json:"orders"`
}

// Loader fetches the raw snapshot bytes.
type Loader func(ctx context.Context) ([]byte, error)

type s3GetObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Loader reads the snapshot from s3://bucket/key.
func S3Loader(client s3GetObjectAPI, bucket, key string) Loader {
	return func(ctx context.Context) ([]byte, error) {
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
		}
		defer func() { _ = out.Body.Close() }()

		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read s3://%s/%s: %w", bucket, key, err)
		}
		return data, nil
	}
}

// FileLoader reads the snapshot from a local file.
func FileLoader(path string) Loader {
	return func(ctx context.Context) ([]byte, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read snapshot %s: %w", path, err)
		}
		return data, nil
	}
}

// Snapshot serves a menu snapshot from memory and reloads it when older
// than maxAge. A failed reload keeps serving the previous content.
type Snapshot struct {
	*Memory
	load   Loader
	maxAge time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.Mutex
	loadedAt time.Time
}

// NewSnapshot loads the snapshot once and returns the store. maxAge <= 0
// disables reloading.
func NewSnapshot(ctx context.Context, load Loader, maxAge time.Duration, logger zerolog.Logger) (*Snapshot, error) {
	s := &Snapshot{
		Memory: NewMemory(nil, nil),
		load:   load,
		maxAge: maxAge,
		now:    time.Now,
		logger: logger.With().Str("component", "menu_snapshot").Logger(),
	}
	if err := s.Reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload fetches and swaps in the latest snapshot.
func (s *Snapshot) Reload(ctx context.Context) error {
	data, err := s.load(ctx)
	if err != nil {
		return err
	}

	var doc SnapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode menu snapshot: %w", err)
	}
	s.Memory.Replace(doc.MenuItems, doc.Orders)

	s.mu.Lock()
	s.loadedAt = s.now()
	s.mu.Unlock()

	s.logger.Info().Int("items", len(doc.MenuItems)).Int("orders", len(doc.Orders)).Msg("menu snapshot loaded")
	return nil
}

// ListItems reloads a stale snapshot before listing.
func (s *Snapshot) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	s.refreshIfStale(ctx)
	return s.Memory.ListItems(ctx)
}

func (s *Snapshot) refreshIfStale(ctx context.Context) {
	if s.maxAge <= 0 {
		return
	}
	s.mu.Lock()
	stale := s.now().Sub(s.loadedAt) >= s.maxAge
	s.mu.Unlock()
	if !stale {
		return
	}
	if err := s.Reload(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("snapshot reload failed, serving previous content")
	}
}
