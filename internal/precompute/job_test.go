package precompute

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ca-srg/cravings/internal/hashstore"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/vectorindex"
)

type fakeStore struct {
	mu    sync.Mutex
	items []menu.MenuItem
	gate  chan struct{}
}

func (s *fakeStore) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]menu.MenuItem(nil), s.items...), nil
}

func (s *fakeStore) GetItems(ctx context.Context, ids []int64) ([]menu.MenuItem, error) {
	return nil, nil
}

// textEmbedder derives a one-dimensional vector from the text length so tests
// can check which text produced which vector.
type textEmbedder struct {
	batchCalls atomic.Int64
	itemCalls  atomic.Int64
	failBatch  bool
	failText   string
}

func (e *textEmbedder) vector(text string) []float32 {
	return []float32{float32(len([]rune(text)))}
}

func (e *textEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.itemCalls.Add(1)
	if e.failText != "" && strings.Contains(text, e.failText) {
		return nil, errors.New("embedding rejected")
	}
	return e.vector(text), nil
}

func (e *textEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.failBatch {
		return nil, errors.New("batch endpoint down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

type recordingIndex struct {
	*vectorindex.Memory
	mu          sync.Mutex
	upserts     []vectorindex.Record
	failProbe   bool
	probeChunks int
}

func (r *recordingIndex) Upsert(ctx context.Context, records []vectorindex.Record) error {
	r.mu.Lock()
	r.upserts = append(r.upserts, records...)
	r.mu.Unlock()
	return r.Memory.Upsert(ctx, records)
}

func (r *recordingIndex) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	r.mu.Lock()
	r.probeChunks++
	r.mu.Unlock()
	if r.failProbe {
		return nil, errors.New("probe failed")
	}
	return r.Memory.Existing(ctx, ids)
}

func (r *recordingIndex) upserted() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.upserts)
}

func newIndex() *recordingIndex {
	return &recordingIndex{Memory: vectorindex.NewMemory()}
}

func menuItems(n int) []menu.MenuItem {
	items := make([]menu.MenuItem, n)
	for i := range items {
		items[i] = menu.MenuItem{
			ID:          int64(i + 1),
			Name:        fmt.Sprintf("Dish %d", i+1),
			Description: strings.Repeat("x", i),
			Price:       100,
			IsAvailable: true,
		}
	}
	return items
}

func TestRun_SecondRunUpsertsNothing(t *testing.T) {
	store := &fakeStore{items: menuItems(5)}
	index := newIndex()
	embedder := &textEmbedder{}
	job := NewJob(store, index, embedder, nil, Options{}, zerolog.Nop())

	first, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)
	assert.Equal(t, 5, first.Upserted)
	assert.Equal(t, 5, index.Len())

	second, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Upserted)
	assert.Equal(t, 5, second.Skipped)
	assert.Equal(t, 5, index.upserted())
	assert.Equal(t, int64(1), embedder.batchCalls.Load())
}

func TestRun_ReembedsChangedItems(t *testing.T) {
	hashes, err := hashstore.NewHashStoreWithPath(filepath.Join(t.TempDir(), "hashes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hashes.Close() })

	store := &fakeStore{items: menuItems(3)}
	index := newIndex()
	job := NewJob(store, index, &textEmbedder{}, hashes, Options{}, zerolog.Nop())

	_, err = job.Run(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	store.items[1].Price = 250
	store.mu.Unlock()

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Upserted)
	assert.Equal(t, 2, report.Skipped)

	report, err = job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Upserted)
}

func TestRun_AdoptsItemsAlreadyInIndex(t *testing.T) {
	hashes, err := hashstore.NewHashStoreWithPath(filepath.Join(t.TempDir(), "hashes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = hashes.Close() })

	store := &fakeStore{items: menuItems(2)}
	index := newIndex()
	_, err = NewJob(store, index, &textEmbedder{}, nil, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)

	report, err := NewJob(store, index, &textEmbedder{}, hashes, Options{}, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Upserted)

	recorded, err := hashes.GetAllItemHashes(context.Background(), "menu-items")
	require.NoError(t, err)
	assert.Len(t, recorded, 2)
}

func TestRun_PreservesOrderAcrossChunks(t *testing.T) {
	store := &fakeStore{items: menuItems(23)}
	index := newIndex()
	embedder := &textEmbedder{}
	var progress []int
	var mu sync.Mutex
	job := NewJob(store, index, embedder, nil, Options{ChunkSize: 4, Workers: 3, UpsertBatch: 5}, zerolog.Nop())
	job.SetProgressCallback(func(done, total int) {
		mu.Lock()
		progress = append(progress, done)
		mu.Unlock()
		assert.Equal(t, 23, total)
	})

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 23, report.Upserted)
	assert.Equal(t, int64(6), embedder.batchCalls.Load())
	assert.Len(t, progress, 6)
	assert.Contains(t, progress, 23)

	byID := make(map[string]menu.MenuItem)
	for _, item := range store.items {
		byID[item.Key()] = item
	}
	for _, rec := range index.upserts {
		item := byID[rec.ID]
		assert.Equal(t, embedder.vector(EmbeddingText(item, 512)), rec.Vector, rec.ID)
		assert.Equal(t, item.Name, rec.Item.Name)
	}
}

func TestRun_FallsBackToPerItemEmbedding(t *testing.T) {
	store := &fakeStore{items: menuItems(3)}
	store.items[2].Name = "Broken Dish"
	index := newIndex()
	embedder := &textEmbedder{failBatch: true, failText: "Broken"}
	job := NewJob(store, index, embedder, nil, Options{}, zerolog.Nop())

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), embedder.batchCalls.Load())
	assert.Equal(t, int64(3), embedder.itemCalls.Load())
	assert.Equal(t, 2, report.Upserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []string{"3"}, report.FailedIDs)
}

func TestRun_ProbeFailureTreatsChunkAsAbsent(t *testing.T) {
	store := &fakeStore{items: menuItems(250)}
	index := newIndex()
	job := NewJob(store, index, &textEmbedder{}, nil, Options{}, zerolog.Nop())

	_, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, index.probeChunks)

	index.failProbe = true
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 250, report.Upserted)
}

func TestRun_PrunesItemsLeavingTheMenu(t *testing.T) {
	store := &fakeStore{items: menuItems(4)}
	index := newIndex()
	job := NewJob(store, index, &textEmbedder{}, nil, Options{Prune: true}, zerolog.Nop())

	_, err := job.Run(context.Background())
	require.NoError(t, err)

	store.mu.Lock()
	store.items = store.items[:2]
	store.mu.Unlock()

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Pruned)
	ids, err := index.ListIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestEmbeddingText(t *testing.T) {
	item := menu.MenuItem{Name: "Masala Chai", Description: "spiced tea"}
	assert.Equal(t, "Masala Chai - spiced tea", EmbeddingText(item, 512))

	long := menu.MenuItem{Name: "Crème", Description: strings.Repeat("é", 600)}
	text := EmbeddingText(long, 512)
	assert.Equal(t, 512, len([]rune(text)))
	assert.True(t, strings.HasPrefix(text, "Crème - "))
}

func TestRunner_SingleFlight(t *testing.T) {
	store := &fakeStore{items: menuItems(2), gate: make(chan struct{})}
	runner := NewRunner(NewJob(store, newIndex(), &textEmbedder{}, nil, Options{}, zerolog.Nop()), zerolog.Nop())
	runner.newID = func() string { return "run-1" }

	runID, err := runner.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-1", runID)
	assert.True(t, runner.Status().Running)

	_, err = runner.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(store.gate)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))

	status := runner.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.Last)
	assert.Equal(t, "run-1", status.Last.RunID)
	assert.Equal(t, 2, status.Last.Upserted)
}

type explodingStore struct{ fakeStore }

func (s *explodingStore) ListItems(ctx context.Context) ([]menu.MenuItem, error) {
	panic("menu table dropped")
}

func TestRunner_RecoversFromPanic(t *testing.T) {
	runner := NewRunner(NewJob(&explodingStore{}, newIndex(), &textEmbedder{}, nil, Options{}, zerolog.Nop()), zerolog.Nop())
	runner.newID = func() string { return "run-boom" }

	_, err := runner.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, runner.Wait(ctx))

	status := runner.Status()
	assert.False(t, status.Running)
	require.NotNil(t, status.Last)
	assert.Equal(t, "run-boom", status.Last.RunID)
	assert.Contains(t, status.Last.Error, "menu table dropped")

	// The runner accepts a new run after the panic.
	runner.newID = func() string { return "run-2" }
	runID, err := runner.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-2", runID)
	require.NoError(t, runner.Wait(ctx))
}
