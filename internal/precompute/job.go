// Package precompute embeds the menu into the vector index out of band.
// Runs are idempotent: items already present with unchanged content are
// skipped, so a second run over an unchanged menu upserts nothing.
package precompute

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/ca-srg/cravings/internal/embedding"
	"github.com/ca-srg/cravings/internal/hashstore"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/vectorindex"
)

var tracer = otel.Tracer("github.com/ca-srg/cravings/internal/precompute")

// Options tunes a run. Zero values take the defaults.
type Options struct {
	IndexName    string
	ChunkSize    int
	Workers      int
	UpsertBatch  int
	ProbeBatch   int
	MaxTextChars int
	// Prune deletes index entries for items no longer on the menu.
	Prune bool
}

func (o *Options) applyDefaults() {
	if o.IndexName == "" {
		o.IndexName = "menu-items"
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 32
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.UpsertBatch <= 0 {
		o.UpsertBatch = 100
	}
	if o.ProbeBatch <= 0 {
		o.ProbeBatch = 100
	}
	if o.MaxTextChars <= 0 {
		o.MaxTextChars = 512
	}
}

// ProgressCallback is called after each embedded chunk.
type ProgressCallback func(done, total int)

// Report summarises one run.
type Report struct {
	RunID      string    `json:"run_id,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Total      int       `json:"total"`
	Skipped    int       `json:"skipped"`
	Embedded   int       `json:"embedded"`
	Upserted   int       `json:"upserted"`
	Pruned     int       `json:"pruned"`
	Failed     int       `json:"failed"`
	FailedIDs  []string  `json:"failed_ids,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Job embeds menu items and writes them to an index.
type Job struct {
	store    menu.Store
	index    vectorindex.Index
	embedder embedding.Embedder
	hashes   *hashstore.HashStore
	opts     Options
	logger   zerolog.Logger
	progress ProgressCallback
}

// NewJob wires a job. hashes may be nil, in which case only index presence
// decides what to skip.
func NewJob(store menu.Store, index vectorindex.Index, embedder embedding.Embedder, hashes *hashstore.HashStore, opts Options, logger zerolog.Logger) *Job {
	opts.applyDefaults()
	return &Job{
		store:    store,
		index:    index,
		embedder: embedder,
		hashes:   hashes,
		opts:     opts,
		logger:   logger.With().Str("component", "precompute").Logger(),
	}
}

// SetProgressCallback registers fn for embedding progress updates.
func (j *Job) SetProgressCallback(fn ProgressCallback) {
	j.progress = fn
}

// Run performs one full pass over the menu.
func (j *Job) Run(ctx context.Context) (*Report, error) {
	ctx, span := tracer.Start(ctx, "precompute.run")
	defer span.End()

	report := &Report{StartedAt: time.Now()}
	defer func() { report.FinishedAt = time.Now() }()

	items, err := j.store.ListItems(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list_items_failed")
		return report, fmt.Errorf("fetch menu items: %w", err)
	}
	report.Total = len(items)
	j.logger.Info().Int("items", len(items)).Str("index", j.opts.IndexName).Msg("fetched menu items")

	ids := make([]string, len(items))
	digests := make([]hashstore.ItemDigest, len(items))
	for i, item := range items {
		ids[i] = item.Key()
		digests[i] = hashstore.ItemDigest{ItemID: ids[i], ContentHash: hashstore.ContentHash(item)}
	}

	present := j.probe(ctx, ids)
	changes := j.detect(ctx, digests)

	var (
		pending []menu.MenuItem
		adopted []hashstore.ItemHashRecord
	)
	for i, item := range items {
		id := ids[i]
		if !present[id] || changes.modified[id] {
			pending = append(pending, item)
			continue
		}
		report.Skipped++
		if changes.unknown[id] {
			adopted = append(adopted, hashstore.ItemHashRecord{IndexName: j.opts.IndexName, ItemID: id, ContentHash: digests[i].ContentHash})
		}
	}

	if len(pending) == 0 {
		j.logger.Info().Msg("all items already embedded, nothing to do")
	} else {
		j.logger.Info().Int("pending", len(pending)).Int("skipped", report.Skipped).Msg("embedding new or changed items")
	}

	texts := make([]string, len(pending))
	for i, item := range pending {
		texts[i] = EmbeddingText(item, j.opts.MaxTextChars)
	}
	vectors := j.embedAll(ctx, texts)

	records := make([]vectorindex.Record, 0, len(pending))
	for i, item := range pending {
		if vectors[i] == nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, item.Key())
			j.logger.Warn().Str("item_id", item.Key()).Msg("skipping item after embedding failure")
			continue
		}
		records = append(records, vectorindex.Record{ID: item.Key(), Vector: vectors[i], Item: item.View()})
	}
	report.Embedded = len(records)

	upserted, err := j.upsert(ctx, records)
	report.Upserted = upserted
	if err != nil {
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert_failed")
		return report, err
	}

	if err := j.recordHashes(ctx, append(adopted, j.hashRecords(records, digests, ids)...)); err != nil {
		j.logger.Warn().Err(err).Msg("failed to record item hashes")
	}

	if j.opts.Prune {
		pruned, err := j.prune(ctx, ids, changes.deleted)
		report.Pruned = pruned
		if err != nil {
			report.Error = err.Error()
			span.RecordError(err)
			return report, err
		}
	}

	span.SetAttributes(
		attribute.Int("precompute.total", report.Total),
		attribute.Int("precompute.skipped", report.Skipped),
		attribute.Int("precompute.upserted", report.Upserted),
		attribute.Int("precompute.failed", report.Failed),
	)
	j.logger.Info().Int("upserted", report.Upserted).Int("skipped", report.Skipped).Int("failed", report.Failed).
		Int("pruned", report.Pruned).Msg("precompute finished")
	return report, nil
}

// probe asks the index which ids are stored, in chunks. A failed chunk
// counts as not present.
func (j *Job) probe(ctx context.Context, ids []string) map[string]bool {
	present := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += j.opts.ProbeBatch {
		end := min(start+j.opts.ProbeBatch, len(ids))
		found, err := j.index.Existing(ctx, ids[start:end])
		if err != nil {
			j.logger.Warn().Err(err).Int("offset", start).Msg("existence probe failed, treating chunk as absent")
			continue
		}
		for id, ok := range found {
			if ok {
				present[id] = true
			}
		}
	}
	return present
}

type changeSet struct {
	modified map[string]bool
	unknown  map[string]bool
	deleted  []string
}

func (j *Job) detect(ctx context.Context, digests []hashstore.ItemDigest) changeSet {
	set := changeSet{modified: map[string]bool{}, unknown: map[string]bool{}}
	if j.hashes == nil {
		return set
	}
	result, err := hashstore.NewChangeDetector(j.hashes).DetectChanges(ctx, j.opts.IndexName, digests)
	if err != nil {
		j.logger.Warn().Err(err).Msg("change detection failed, relying on index presence only")
		return set
	}
	for _, c := range result.Modified {
		set.modified[c.ItemID] = true
	}
	for _, c := range result.New {
		set.unknown[c.ItemID] = true
	}
	set.deleted = result.Deleted
	return set
}

// embedAll embeds texts in chunks on a bounded worker pool. Each chunk writes
// into its own offset range, so the output order matches texts. Failed items
// are nil.
func (j *Job) embedAll(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.opts.Workers)

	for start := 0; start < len(texts); start += j.opts.ChunkSize {
		end := min(start+j.opts.ChunkSize, len(texts))
		g.Go(func() error {
			vecs := j.embedChunk(gctx, texts[start:end])
			copy(out[start:end], vecs)
			n := done.Add(int64(end - start))
			if j.progress != nil {
				j.progress(int(n), len(texts))
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// embedChunk tries the batch endpoint twice, then falls back to one call
// per item.
func (j *Job) embedChunk(ctx context.Context, chunk []string) [][]float32 {
	if batcher, ok := j.embedder.(embedding.BatchEmbedder); ok {
		for attempt := 1; attempt <= 2; attempt++ {
			vecs, err := batcher.EmbedBatch(ctx, chunk)
			if err == nil && len(vecs) == len(chunk) {
				return vecs
			}
			j.logger.Debug().Err(err).Int("attempt", attempt).Int("size", len(chunk)).Msg("batch embedding failed")
			if ctx.Err() != nil {
				return make([][]float32, len(chunk))
			}
		}
	}

	out := make([][]float32, len(chunk))
	for i, text := range chunk {
		vec, err := j.embedder.Embed(ctx, text)
		if err != nil {
			continue
		}
		out[i] = vec
	}
	return out
}

func (j *Job) upsert(ctx context.Context, records []vectorindex.Record) (int, error) {
	uploaded := 0
	for start := 0; start < len(records); start += j.opts.UpsertBatch {
		end := min(start+j.opts.UpsertBatch, len(records))
		if err := j.index.Upsert(ctx, records[start:end]); err != nil {
			return uploaded, fmt.Errorf("upsert batch at offset %d: %w", start, err)
		}
		uploaded += end - start
	}
	return uploaded, nil
}

func (j *Job) hashRecords(records []vectorindex.Record, digests []hashstore.ItemDigest, ids []string) []hashstore.ItemHashRecord {
	byID := make(map[string]string, len(ids))
	for i, id := range ids {
		byID[id] = digests[i].ContentHash
	}
	now := time.Now()
	out := make([]hashstore.ItemHashRecord, 0, len(records))
	for _, r := range records {
		out = append(out, hashstore.ItemHashRecord{
			IndexName:   j.opts.IndexName,
			ItemID:      r.ID,
			ContentHash: byID[r.ID],
			EmbeddedAt:  now,
		})
	}
	return out
}

func (j *Job) recordHashes(ctx context.Context, records []hashstore.ItemHashRecord) error {
	if j.hashes == nil || len(records) == 0 {
		return nil
	}
	return j.hashes.UpsertItemHashes(ctx, records)
}

// prune removes index entries whose item left the menu.
func (j *Job) prune(ctx context.Context, menuIDs []string, knownDeleted []string) (int, error) {
	onMenu := make(map[string]bool, len(menuIDs))
	for _, id := range menuIDs {
		onMenu[id] = true
	}

	stale := make(map[string]bool)
	for _, id := range knownDeleted {
		stale[id] = true
	}
	indexed, err := j.index.ListIDs(ctx)
	if err != nil {
		j.logger.Warn().Err(err).Msg("listing index ids failed, pruning from hash records only")
	}
	for _, id := range indexed {
		if !onMenu[id] {
			stale[id] = true
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for id := range stale {
		ids = append(ids, id)
	}
	for start := 0; start < len(ids); start += j.opts.UpsertBatch {
		end := min(start+j.opts.UpsertBatch, len(ids))
		if err := j.index.Delete(ctx, ids[start:end]); err != nil {
			return start, fmt.Errorf("delete stale vectors: %w", err)
		}
	}
	if j.hashes != nil {
		if _, err := j.hashes.DeleteItemHashes(ctx, j.opts.IndexName, ids); err != nil {
			j.logger.Warn().Err(err).Msg("failed to delete stale item hashes")
		}
	}
	return len(ids), nil
}

// EmbeddingText is the text embedded for an item, cut to maxChars runes.
func EmbeddingText(item menu.MenuItem, maxChars int) string {
	text := item.Name + " - " + item.Description
	runes := []rune(text)
	if maxChars > 0 && len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return text
}
