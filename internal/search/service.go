// Package search runs the craving pipeline: cache, parse, vector search with
// re-ranking and hydration, then the hinted and simple keyword fallbacks.
// No stage failure escapes FindCraving; the worst case is an empty result.
package search

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/ca-srg/cravings/internal/cache"
	"github.com/ca-srg/cravings/internal/embedding"
	"github.com/ca-srg/cravings/internal/hydrator"
	"github.com/ca-srg/cravings/internal/keyword"
	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/rerank"
	"github.com/ca-srg/cravings/internal/rules"
	"github.com/ca-srg/cravings/internal/vectorindex"
)

// Stage names the pipeline step that produced a result.
type Stage string

const (
	StageCache  Stage = "cache"
	StageVector Stage = "vector"
	StageHinted Stage = "hinted"
	StageSimple Stage = "simple"
	StageEmpty  Stage = "empty"
)

// ErrInternal is the only error FindCraving returns. It carries no detail.
var ErrInternal = errors.New("internal error")

var (
	searchTracer = otel.Tracer("github.com/ca-srg/cravings/internal/search")
	searchMeter  = otel.Meter("github.com/ca-srg/cravings/internal/search")
)

// Parser turns raw text into a ParsedQuery without failing.
type Parser interface {
	Parse(ctx context.Context, raw string) menu.ParsedQuery
}

// Deps are the collaborators of a Service. Embedder, Index and Hydrator may
// be nil, which disables the vector path or hydration.
type Deps struct {
	Parser   Parser
	Embedder embedding.Embedder
	Index    vectorindex.Index
	Hydrator *hydrator.Hydrator
	Items    menu.Store
	Cache    cache.Cache
	CacheTTL time.Duration
	Rules    *rules.Rules
}

// Service answers craving queries.
type Service struct {
	parser   Parser
	embedder embedding.Embedder
	index    vectorindex.Index
	hydrator *hydrator.Hydrator
	items    menu.Store
	cache    cache.Cache
	cacheTTL time.Duration
	rules    *rules.Rules
	reranker *rerank.Reranker
	keyword  *keyword.Searcher
	stages   metric.Int64Counter
	logger   zerolog.Logger
}

// NewService validates deps and builds a Service.
func NewService(deps Deps, logger zerolog.Logger) (*Service, error) {
	if deps.Parser == nil {
		return nil, fmt.Errorf("parser cannot be nil")
	}
	if deps.Items == nil {
		return nil, fmt.Errorf("menu store cannot be nil")
	}
	if deps.Rules == nil {
		deps.Rules = rules.Default()
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemory()
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = cache.DefaultTTL
	}

	logger = logger.With().Str("component", "search").Logger()
	stages, err := searchMeter.Int64Counter(
		"cravings.search.stage",
		metric.WithDescription("Craving searches by the pipeline stage that produced the answer"),
		metric.WithUnit("{searches}"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create stage counter")
	}

	return &Service{
		parser:   deps.Parser,
		embedder: deps.Embedder,
		index:    deps.Index,
		hydrator: deps.Hydrator,
		items:    deps.Items,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		rules:    deps.Rules,
		reranker: rerank.New(deps.Rules),
		keyword:  keyword.New(deps.Rules),
		stages:   stages,
		logger:   logger,
	}, nil
}

// FindCraving returns at most the configured result limit of matches for
// raw. A non-nil error is always ErrInternal.
func (s *Service) FindCraving(ctx context.Context, raw string) ([]menu.SearchMatch, error) {
	matches, _, err := s.find(ctx, raw)
	return matches, err
}

func (s *Service) find(ctx context.Context, raw string) (matches []menu.SearchMatch, stage Stage, err error) {
	ctx, span := searchTracer.Start(ctx, "search.find_craving")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("craving search panicked")
			span.SetStatus(codes.Error, "panic")
			matches, stage, err = nil, StageEmpty, ErrInternal
		}
	}()

	key := cache.Key(raw)
	if key == "" {
		return []menu.SearchMatch{}, StageEmpty, nil
	}
	span.SetAttributes(attribute.Int("search.query_length", len(key)))

	if cached, cerr := s.cache.Get(ctx, key); cerr == nil {
		s.record(ctx, span, StageCache, len(cached))
		return cached, StageCache, nil
	} else if !errors.Is(cerr, cache.ErrCacheMiss) {
		s.logger.Warn().Err(cerr).Msg("cache lookup failed")
	}

	parsed := s.parser.Parse(ctx, raw)
	span.SetAttributes(attribute.Bool("search.parsed_by_model", parsed.FromModel))

	matches, stage = s.pipeline(ctx, raw, parsed)
	if len(matches) > 0 {
		if cerr := s.cache.Set(ctx, key, matches, s.cacheTTL); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("cache write failed")
		}
	}
	if matches == nil {
		matches = []menu.SearchMatch{}
	}

	s.record(ctx, span, stage, len(matches))
	return matches, stage, nil
}

func (s *Service) pipeline(ctx context.Context, raw string, parsed menu.ParsedQuery) ([]menu.SearchMatch, Stage) {
	matches, err := s.vectorStage(ctx, parsed)
	if err == nil && len(matches) > 0 {
		return matches, StageVector
	}
	if err != nil {
		s.logger.Info().Err(err).Msg("vector stage unavailable, using keyword fallback")
	}

	items, err := s.listItems(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("menu unavailable for keyword fallback")
		return nil, StageEmpty
	}

	if parsed.FromModel {
		hinted, err := s.hintedStage(ctx, items, raw, parsed)
		if err == nil {
			if len(hinted) == 0 {
				return hinted, StageEmpty
			}
			return hinted, StageHinted
		}
		s.logger.Warn().Err(err).Msg("hinted search failed, using simple keyword search")
	}

	simple, err := s.simpleStage(ctx, items, raw)
	if err != nil {
		s.logger.Warn().Err(err).Msg("simple keyword search failed")
		return nil, StageEmpty
	}
	if len(simple) == 0 {
		return simple, StageEmpty
	}
	return simple, StageSimple
}

func (s *Service) vectorStage(ctx context.Context, parsed menu.ParsedQuery) (matches []menu.SearchMatch, err error) {
	ctx, span := searchTracer.Start(ctx, "search.vector_stage")
	defer span.End()
	defer guard(&err, "vector")

	if s.embedder == nil || s.index == nil {
		return nil, vectorindex.ErrUnavailable
	}

	text := s.reranker.EmbeddingText(parsed)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.index.Query(ctx, vector, s.rules.Rerank.CandidatePool)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query index: %w", err)
	}
	span.SetAttributes(attribute.Int("search.candidates", len(hits)))

	ranked := s.reranker.Rank(parsed, hits)
	if len(ranked) == 0 || s.hydrator == nil {
		return ranked, nil
	}
	return withinBudget(s.hydrator.Hydrate(ctx, ranked), parsed.Hints), nil
}

// withinBudget drops matches whose live price exceeds the budget. Index
// metadata can lag the store, so the check is repeated after hydration.
func withinBudget(matches []menu.SearchMatch, hints menu.Hints) []menu.SearchMatch {
	if !hints.HasBudget() {
		return matches
	}
	kept := matches[:0:0]
	for _, m := range matches {
		if m.Metadata.Price <= *hints.Budget {
			kept = append(kept, m)
		}
	}
	return kept
}

func (s *Service) hintedStage(ctx context.Context, items []menu.MenuItem, raw string, parsed menu.ParsedQuery) (matches []menu.SearchMatch, err error) {
	_, span := searchTracer.Start(ctx, "search.hinted_stage")
	defer span.End()
	defer guard(&err, "hinted")

	return s.keyword.Hinted(items, raw, parsed), nil
}

func (s *Service) simpleStage(ctx context.Context, items []menu.MenuItem, raw string) (matches []menu.SearchMatch, err error) {
	_, span := searchTracer.Start(ctx, "search.simple_stage")
	defer span.End()
	defer guard(&err, "simple")

	return s.keyword.Simple(items, raw), nil
}

func (s *Service) listItems(ctx context.Context) (items []menu.MenuItem, err error) {
	defer guard(&err, "menu")
	return s.items.ListItems(ctx)
}

func (s *Service) record(ctx context.Context, span interface {
	SetAttributes(...attribute.KeyValue)
}, stage Stage, n int) {
	span.SetAttributes(attribute.String("search.stage", string(stage)), attribute.Int("search.results", n))
	if s.stages != nil {
		s.stages.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
	s.logger.Debug().Str("stage", string(stage)).Int("results", n).Msg("craving search answered")
}

// guard converts a panic inside a stage into an error for that stage.
func guard(err *error, stage string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%s stage panicked: %v", stage, r)
	}
}
