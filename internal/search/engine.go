// Package search compiles text and similarity queries against the corpus
// indexes, executes them through the index manager and rebuilds entity
// hierarchies from the hits.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	blevesearch "github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/models"
)

var (
	// ErrUnsupportedConversion is returned when a hit is asked for at a finer level than its own.
	ErrUnsupportedConversion = errors.New("cannot convert entity to a finer granularity")
	// ErrParentNotFound is returned when an ancestor of a hit is missing from the index.
	ErrParentNotFound = errors.New("parent entity not found")
	// ErrTooManyResults is returned when a bulk fetch matches more than MaxBulkResults records.
	ErrTooManyResults = errors.New("too many results")
	// ErrNoSuitableEntity is returned when no random entity passes the size and quality thresholds.
	ErrNoSuitableEntity = errors.New("no suitable entity found")
)

// MaxBulkResults caps the records a single children fetch may return.
const MaxBulkResults = 50000

// Engine runs searches and lookups against the indexes of a manager.
type Engine struct {
	manager *index.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
	params  models.Parameters
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records search counts and latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithParameters sets the parameters FindTranslation searches with.
func WithParameters(p models.Parameters) Option {
	return func(e *Engine) { e.params = p }
}

// NewEngine returns an engine over the manager's indexes.
func NewEngine(manager *index.Manager, opts ...Option) *Engine {
	e := &Engine{manager: manager, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Manager returns the index manager the engine reads from.
func (e *Engine) Manager() *index.Manager { return e.manager }

// TextSearch runs a free-text query. view defaults to the query's level.
func (e *Engine) TextSearch(ctx context.Context, q models.TextQuery, view models.Granularity, page models.Page) (*models.SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if view == 0 {
		view = q.SearchIn
	}
	return searchWith(ctx, e, "text", TextCompiler{}, q, q.Language, view, page)
}

// ParametrizedSearch compiles q with c and runs it.
func (e *Engine) ParametrizedSearch(ctx context.Context, c Compiler[models.ParametrizedQuery], q models.ParametrizedQuery, view models.Granularity, page models.Page) (*models.SearchResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return searchWith(ctx, e, "parametrized", c, q, q.Language, view, page)
}

func searchWith[Q any](ctx context.Context, e *Engine, kind string, c Compiler[Q], q Q, language string, view models.Granularity, page models.Page) (res *models.SearchResult, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch(kind, start, err) }()

	if !view.IsSingle() {
		return nil, fmt.Errorf("view must name a single level, got %s", view)
	}
	clause, physical, err := c.Compile(q, view)
	if err != nil {
		return nil, err
	}
	page.Normalize()
	res, err = e.Execute(ctx, language, clause, physical, view, page)
	if err != nil {
		return nil, err
	}
	res.QueryTime = time.Since(start).Milliseconds()
	e.logger.Debug("search",
		zap.String("kind", kind),
		zap.String("language", language),
		zap.String("searched", physical.String()),
		zap.Int("total", res.TotalResults),
		zap.Int64("query_time_ms", res.QueryTime),
	)
	return res, nil
}

// Execute runs a compiled clause against the index of level physical,
// restricted to language, and returns one page of hits at level view. An
// unserved language fails even for an empty clause, which returns no hits
// without touching the index.
func (e *Engine) Execute(ctx context.Context, language string, clause *Clause, physical, view models.Granularity, page models.Page) (*models.SearchResult, error) {
	out := &models.SearchResult{View: view, Searched: physical, Hits: []models.Hit{}}
	if _, err := e.manager.Normalize(index.Key{Language: language, Granularity: physical}); err != nil {
		return nil, err
	}
	if clause.Empty() {
		return out, nil
	}
	if view.FinerThan(physical) {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, physical, view)
	}

	page.Normalize()
	q := filtered(language, clause)
	req := bleve.NewSearchRequestOptions(q, page.Size, page.Offset(), false)
	req.Fields = []string{"*"}

	var hits blevesearch.DocumentMatchCollection
	err := e.withSearcher(language, physical, func(s *index.Searcher) error {
		res, err := s.Search(ctx, req)
		if err != nil {
			return err
		}
		out.TotalResults = int(res.Total)
		hits = res.Hits
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, hit := range hits {
		entity, err := codec.Decode(physical, codec.Record(hit.Fields))
		if err != nil {
			return nil, err
		}
		converted, err := e.EntityHierarchy(ctx, entity, view, false)
		if err != nil {
			return nil, err
		}
		out.Hits = append(out.Hits, models.Hit{Entity: converted, Score: hit.Score})
	}
	return out, nil
}

// filtered restricts a clause to records of one language.
func filtered(language string, clause *Clause) query.Query {
	return Bool().AddMust(Term(codec.FieldLanguage, language), clause).Query()
}

// withSearcher leases the reader of (language, g) for the duration of fn.
func (e *Engine) withSearcher(language string, g models.Granularity, fn func(*index.Searcher) error) (err error) {
	lease, err := e.manager.Lease(index.Key{Language: language, Granularity: g})
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lease.Release(); relErr != nil && err == nil {
			err = relErr
		}
	}()
	s, err := lease.Searcher()
	if err != nil {
		return err
	}
	return fn(s)
}
