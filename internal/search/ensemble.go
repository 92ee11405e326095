package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
)

// ErrNoMembers is returned for an ensemble without members.
var ErrNoMembers = errors.New("ensemble has no members")

// EnsembleSearch runs q once per member, each compiled by an OptimizedCompiler
// with the member's parameters and shift, and sums the members' scores per
// record.
//
// Hits are ordered by ASCENDING combined score, then by id: records that
// collected less member credit come first. Hit.Score carries the combined
// score and TotalResults the number of distinct records any member returned.
// Every member fetches (page+1)*size hits from the finest level any member
// needs.
func (e *Engine) EnsembleSearch(ctx context.Context, members []models.EnsembleMember, q models.ParametrizedQuery, view models.Granularity, page models.Page) (res *models.SearchResult, err error) {
	start := time.Now()
	defer func() { e.metrics.ObserveSearch("ensemble", start, err) }()

	if len(members) == 0 {
		return nil, ErrNoMembers
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if !view.IsSingle() {
		return nil, fmt.Errorf("view must name a single level, got %s", view)
	}
	page.Normalize()

	type compiled struct {
		clause  *Clause
		scoring models.Scoring
	}
	var (
		plans    []compiled
		physical = view
	)
	for i, m := range members {
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		mq := q
		mq.Shift = m.Shift
		clause, g, err := OptimizedCompiler{Params: m.Parameters}.Compile(mq, view)
		if err != nil {
			return nil, fmt.Errorf("member %d: %w", i, err)
		}
		physical |= g
		plans = append(plans, compiled{clause: clause, scoring: m.Scoring})
	}
	physical = physical.Finest()

	table := newScoreTable()
	fetch := (page.Number + 1) * page.Size
	err = e.withSearcher(q.Language, physical, func(s *index.Searcher) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, p := range plans {
			if p.clause.Empty() {
				continue
			}
			g.Go(func() error {
				req := bleve.NewSearchRequestOptions(filtered(q.Language, p.clause), fetch, 0, false)
				req.Fields = []string{"*"}
				hits, err := s.Search(gctx, req)
				if err != nil {
					return err
				}
				for rank, hit := range hits.Hits {
					table.Add(hit.ID, codec.Record(hit.Fields),
						MemberScore(p.scoring, hit.Score, hits.MaxScore, rank, len(hits.Hits)))
				}
				return nil
			})
		}
		return g.Wait()
	})
	if err != nil {
		return nil, err
	}

	ranked := table.Ranked()
	res = &models.SearchResult{
		TotalResults: len(ranked),
		Hits:         []models.Hit{},
		View:         view,
		Searched:     physical,
	}
	from := page.Offset()
	if from > len(ranked) {
		from = len(ranked)
	}
	to := from + page.Size
	if to > len(ranked) {
		to = len(ranked)
	}
	for _, r := range ranked[from:to] {
		entity, err := codec.Decode(physical, r.Record)
		if err != nil {
			return nil, err
		}
		converted, err := e.EntityHierarchy(ctx, entity, view, false)
		if err != nil {
			return nil, err
		}
		res.Hits = append(res.Hits, models.Hit{Entity: converted, Score: r.Score})
	}
	res.QueryTime = time.Since(start).Milliseconds()

	e.logger.Debug("ensemble search",
		zap.String("language", q.Language),
		zap.Int("members", len(members)),
		zap.String("searched", physical.String()),
		zap.Int("total", res.TotalResults),
		zap.Int64("query_time_ms", res.QueryTime),
	)
	return res, nil
}
