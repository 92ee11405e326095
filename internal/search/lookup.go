package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
)

const (
	// MinRandomTokens and MinRandomQuality bound the entities RandomEntity returns.
	MinRandomTokens  = 5
	MinRandomQuality = 0.10

	maxRandomAttempts = 100
)

// FindTranslation searches targetLanguage for the entity most similar to
// entity, at entity's own level, using the engine's parameters. It returns
// nil when nothing matches.
func (e *Engine) FindTranslation(ctx context.Context, entity models.Entity, targetLanguage string) (models.Entity, error) {
	q := models.QueryFromEntity(entity, targetLanguage)
	res, err := e.ParametrizedSearch(ctx, OptimizedCompiler{Params: e.params}, q, entity.Granularity(), models.Page{Number: 1, Size: 1})
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	return res.Hits[0].Entity, nil
}

// RandomEntity draws entities of level g in language until one has at least
// MinRandomTokens tokens and MinRandomQuality recognition quality. It gives up
// with ErrNoSuitableEntity after a bounded number of draws.
func (e *Engine) RandomEntity(ctx context.Context, language string, g models.Granularity) (models.Entity, error) {
	if !g.IsSingle() {
		return nil, fmt.Errorf("%w: %s", index.ErrInvalidGranularity, g)
	}
	language = strings.ToLower(strings.TrimSpace(language))
	filter := filtered(language, MatchAll())

	var found models.Entity
	err := e.withSearcher(language, g, func(s *index.Searcher) error {
		count, err := s.Search(ctx, bleve.NewSearchRequestOptions(filter, 0, 0, false))
		if err != nil {
			return err
		}
		if count.Total == 0 {
			return ErrNoSuitableEntity
		}

		for attempt := 0; attempt < maxRandomAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			req := bleve.NewSearchRequestOptions(filter, 1, rand.IntN(int(count.Total)), false)
			req.Fields = []string{"*"}
			req.SortBy([]string{"_id"})
			res, err := s.Search(ctx, req)
			if err != nil {
				return err
			}
			if len(res.Hits) == 0 {
				continue
			}
			entity, err := codec.Decode(g, codec.Record(res.Hits[0].Fields))
			if err != nil {
				return err
			}
			if entity.Size() >= MinRandomTokens && entity.Quality() >= MinRandomQuality {
				found = entity
				return nil
			}
		}
		e.logger.Debug("no suitable random entity",
			zap.String("language", language),
			zap.String("granularity", g.String()),
			zap.Int("attempts", maxRandomAttempts),
		)
		return ErrNoSuitableEntity
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}
