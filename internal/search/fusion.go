package search

import (
	"sort"
	"sync"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/models"
)

// FusedResult is one record of an ensemble with its summed member scores.
type FusedResult struct {
	ID     string
	Score  float64
	Record codec.Record
}

// MemberScore converts a member hit into its ensemble contribution. rank is
// the 0-based position of the hit in the member's results, total the number
// of hits the member returned and top the member's highest raw score.
func MemberScore(s models.Scoring, score, top float64, rank, total int) float64 {
	switch s {
	case models.ScoringLinear:
		if total <= 0 {
			return 0
		}
		return 1 - float64(rank)/float64(total)
	case models.ScoringAsymptotic:
		return 4 / float64(rank+4)
	case models.ScoringScoreRelative:
		if top <= 0 {
			return 1
		}
		return score / top
	}
	return 1
}

// scoreTable accumulates member scores per record id. Safe for concurrent use.
type scoreTable struct {
	mu      sync.Mutex
	results map[string]*FusedResult
}

func newScoreTable() *scoreTable {
	return &scoreTable{results: make(map[string]*FusedResult)}
}

// Add credits score to id. The record of the first member to report id is kept.
func (t *scoreTable) Add(id string, rec codec.Record, score float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.results[id]; ok {
		r.Score += score
		return
	}
	t.results[id] = &FusedResult{ID: id, Score: score, Record: rec}
}

// Ranked returns every result by ascending combined score, ties by id.
func (t *scoreTable) Ranked() []*FusedResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*FusedResult, 0, len(t.results))
	for _, r := range t.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}
