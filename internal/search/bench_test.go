package search

import (
	"fmt"
	"testing"

	"github.com/hyperjump/lexalign/internal/models"
)

func BenchmarkScoreTable(b *testing.B) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%03d", i)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		table := newScoreTable()
		for member := 0; member < 3; member++ {
			for rank, id := range ids {
				table.Add(id, nil, MemberScore(models.ScoringAsymptotic, 0, 0, rank, len(ids)))
			}
		}
		_ = table.Ranked()
	}
}

func BenchmarkParametrizedCompile(b *testing.B) {
	tokens := make([]string, 200)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("EV%04d", i)
	}
	q := models.ParametrizedQuery{
		Language:        "hr",
		ParagraphTokens: tokens,
		ParagraphTopics: []string{"04", "20", "1216"},
		SentenceTokens:  tokens[:50],
		SearchIn:        models.GranularityParagraph,
	}
	c := ParametrizedCompiler{Params: benchParameters()}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clause, _, err := c.Compile(q, models.GranularityParagraph)
		if err != nil {
			b.Fatal(err)
		}
		_ = clause.Query()
	}
}

func BenchmarkFilteredList(b *testing.B) {
	source := make([]string, 500)
	for i := range source {
		source[i] = fmt.Sprintf("t%d", i)
	}
	k := TargetCount(0.35, len(source))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FilteredList(source, k, i%len(source))
	}
}

func benchParameters() models.Parameters {
	return models.Parameters{
		ParagraphTopicWeight:      0.5,
		ParagraphSingleTermWeight: 1,
		ParagraphTopicLimit:       0.2,
		ParagraphTokenLimit:       0.35,
		UseParagraphTokens:        true,
		UseParagraphTopics:        true,
	}
}
