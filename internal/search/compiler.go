package search

import (
	"math"
	"sort"
	"strings"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/pkg/utils"
)

const (
	// iatePrefix marks IATE ids among sentence tokens; all others are EuroVoc.
	iatePrefix = "IATE"

	minSampledTerms = 25
	maxSampledTerms = 1000
)

// Compiler turns a query into a clause tree and the index level the tree
// must run against. view is the level the caller wants results at; the
// returned level is never coarser than view.
type Compiler[Q any] interface {
	Compile(q Q, view models.Granularity) (*Clause, models.Granularity, error)
}

// TextCompiler compiles free-text queries. All terms are required and
// quoted phrases are supported.
type TextCompiler struct{}

// Compile implements Compiler.
func (TextCompiler) Compile(q models.TextQuery, view models.Granularity) (*Clause, models.Granularity, error) {
	return Text(q.QueryString), (view | q.SearchIn).Finest(), nil
}

// ParametrizedCompiler compiles similarity queries into one weighted SHOULD
// group per (level, token|topic) list.
type ParametrizedCompiler struct {
	Params models.Parameters
	// AlwaysUseCoarse enables the document and section levels regardless of
	// the DocumentSimilarity and SectionSimilarity parameters.
	AlwaysUseCoarse bool
}

// Compile implements Compiler.
func (c ParametrizedCompiler) Compile(q models.ParametrizedQuery, view models.Granularity) (*Clause, models.Granularity, error) {
	p := c.Params
	root := Bool()
	levels := view

	if q.SearchIn&models.GranularityDocument != 0 && (c.AlwaysUseCoarse || p.DocumentSimilarity > 0) {
		levels |= models.GranularityDocument
		if p.UseDocumentTokens {
			root.AddMust(termGroup(codec.FieldDocumentToken, q.DocumentTokens, p.DocumentTokenLimit, p.DocumentSingleTermWeight))
		}
		if p.UseDocumentTopics {
			root.AddMust(termGroup(codec.FieldDocumentTopic, q.DocumentTopics, p.DocumentTopicLimit, p.DocumentTopicWeight))
		}
	}

	if q.SearchIn&models.GranularitySection != 0 && (c.AlwaysUseCoarse || p.SectionSimilarity > 0) {
		levels |= models.GranularitySection
		if p.UseSectionTokens {
			root.AddMust(termGroup(codec.FieldSectionToken, q.SectionTokens, p.SectionTokenLimit, p.SectionSingleTermWeight))
		}
		if p.UseSectionTopics {
			root.AddMust(termGroup(codec.FieldSectionTopic, q.SectionTopics, p.SectionTopicLimit, p.SectionTopicWeight))
		}
	}

	if q.SearchIn&models.GranularityParagraph != 0 {
		levels |= models.GranularityParagraph
		if p.UseParagraphTokens {
			root.AddMust(termGroup(codec.FieldParagraphToken, q.ParagraphTokens, p.ParagraphTokenLimit, p.ParagraphSingleTermWeight))
		}
		if p.UseParagraphTopics {
			root.AddMust(termGroup(codec.FieldParagraphTopic, q.ParagraphTopics, p.ParagraphTopicLimit, p.ParagraphTopicWeight))
		}
	}

	if q.SearchIn&models.GranularitySentence != 0 {
		levels |= models.GranularitySentence
		if p.UseSentenceTokens {
			root.AddMust(sentenceTokenGroup(q.SentenceTokens, p))
		}
		if p.UseSentenceTopics {
			root.AddMust(termGroup(codec.FieldSentenceTopic, q.SentenceTopics, p.SentenceTopicLimit, p.SentenceTopicWeight))
		}
	}

	return root, levels.Finest(), nil
}

// sentenceTokenGroup matches sentence tokens against the raw per-token id
// fields, IATE and EuroVoc ids in separate groups of which one must match.
func sentenceTokenGroup(tokens []string, p models.Parameters) *Clause {
	var iate, ev []string
	for _, t := range tokens {
		if strings.HasPrefix(strings.TrimSpace(t), iatePrefix) {
			iate = append(iate, t)
		} else {
			ev = append(ev, t)
		}
	}
	group := Bool().AddShould(
		termGroup(codec.FieldContainedTokenIATE, iate, p.SentenceIATELimit, p.SentenceIATEWeight),
		termGroup(codec.FieldContainedTokenEV, ev, p.SentenceEVLimit, p.SentenceEVWeight),
	)
	if group.Empty() {
		return nil
	}
	group.MinShould = 1
	return group
}

// termGroup builds a SHOULD group with one clause per non-blank term, or nil
// when there are none.
func termGroup(field string, terms []string, ratio, weight float64) *Clause {
	group := Bool()
	for _, t := range terms {
		if t = models.NormalizeTerm(t); t != "" {
			group.AddShould(Term(field, t))
		}
	}
	if group.Empty() {
		return nil
	}
	group.MinShould = MinShould(len(group.Should), ratio)
	group.Boost = weight
	return group
}

// MinShould is the number of n SHOULD clauses that must match for a limit
// ratio r: max(1, round(n*r)).
func MinShould(n int, r float64) int {
	m := int(math.Round(float64(n) * r))
	if m < 1 {
		return 1
	}
	return m
}

// OptimizedCompiler bounds the size of document and section lists before
// delegating to a ParametrizedCompiler with both coarse levels enabled. The
// DocumentSimilarity and SectionSimilarity parameters are the fractions of
// the respective lists that are kept.
type OptimizedCompiler struct {
	Params models.Parameters
}

// Compile implements Compiler.
func (c OptimizedCompiler) Compile(q models.ParametrizedQuery, view models.Granularity) (*Clause, models.Granularity, error) {
	reduced := q
	reduced.DocumentTokens = without(q.DocumentTokens, q.ParagraphTokens, q.SectionTokens)
	reduced.DocumentTopics = without(q.DocumentTopics, q.ParagraphTopics, q.SectionTopics)
	reduced.SectionTokens = without(q.SectionTokens, q.ParagraphTokens)
	reduced.SectionTopics = without(q.SectionTopics, q.ParagraphTopics)

	docPct, sectionPct := c.Params.DocumentSimilarity, c.Params.SectionSimilarity
	reduced.DocumentTokens = FilteredList(reduced.DocumentTokens, TargetCount(docPct, len(reduced.DocumentTokens)), q.Shift)
	reduced.DocumentTopics = FilteredList(reduced.DocumentTopics, TargetCount(docPct, len(reduced.DocumentTopics)), q.Shift)
	reduced.SectionTokens = FilteredList(reduced.SectionTokens, TargetCount(sectionPct, len(reduced.SectionTokens)), q.Shift)
	reduced.SectionTopics = FilteredList(reduced.SectionTopics, TargetCount(sectionPct, len(reduced.SectionTopics)), q.Shift)

	return ParametrizedCompiler{Params: c.Params, AlwaysUseCoarse: true}.Compile(reduced, view)
}

// TargetCount is the number of terms kept from a list of n:
// min(n, clamp(pct*n, 25, 1000)).
func TargetCount(pct float64, n int) int {
	k := utils.Clamp(int(pct*float64(n)), minSampledTerms, maxSampledTerms)
	if k > n {
		k = n
	}
	return k
}

// FilteredList deterministically samples at most k items from source: it
// sorts a copy and strides through it by max(1, n/k) starting at shift.
func FilteredList(source []string, k, shift int) []string {
	if k <= 0 || len(source) == 0 {
		return []string{}
	}
	sorted := append([]string(nil), source...)
	sort.Strings(sorted)

	step := len(sorted) / k
	if step < 1 {
		step = 1
	}
	if shift < 0 {
		shift = 0
	}
	out := make([]string, 0, k)
	for i := shift; i < len(sorted) && len(out) < k; i += step {
		out = append(out, sorted[i])
	}
	return out
}

// without returns the items of src that occur in none of the excluded lists.
func without(src []string, excluded ...[]string) []string {
	if len(src) == 0 {
		return src
	}
	drop := make(map[string]struct{})
	for _, list := range excluded {
		for _, item := range list {
			drop[item] = struct{}{}
		}
	}
	out := make([]string, 0, len(src))
	for _, item := range src {
		if _, ok := drop[item]; !ok {
			out = append(out, item)
		}
	}
	return out
}
