package models

import (
	"fmt"
	"strings"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 1000
)

// Page selects a 1-based page of results.
type Page struct {
	Number int `json:"page,omitempty"`
	Size   int `json:"page_size,omitempty"`
}

// Normalize sets defaults for unset fields and caps the size.
func (p *Page) Normalize() {
	if p.Number <= 0 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
}

// Offset returns the index of the first hit on the page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// TextQuery is a free-text query against the display text.
type TextQuery struct {
	Language    string      `json:"language"`
	QueryString string      `json:"query"`
	SearchIn    Granularity `json:"granularity"`
}

// Validate checks the query and normalizes its language.
func (q *TextQuery) Validate() error {
	q.Language = strings.ToLower(strings.TrimSpace(q.Language))
	if q.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}
	if !q.SearchIn.IsSingle() {
		return fmt.Errorf("granularity must name a single level, got %s", q.SearchIn)
	}
	return nil
}

// ParametrizedQuery carries the similarity fingerprint of a source entity,
// per granularity, to be matched in another language.
type ParametrizedQuery struct {
	Language        string      `json:"language"`
	DocumentTokens  []string    `json:"document_tokens,omitempty"`
	SectionTokens   []string    `json:"section_tokens,omitempty"`
	ParagraphTokens []string    `json:"paragraph_tokens,omitempty"`
	SentenceTokens  []string    `json:"sentence_tokens,omitempty"`
	DocumentTopics  []string    `json:"document_topics,omitempty"`
	SectionTopics   []string    `json:"section_topics,omitempty"`
	ParagraphTopics []string    `json:"paragraph_topics,omitempty"`
	SentenceTopics  []string    `json:"sentence_topics,omitempty"`
	SearchIn        Granularity `json:"search_in"`
	Shift           int         `json:"shift,omitempty"`
}

// Validate checks the query and normalizes its language.
func (q *ParametrizedQuery) Validate() error {
	q.Language = strings.ToLower(strings.TrimSpace(q.Language))
	if q.Language == "" {
		return fmt.Errorf("language cannot be empty")
	}
	if q.SearchIn == 0 {
		return fmt.Errorf("search_in must name at least one granularity")
	}
	if q.Shift < 0 {
		return fmt.Errorf("shift cannot be negative")
	}
	return nil
}

// QueryFromEntity builds a parametrized query seeded with the similarity data
// an entity carries for itself and its ancestors.
func QueryFromEntity(e Entity, language string) ParametrizedQuery {
	q := ParametrizedQuery{Language: language}
	set := func(level Granularity, data *SimilarityData) {
		if data == nil {
			return
		}
		q.SearchIn |= level
		switch level {
		case GranularityDocument:
			q.DocumentTokens, q.DocumentTopics = data.Tokens, data.Topics
		case GranularitySection:
			q.SectionTokens, q.SectionTopics = data.Tokens, data.Topics
		case GranularityParagraph:
			q.ParagraphTokens, q.ParagraphTopics = data.Tokens, data.Topics
		case GranularitySentence:
			q.SentenceTokens, q.SentenceTopics = data.Tokens, data.Topics
		}
	}
	switch v := e.(type) {
	case *Document:
		set(GranularityDocument, &v.DocumentSimilarity)
	case *Section:
		set(GranularityDocument, v.DocumentSimilarity)
		set(GranularitySection, &v.SectionSimilarity)
	case *Paragraph:
		set(GranularityDocument, v.DocumentSimilarity)
		set(GranularitySection, v.SectionSimilarity)
		set(GranularityParagraph, &v.ParagraphSimilarity)
	case *Sentence:
		set(GranularityDocument, v.DocumentSimilarity)
		set(GranularitySection, v.SectionSimilarity)
		set(GranularityParagraph, v.ParagraphSimilarity)
		set(GranularitySentence, &v.SentenceSimilarity)
	}
	return q
}

// Parameters weight and limit each (granularity, token|topic) group of a
// parametrized query. Limits are the fraction of supplied terms that must
// match. DocumentSimilarity and SectionSimilarity enable the coarse levels
// when positive; the optimized compiler reads them as sampling fractions.
type Parameters struct {
	DocumentTopicWeight       float64 `json:"document_topic_weight" yaml:"document_topic_weight"`
	SectionTopicWeight        float64 `json:"section_topic_weight" yaml:"section_topic_weight"`
	ParagraphTopicWeight      float64 `json:"paragraph_topic_weight" yaml:"paragraph_topic_weight"`
	SentenceTopicWeight       float64 `json:"sentence_topic_weight" yaml:"sentence_topic_weight"`
	DocumentSingleTermWeight  float64 `json:"document_single_term_weight" yaml:"document_single_term_weight"`
	SectionSingleTermWeight   float64 `json:"section_single_term_weight" yaml:"section_single_term_weight"`
	ParagraphSingleTermWeight float64 `json:"paragraph_single_term_weight" yaml:"paragraph_single_term_weight"`
	SentenceIATEWeight        float64 `json:"sentence_iate_weight" yaml:"sentence_iate_weight"`
	SentenceEVWeight          float64 `json:"sentence_ev_weight" yaml:"sentence_ev_weight"`

	DocumentTopicLimit  float64 `json:"document_topic_limit" yaml:"document_topic_limit"`
	SectionTopicLimit   float64 `json:"section_topic_limit" yaml:"section_topic_limit"`
	ParagraphTopicLimit float64 `json:"paragraph_topic_limit" yaml:"paragraph_topic_limit"`
	SentenceTopicLimit  float64 `json:"sentence_topic_limit" yaml:"sentence_topic_limit"`
	DocumentTokenLimit  float64 `json:"document_token_limit" yaml:"document_token_limit"`
	SectionTokenLimit   float64 `json:"section_token_limit" yaml:"section_token_limit"`
	ParagraphTokenLimit float64 `json:"paragraph_token_limit" yaml:"paragraph_token_limit"`
	SentenceIATELimit   float64 `json:"sentence_iate_limit" yaml:"sentence_iate_limit"`
	SentenceEVLimit     float64 `json:"sentence_ev_limit" yaml:"sentence_ev_limit"`

	DocumentSimilarity float64 `json:"document_similarity" yaml:"document_similarity"`
	SectionSimilarity  float64 `json:"section_similarity" yaml:"section_similarity"`

	UseDocumentTokens  bool `json:"use_document_tokens" yaml:"use_document_tokens"`
	UseSectionTokens   bool `json:"use_section_tokens" yaml:"use_section_tokens"`
	UseParagraphTokens bool `json:"use_paragraph_tokens" yaml:"use_paragraph_tokens"`
	UseSentenceTokens  bool `json:"use_sentence_tokens" yaml:"use_sentence_tokens"`
	UseDocumentTopics  bool `json:"use_document_topics" yaml:"use_document_topics"`
	UseSectionTopics   bool `json:"use_section_topics" yaml:"use_section_topics"`
	UseParagraphTopics bool `json:"use_paragraph_topics" yaml:"use_paragraph_topics"`
	UseSentenceTopics  bool `json:"use_sentence_topics" yaml:"use_sentence_topics"`
}

// Validate checks that limits and sampling fractions lie in [0,1] and weights are not negative.
func (p Parameters) Validate() error {
	fractions := map[string]float64{
		"document_topic_limit":  p.DocumentTopicLimit,
		"section_topic_limit":   p.SectionTopicLimit,
		"paragraph_topic_limit": p.ParagraphTopicLimit,
		"sentence_topic_limit":  p.SentenceTopicLimit,
		"document_token_limit":  p.DocumentTokenLimit,
		"section_token_limit":   p.SectionTokenLimit,
		"paragraph_token_limit": p.ParagraphTokenLimit,
		"sentence_iate_limit":   p.SentenceIATELimit,
		"sentence_ev_limit":     p.SentenceEVLimit,
		"document_similarity":   p.DocumentSimilarity,
		"section_similarity":    p.SectionSimilarity,
	}
	for name, v := range fractions {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	weights := []float64{
		p.DocumentTopicWeight, p.SectionTopicWeight, p.ParagraphTopicWeight, p.SentenceTopicWeight,
		p.DocumentSingleTermWeight, p.SectionSingleTermWeight, p.ParagraphSingleTermWeight,
		p.SentenceIATEWeight, p.SentenceEVWeight,
	}
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("weights cannot be negative, got %v", w)
		}
	}
	return nil
}

// IsSet reports whether at least one group is enabled and at least one
// weight, limit or sampling fraction lies in (0,1].
func (p Parameters) IsSet() bool {
	if !(p.UseDocumentTokens || p.UseDocumentTopics || p.UseSectionTokens || p.UseSectionTopics ||
		p.UseParagraphTokens || p.UseParagraphTopics || p.UseSentenceTokens || p.UseSentenceTopics) {
		return false
	}
	values := []float64{
		p.DocumentTopicWeight, p.SectionTopicWeight, p.ParagraphTopicWeight, p.SentenceTopicWeight,
		p.DocumentSingleTermWeight, p.SectionSingleTermWeight, p.ParagraphSingleTermWeight,
		p.SentenceIATEWeight, p.SentenceEVWeight,
		p.DocumentTopicLimit, p.SectionTopicLimit, p.ParagraphTopicLimit, p.SentenceTopicLimit,
		p.DocumentTokenLimit, p.SectionTokenLimit, p.ParagraphTokenLimit,
		p.SentenceIATELimit, p.SentenceEVLimit,
		p.DocumentSimilarity, p.SectionSimilarity,
	}
	for _, v := range values {
		if v > 0 && v <= 1 {
			return true
		}
	}
	return false
}

// Scoring turns a member's hit (raw score, rank) into an ensemble contribution.
type Scoring string

const (
	ScoringConstant      Scoring = "constant"
	ScoringLinear        Scoring = "linear"
	ScoringAsymptotic    Scoring = "asymptotic"
	ScoringScoreRelative Scoring = "score_relative"
)

// Valid reports whether s is a known strategy.
func (s Scoring) Valid() bool {
	switch s {
	case ScoringConstant, ScoringLinear, ScoringAsymptotic, ScoringScoreRelative:
		return true
	}
	return false
}

// EnsembleMember is one independently parametrized search of an ensemble.
type EnsembleMember struct {
	Parameters `yaml:",inline"`
	Scoring    Scoring `json:"scoring" yaml:"scoring"`
	Shift      int     `json:"shift" yaml:"shift"`
}

// Validate checks the member's parameters and scoring strategy.
func (m EnsembleMember) Validate() error {
	if !m.Scoring.Valid() {
		return fmt.Errorf("unknown scoring strategy %q", m.Scoring)
	}
	if m.Shift < 0 {
		return fmt.Errorf("shift cannot be negative")
	}
	return m.Parameters.Validate()
}
