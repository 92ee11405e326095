// Package models defines the corpus entity tree, similarity fingerprints, queries, and search results.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SectionType classifies a section of a legal document.
type SectionType string

const (
	SectionDocumentTitle        SectionType = "DocumentTitle"
	SectionDocumentIntroduction SectionType = "DocumentIntroduction"
	SectionChapterTitle         SectionType = "ChapterTitle"
	SectionChapterIntroduction  SectionType = "ChapterIntroduction"
	SectionArticleTitle         SectionType = "ArticleTitle"
	SectionArticleBody          SectionType = "ArticleBody"
	SectionNotes                SectionType = "Notes"
	SectionOther                SectionType = "Other"
)

// Entity is implemented by every level of the corpus tree.
type Entity interface {
	Granularity() Granularity
	// Identity is the stable internal id used for lookups and parent joins.
	Identity() uuid.UUID
	// Parent is the internal id of the enclosing entity, uuid.Nil for documents.
	Parent() uuid.UUID
	Lang() string
	Size() int
	Quality() float64
}

// Token is one linguistically annotated word of a sentence.
type Token struct {
	Form            string            `json:"form"`
	Lemma           string            `json:"lemma,omitempty"`
	GeneralPOS      string            `json:"upos,omitempty"`
	LanguagePOS     string            `json:"xpos,omitempty"`
	Features        map[string]string `json:"features,omitempty"`
	HeadID          int               `json:"head,omitempty"`
	DepRel          string            `json:"deprel,omitempty"`
	Deps            string            `json:"deps,omitempty"`
	Misc            string            `json:"misc,omitempty"`
	NamedEntity     string            `json:"ne,omitempty"`
	NounPhrase      string            `json:"np,omitempty"`
	IATEEntities    []string          `json:"iate,omitempty"`
	EuroVocEntities []string          `json:"eurovoc,omitempty"`
	IATEDomains     []string          `json:"iate_domains,omitempty"`
	Similarity      SimilarityData    `json:"-"`
}

// Sentence is the finest indexed level.
type Sentence struct {
	ID                  string          `json:"id,omitempty"`
	InternalID          uuid.UUID       `json:"internal_id"`
	ParentID            uuid.UUID       `json:"parent_id"`
	Language            string          `json:"language"`
	Text                string          `json:"text"`
	Order               int             `json:"order"`
	TokenCount          int             `json:"token_count"`
	RecognitionQuality  float64         `json:"recognition_quality"`
	Tokens              []*Token        `json:"tokens,omitempty"`
	SentenceSimilarity  SimilarityData  `json:"sentence_similarity"`
	DocumentSimilarity  *SimilarityData `json:"document_similarity,omitempty"`
	SectionSimilarity   *SimilarityData `json:"section_similarity,omitempty"`
	ParagraphSimilarity *SimilarityData `json:"paragraph_similarity,omitempty"`
}

// Paragraph groups sentences inside a section.
type Paragraph struct {
	ID                  string          `json:"id,omitempty"`
	InternalID          uuid.UUID       `json:"internal_id"`
	ParentID            uuid.UUID       `json:"parent_id"`
	Language            string          `json:"language"`
	Text                string          `json:"text"`
	Order               int             `json:"order"`
	ParagraphType       string          `json:"paragraph_type,omitempty"`
	ParagraphNumber     string          `json:"paragraph_number,omitempty"`
	PointNumber         string          `json:"point_number,omitempty"`
	TokenCount          int             `json:"token_count"`
	RecognitionQuality  float64         `json:"recognition_quality"`
	IsMatch             bool            `json:"is_match,omitempty"`
	Sentences           []*Sentence     `json:"sentences,omitempty"`
	ParagraphSimilarity SimilarityData  `json:"paragraph_similarity"`
	DocumentSimilarity  *SimilarityData `json:"document_similarity,omitempty"`
	SectionSimilarity   *SimilarityData `json:"section_similarity,omitempty"`
}

// Section is a typed part of a document (title, article, notes, ...).
type Section struct {
	ID                 string          `json:"id,omitempty"`
	InternalID         uuid.UUID       `json:"internal_id"`
	ParentID           uuid.UUID       `json:"parent_id"`
	Language           string          `json:"language"`
	Text               string          `json:"text"`
	Order              int             `json:"order"`
	Type               SectionType     `json:"type"`
	TokenCount         int             `json:"token_count"`
	RecognitionQuality float64         `json:"recognition_quality"`
	Paragraphs         []*Paragraph    `json:"paragraphs,omitempty"`
	SectionSimilarity  SimilarityData  `json:"section_similarity"`
	DocumentSimilarity *SimilarityData `json:"document_similarity,omitempty"`
}

// Document is the root of the corpus tree.
type Document struct {
	ID                 string         `json:"id,omitempty"`
	InternalID         uuid.UUID      `json:"internal_id"`
	Language           string         `json:"language"`
	Text               string         `json:"text"`
	DocumentType       string         `json:"document_type,omitempty"`
	OriginalType       string         `json:"original_type,omitempty"`
	Issuer             string         `json:"issuer,omitempty"`
	URL                string         `json:"url,omitempty"`
	FileName           string         `json:"file_name,omitempty"`
	ApprovalDate       time.Time      `json:"approval_date"`
	DocumentDate       time.Time      `json:"document_date"`
	EffectiveDate      time.Time      `json:"effective_date"`
	IsStructured       bool           `json:"is_structured"`
	TokenCount         int            `json:"token_count"`
	RecognitionQuality float64        `json:"recognition_quality"`
	Sections           []*Section     `json:"sections,omitempty"`
	DocumentSimilarity SimilarityData `json:"document_similarity"`
}

func (d *Document) Granularity() Granularity { return GranularityDocument }
func (d *Document) Identity() uuid.UUID      { return d.InternalID }
func (d *Document) Parent() uuid.UUID        { return uuid.Nil }
func (d *Document) Lang() string             { return d.Language }
func (d *Document) Size() int                { return d.TokenCount }
func (d *Document) Quality() float64         { return d.RecognitionQuality }

func (s *Section) Granularity() Granularity { return GranularitySection }
func (s *Section) Identity() uuid.UUID      { return s.InternalID }
func (s *Section) Parent() uuid.UUID        { return s.ParentID }
func (s *Section) Lang() string             { return s.Language }
func (s *Section) Size() int                { return s.TokenCount }
func (s *Section) Quality() float64         { return s.RecognitionQuality }

func (p *Paragraph) Granularity() Granularity { return GranularityParagraph }
func (p *Paragraph) Identity() uuid.UUID      { return p.InternalID }
func (p *Paragraph) Parent() uuid.UUID        { return p.ParentID }
func (p *Paragraph) Lang() string             { return p.Language }
func (p *Paragraph) Size() int                { return p.TokenCount }
func (p *Paragraph) Quality() float64         { return p.RecognitionQuality }

func (s *Sentence) Granularity() Granularity { return GranularitySentence }
func (s *Sentence) Identity() uuid.UUID      { return s.InternalID }
func (s *Sentence) Parent() uuid.UUID        { return s.ParentID }
func (s *Sentence) Lang() string             { return s.Language }
func (s *Sentence) Size() int                { return s.TokenCount }
func (s *Sentence) Quality() float64         { return s.RecognitionQuality }

// Walk calls fn for the document and every descendant, parents before children.
func (d *Document) Walk(fn func(Entity) error) error {
	if err := fn(d); err != nil {
		return err
	}
	for _, section := range d.Sections {
		if err := fn(section); err != nil {
			return err
		}
		for _, paragraph := range section.Paragraphs {
			if err := fn(paragraph); err != nil {
				return err
			}
			for _, sentence := range paragraph.Sentences {
				if err := fn(sentence); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
