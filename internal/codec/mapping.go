package codec

import (
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/whitespace"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/hyperjump/lexalign/internal/models"
)

// SimilarityAnalyzer splits vocabulary ids on whitespace and keeps their case.
const SimilarityAnalyzer = "similarity_ids"

// NewIndexMapping builds the mapping for the physical index of one level.
// Text uses the standard analyzer and is the default search field; ids,
// language and type are keywords; similarity lists use SimilarityAnalyzer.
func NewIndexMapping(g models.Granularity) (mapping.IndexMapping, error) {
	if !g.IsSingle() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, g)
	}

	im := bleve.NewIndexMapping()
	if err := im.AddCustomAnalyzer(SimilarityAnalyzer, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": whitespace.Name,
	}); err != nil {
		return nil, fmt.Errorf("register similarity analyzer: %w", err)
	}

	keywordField := func() *mapping.FieldMapping {
		fm := bleve.NewKeywordFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		fm.IncludeInAll = false
		return fm
	}
	similarityField := func(store bool) *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = SimilarityAnalyzer
		fm.Store = store
		fm.IncludeInAll = false
		fm.IncludeTermVectors = false
		return fm
	}
	numericField := func(store bool) *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = store
		fm.IncludeInAll = false
		return fm
	}

	dm := bleve.NewDocumentMapping()
	dm.Dynamic = false

	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	text.Store = true
	text.IncludeTermVectors = true
	dm.AddFieldMappingsAt(FieldText, text)

	for _, name := range []string{FieldID, FieldInternalID, FieldLanguage, FieldType, FieldQuality} {
		dm.AddFieldMappingsAt(name, keywordField())
	}
	for _, name := range []string{FieldOrder, FieldTokenCount} {
		dm.AddFieldMappingsAt(name, numericField(true))
	}
	dm.AddFieldMappingsAt(FieldQualityRank, numericField(false))

	// Records carry the similarity data of their own level and every ancestor.
	for _, level := range models.Granularities {
		if level > g {
			break
		}
		dm.AddFieldMappingsAt(TokenField(level), similarityField(true))
		dm.AddFieldMappingsAt(TopicField(level), similarityField(true))
		if level < g {
			dm.AddFieldMappingsAt(AncestorField(level), keywordField())
		}
	}

	switch g {
	case models.GranularityDocument:
		dm.AddFieldMappingsAt(FieldIsStructured, numericField(true))
		for _, name := range []string{
			FieldApprovalDate, FieldDocumentDate, FieldEffectiveDate, FieldIssuer,
			FieldDocumentType, FieldOriginalType, FieldURL, FieldFileName,
		} {
			dm.AddFieldMappingsAt(name, keywordField())
		}
	case models.GranularityParagraph:
		dm.AddFieldMappingsAt(FieldParagraphNumber, keywordField())
		dm.AddFieldMappingsAt(FieldPointNumber, keywordField())
	case models.GranularitySentence:
		dm.AddFieldMappingsAt(FieldContainedTokenEV, similarityField(false))
		dm.AddFieldMappingsAt(FieldContainedTokenIATE, similarityField(false))
	}

	im.DefaultMapping = dm
	im.DefaultAnalyzer = standard.Name
	im.DefaultField = FieldText
	return im, nil
}
