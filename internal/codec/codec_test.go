package codec

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lexalign/internal/models"
)

func roundTrip(t *testing.T, e models.Entity, lineage Lineage) models.Entity {
	t.Helper()
	rec, err := Encode(e, lineage)
	require.NoError(t, err)
	out, err := Decode(e.Granularity(), rec)
	require.NoError(t, err)
	return out
}

func TestRoundTrip_Document(t *testing.T) {
	approved := time.Date(2019, 3, 14, 0, 0, 0, 0, time.UTC)
	doc := &models.Document{
		ID:                 "SL-2019-1",
		InternalID:         uuid.New(),
		Language:           "sl",
		Text:               "Zakon o varstvu okolja",
		DocumentType:       "zakon",
		OriginalType:       "ZAK",
		Issuer:             "DZ",
		URL:                "http://example.org/zakon",
		FileName:           "zakon.json",
		ApprovalDate:       approved,
		DocumentDate:       approved.AddDate(0, 0, 1),
		EffectiveDate:      approved.AddDate(0, 1, 0),
		IsStructured:       true,
		TokenCount:         120,
		RecognitionQuality: 0.4375,
		DocumentSimilarity: models.SimilarityData{Tokens: []string{"EV1", "IATE2"}, Topics: []string{"law"}},
	}

	got := roundTrip(t, doc, Lineage{}).(*models.Document)
	assert.Equal(t, doc.ID, got.ID)
	assert.Equal(t, doc.InternalID, got.InternalID)
	assert.Equal(t, doc.Language, got.Language)
	assert.Equal(t, doc.Text, got.Text)
	assert.Equal(t, doc.DocumentType, got.DocumentType)
	assert.Equal(t, doc.OriginalType, got.OriginalType)
	assert.Equal(t, doc.Issuer, got.Issuer)
	assert.Equal(t, doc.URL, got.URL)
	assert.Equal(t, doc.FileName, got.FileName)
	assert.True(t, doc.ApprovalDate.Equal(got.ApprovalDate))
	assert.True(t, doc.DocumentDate.Equal(got.DocumentDate))
	assert.True(t, doc.EffectiveDate.Equal(got.EffectiveDate))
	assert.Equal(t, doc.IsStructured, got.IsStructured)
	assert.Equal(t, doc.TokenCount, got.TokenCount)
	assert.Equal(t, doc.RecognitionQuality, got.RecognitionQuality)
	assert.Equal(t, doc.DocumentSimilarity, got.DocumentSimilarity)
}

func TestRoundTrip_Section(t *testing.T) {
	docSim := models.SimilarityData{Tokens: []string{"EV1"}, Topics: []string{"law", "tax"}}
	s := &models.Section{
		ID:                 "s1",
		InternalID:         uuid.New(),
		ParentID:           uuid.New(),
		Language:           "hr",
		Text:               "Članak 1.",
		Order:              3,
		Type:               models.SectionArticleBody,
		TokenCount:         12,
		RecognitionQuality: 0.25,
		SectionSimilarity:  models.SimilarityData{Tokens: []string{"IATE9"}, Topics: []string{"tax"}},
		DocumentSimilarity: &docSim,
	}

	got := roundTrip(t, s, Lineage{}).(*models.Section)
	assert.Equal(t, s.ParentID, got.ParentID)
	assert.Equal(t, s.Order, got.Order)
	assert.Equal(t, s.Type, got.Type)
	assert.Equal(t, s.SectionSimilarity, got.SectionSimilarity)
	require.NotNil(t, got.DocumentSimilarity)
	assert.Equal(t, docSim, *got.DocumentSimilarity)
}

func TestRoundTrip_Paragraph(t *testing.T) {
	sec := models.SimilarityData{Tokens: []string{"EV3"}}
	p := &models.Paragraph{
		InternalID:          uuid.New(),
		ParentID:            uuid.New(),
		Language:            "pl",
		Text:                "Ustęp pierwszy.",
		Order:               1,
		ParagraphType:       "point",
		ParagraphNumber:     "1",
		PointNumber:         "a",
		TokenCount:          2,
		RecognitionQuality:  1,
		ParagraphSimilarity: models.SimilarityData{Tokens: []string{"EV3", "IATE4"}, Topics: []string{"energy"}},
		SectionSimilarity:   &sec,
	}
	lineage := Lineage{Document: uuid.New()}

	rec, err := Encode(p, lineage)
	require.NoError(t, err)
	assert.Equal(t, FormatID(lineage.Document), rec[FieldParentDocumentID])
	assert.Equal(t, FormatID(p.ParentID), rec[FieldParentSectionID])

	got := roundTrip(t, p, lineage).(*models.Paragraph)
	assert.Equal(t, p.ParentID, got.ParentID)
	assert.Equal(t, p.ParagraphType, got.ParagraphType)
	assert.Equal(t, p.ParagraphNumber, got.ParagraphNumber)
	assert.Equal(t, p.PointNumber, got.PointNumber)
	assert.Equal(t, p.ParagraphSimilarity, got.ParagraphSimilarity)
	assert.Nil(t, got.DocumentSimilarity)
	require.NotNil(t, got.SectionSimilarity)
	assert.Equal(t, sec, *got.SectionSimilarity)
}

func TestRoundTrip_Sentence(t *testing.T) {
	s := &models.Sentence{
		InternalID:         uuid.New(),
		ParentID:           uuid.New(),
		Language:           "ro",
		Text:               "Prima propoziție.",
		Order:              4,
		TokenCount:         3,
		RecognitionQuality: 0.5,
		Tokens: []*models.Token{
			{Form: "Prima", EuroVocEntities: []string{"EV1"}, IATEEntities: []string{"IATE1"}},
			{Form: "propoziție", EuroVocEntities: []string{"EV1"}},
		},
		SentenceSimilarity: models.SimilarityData{Tokens: []string{"EV1", "IATE1"}},
	}
	lineage := Lineage{Document: uuid.New(), Section: uuid.New()}

	rec, err := Encode(s, lineage)
	require.NoError(t, err)
	assert.Equal(t, "EV1 EV1", rec[FieldContainedTokenEV], "contained tokens keep repeats")
	assert.Equal(t, "IATE1", rec[FieldContainedTokenIATE])

	got := roundTrip(t, s, lineage).(*models.Sentence)
	assert.Equal(t, s.ParentID, got.ParentID)
	assert.Equal(t, s.Order, got.Order)
	assert.Equal(t, s.TokenCount, got.TokenCount)
	assert.Equal(t, s.RecognitionQuality, got.RecognitionQuality)
	assert.Equal(t, s.SentenceSimilarity, got.SentenceSimilarity)
	assert.Empty(t, got.Tokens, "token annotations are not stored")
}

func TestEncode_SentenceContainedTokensAreNormalized(t *testing.T) {
	s := &models.Sentence{
		InternalID: uuid.New(),
		Language:   "hr",
		Text:       "Carinska uredba.",
		Tokens: []*models.Token{
			{Form: "Carinska", EuroVocEntities: []string{"EV 12", "  "}, IATEEntities: []string{" IATE  7 "}},
			{Form: "uredba", EuroVocEntities: []string{"EV 12", ""}},
		},
	}
	rec, err := Encode(s, Lineage{})
	require.NoError(t, err)
	assert.Equal(t, "EV_12 EV_12", rec[FieldContainedTokenEV])
	assert.Equal(t, "IATE_7", rec[FieldContainedTokenIATE])
	assert.Equal(t, models.NormalizeTerm("EV 12"), strings.Fields(rec[FieldContainedTokenEV].(string))[0])

	blank := &models.Sentence{InternalID: uuid.New(), Language: "hr", Tokens: []*models.Token{{Form: "x", EuroVocEntities: []string{" "}}}}
	rec, err = Encode(blank, Lineage{})
	require.NoError(t, err)
	assert.NotContains(t, rec, FieldContainedTokenEV)
}

func TestDecode_AbsentFieldsUseDefaults(t *testing.T) {
	id := uuid.New()
	got, err := Decode(models.GranularityDocument, Record{FieldInternalID: FormatID(id)})
	require.NoError(t, err)
	doc := got.(*models.Document)
	assert.Equal(t, id, doc.InternalID)
	assert.Equal(t, 0, doc.TokenCount)
	assert.Empty(t, doc.DocumentSimilarity.Tokens)
	assert.True(t, doc.ApprovalDate.Equal(Epoch))
	assert.False(t, doc.IsStructured)
}

func TestDecode_PrefersStoredQuality(t *testing.T) {
	rec := Record{
		FieldInternalID:  FormatID(uuid.New()),
		FieldQuality:     "0.3",
		FieldQualityRank: 0.9,
	}
	got, err := Decode(models.GranularitySentence, rec)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got.Quality())
}

func TestDecode_UnsupportedType(t *testing.T) {
	_, err := Decode(models.GranularityDocument|models.GranularitySection, Record{})
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = NewIndexMapping(0)
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestDecode_BadInternalID(t *testing.T) {
	_, err := Decode(models.GranularityParagraph, Record{FieldInternalID: "nope"})
	assert.Error(t, err)
}

func TestEncodeTree(t *testing.T) {
	doc := &models.Document{Language: "sk", Sections: []*models.Section{
		{Paragraphs: []*models.Paragraph{
			{Sentences: []*models.Sentence{{Text: "a"}, {Text: "b"}}},
		}},
	}}
	models.AssignIdentifiers(doc, uuid.Nil)

	entries, err := EncodeTree(doc)
	require.NoError(t, err)
	require.Len(t, entries, 5)

	counts := map[models.Granularity]int{}
	for _, e := range entries {
		counts[e.Granularity]++
		assert.Equal(t, e.ID, e.Record[FieldInternalID])
	}
	assert.Equal(t, 2, counts[models.GranularitySentence])

	last := entries[len(entries)-1].Record
	parents := ParentIDs(last)
	assert.Equal(t, doc.InternalID, parents[models.GranularityDocument])
	assert.Equal(t, doc.Sections[0].InternalID, parents[models.GranularitySection])
	assert.Equal(t, doc.Sections[0].Paragraphs[0].InternalID, parents[models.GranularityParagraph])
}

func TestIDFormat(t *testing.T) {
	id := uuid.New()
	s := FormatID(id)
	assert.Len(t, s, 32)
	back, err := ParseID(s)
	require.NoError(t, err)
	assert.Equal(t, id, back)
}

func TestNewIndexMapping(t *testing.T) {
	for _, g := range models.Granularities {
		im, err := NewIndexMapping(g)
		require.NoError(t, err, g.String())
		require.NoError(t, im.Validate(), g.String())
	}
}
