package codec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/lexalign/internal/models"
)

// Epoch is the value absent dates decode to.
var Epoch = time.Unix(0, 0).UTC()

func decodeDocument(rec Record) (models.Entity, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}
	d := &models.Document{
		ID:                 stringField(rec, FieldID),
		InternalID:         id,
		Language:           stringField(rec, FieldLanguage),
		Text:               stringField(rec, FieldText),
		DocumentType:       stringField(rec, FieldDocumentType),
		OriginalType:       stringField(rec, FieldOriginalType),
		Issuer:             stringField(rec, FieldIssuer),
		URL:                stringField(rec, FieldURL),
		FileName:           stringField(rec, FieldFileName),
		ApprovalDate:       dateField(rec, FieldApprovalDate),
		DocumentDate:       dateField(rec, FieldDocumentDate),
		EffectiveDate:      dateField(rec, FieldEffectiveDate),
		IsStructured:       numberField(rec, FieldIsStructured) != 0,
		TokenCount:         int(numberField(rec, FieldTokenCount)),
		RecognitionQuality: qualityField(rec),
	}
	if data := similarityField(rec, models.GranularityDocument); data != nil {
		d.DocumentSimilarity = *data
	}
	return d, nil
}

func decodeSection(rec Record) (models.Entity, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}
	s := &models.Section{
		ID:                 stringField(rec, FieldID),
		InternalID:         id,
		ParentID:           idField(rec, FieldParentDocumentID),
		Language:           stringField(rec, FieldLanguage),
		Text:               stringField(rec, FieldText),
		Order:              int(numberField(rec, FieldOrder)),
		Type:               models.SectionType(stringField(rec, FieldType)),
		TokenCount:         int(numberField(rec, FieldTokenCount)),
		RecognitionQuality: qualityField(rec),
		DocumentSimilarity: similarityField(rec, models.GranularityDocument),
	}
	if data := similarityField(rec, models.GranularitySection); data != nil {
		s.SectionSimilarity = *data
	}
	return s, nil
}

func decodeParagraph(rec Record) (models.Entity, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}
	p := &models.Paragraph{
		ID:                 stringField(rec, FieldID),
		InternalID:         id,
		ParentID:           idField(rec, FieldParentSectionID),
		Language:           stringField(rec, FieldLanguage),
		Text:               stringField(rec, FieldText),
		Order:              int(numberField(rec, FieldOrder)),
		ParagraphType:      stringField(rec, FieldType),
		ParagraphNumber:    stringField(rec, FieldParagraphNumber),
		PointNumber:        stringField(rec, FieldPointNumber),
		TokenCount:         int(numberField(rec, FieldTokenCount)),
		RecognitionQuality: qualityField(rec),
		DocumentSimilarity: similarityField(rec, models.GranularityDocument),
		SectionSimilarity:  similarityField(rec, models.GranularitySection),
	}
	if data := similarityField(rec, models.GranularityParagraph); data != nil {
		p.ParagraphSimilarity = *data
	}
	return p, nil
}

func decodeSentence(rec Record) (models.Entity, error) {
	id, err := requireID(rec)
	if err != nil {
		return nil, err
	}
	s := &models.Sentence{
		ID:                  stringField(rec, FieldID),
		InternalID:          id,
		ParentID:            idField(rec, FieldParentParagraphID),
		Language:            stringField(rec, FieldLanguage),
		Text:                stringField(rec, FieldText),
		Order:               int(numberField(rec, FieldOrder)),
		TokenCount:          int(numberField(rec, FieldTokenCount)),
		RecognitionQuality:  qualityField(rec),
		DocumentSimilarity:  similarityField(rec, models.GranularityDocument),
		SectionSimilarity:   similarityField(rec, models.GranularitySection),
		ParagraphSimilarity: similarityField(rec, models.GranularityParagraph),
	}
	if data := similarityField(rec, models.GranularitySentence); data != nil {
		s.SentenceSimilarity = *data
	}
	return s, nil
}

// ParentIDs returns every ancestor id a record references, keyed by ancestor level.
func ParentIDs(rec Record) map[models.Granularity]uuid.UUID {
	out := map[models.Granularity]uuid.UUID{}
	for _, g := range []models.Granularity{models.GranularityDocument, models.GranularitySection, models.GranularityParagraph} {
		if id := idField(rec, AncestorField(g)); id != uuid.Nil {
			out[g] = id
		}
	}
	return out
}

func requireID(rec Record) (uuid.UUID, error) {
	raw := stringField(rec, FieldInternalID)
	id, err := ParseID(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("record internal id %q: %w", raw, err)
	}
	return id, nil
}

// stringField reads a stored string; multi-valued fields yield their first value.
func stringField(rec Record, key string) string {
	switch v := rec[key].(type) {
	case string:
		return v
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func numberField(rec Record, key string) float64 {
	switch v := rec[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return 0
}

// qualityField prefers the stored string copy over the numeric ranking field.
func qualityField(rec Record) float64 {
	if s := stringField(rec, FieldQuality); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return numberField(rec, FieldQualityRank)
}

func idField(rec Record, key string) uuid.UUID {
	if key == "" {
		return uuid.Nil
	}
	id, err := ParseID(stringField(rec, key))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func dateField(rec Record, key string) time.Time {
	s := stringField(rec, key)
	if s == "" {
		return Epoch
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Epoch
	}
	return t
}

// similarityField returns nil when the record carries neither field of the level.
func similarityField(rec Record, g models.Granularity) *models.SimilarityData {
	tokens, hasTokens := rec[TokenField(g)]
	topics, hasTopics := rec[TopicField(g)]
	if !hasTokens && !hasTopics {
		return nil
	}
	data := &models.SimilarityData{}
	if hasTokens {
		data.Tokens = splitList(tokens)
	}
	if hasTopics {
		data.Topics = splitList(topics)
	}
	return data
}

func splitList(v interface{}) []string {
	switch t := v.(type) {
	case string:
		fields := strings.Fields(t)
		if len(fields) == 0 {
			return nil
		}
		return fields
	case []interface{}:
		var out []string
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, strings.Fields(s)...)
			}
		}
		return out
	}
	return nil
}
