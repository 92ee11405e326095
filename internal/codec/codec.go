// Package codec converts corpus entities to flat index records and back.
package codec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hyperjump/lexalign/internal/models"
)

// ErrUnsupportedType is returned for granularities or entities the codec has no entry for.
var ErrUnsupportedType = errors.New("unsupported entity type")

// Record is the flat field/value form of one entity.
type Record map[string]interface{}

// Lineage carries the internal ids of an entity's ancestors.
type Lineage struct {
	Document  uuid.UUID
	Section   uuid.UUID
	Paragraph uuid.UUID
}

// Entry is an encoded entity ready to be written to the index of its level.
type Entry struct {
	Granularity models.Granularity
	ID          string
	Record      Record
}

type codecEntry struct {
	encode func(models.Entity, Lineage) (Record, error)
	decode func(Record) (models.Entity, error)
}

var table = map[models.Granularity]codecEntry{
	models.GranularityDocument:  {encode: encodeDocument, decode: decodeDocument},
	models.GranularitySection:   {encode: encodeSection, decode: decodeSection},
	models.GranularityParagraph: {encode: encodeParagraph, decode: decodeParagraph},
	models.GranularitySentence:  {encode: encodeSentence, decode: decodeSentence},
}

// Encode converts e into a record. lineage supplies ancestor ids that the
// entity itself does not carry.
func Encode(e models.Entity, lineage Lineage) (Record, error) {
	entry, ok := table[e.Granularity()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, e.Granularity())
	}
	return entry.encode(e, lineage)
}

// Decode converts a stored record back into an entity of level g. Fields
// missing from the record take their zero value; dates default to the epoch.
func Decode(g models.Granularity, rec Record) (models.Entity, error) {
	entry, ok := table[g]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, g)
	}
	return entry.decode(rec)
}

// EncodeTree encodes a document and all of its descendants.
func EncodeTree(doc *models.Document) ([]Entry, error) {
	var out []Entry
	add := func(e models.Entity, lineage Lineage) error {
		rec, err := Encode(e, lineage)
		if err != nil {
			return err
		}
		out = append(out, Entry{Granularity: e.Granularity(), ID: FormatID(e.Identity()), Record: rec})
		return nil
	}

	if err := add(doc, Lineage{}); err != nil {
		return nil, err
	}
	for _, section := range doc.Sections {
		lineage := Lineage{Document: doc.InternalID}
		if err := add(section, lineage); err != nil {
			return nil, err
		}
		for _, paragraph := range section.Paragraphs {
			lineage.Section = section.InternalID
			lineage.Paragraph = uuid.Nil
			if err := add(paragraph, lineage); err != nil {
				return nil, err
			}
			for _, sentence := range paragraph.Sentences {
				lineage.Paragraph = paragraph.InternalID
				if err := add(sentence, lineage); err != nil {
					return nil, err
				}
			}
		}
	}
	return out, nil
}

// FormatID renders an internal id the way it is stored: 32 hex digits, no dashes.
func FormatID(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// ParseID parses an id in stored or canonical form.
func ParseID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

func encodeCommon(rec Record, e models.Entity, nativeID, text string, order int) {
	rec[FieldID] = nativeID
	rec[FieldInternalID] = FormatID(e.Identity())
	rec[FieldLanguage] = e.Lang()
	rec[FieldText] = text
	rec[FieldOrder] = float64(order)
	rec[FieldTokenCount] = float64(e.Size())
	rec[FieldQuality] = strconv.FormatFloat(e.Quality(), 'g', -1, 64)
	rec[FieldQualityRank] = e.Quality()
}

func encodeSimilarity(rec Record, g models.Granularity, data *models.SimilarityData) {
	if data == nil {
		return
	}
	rec[TokenField(g)] = strings.Join(models.Dedup(data.Tokens), " ")
	rec[TopicField(g)] = strings.Join(models.Dedup(data.Topics), " ")
}

func encodeParent(rec Record, g models.Granularity, id uuid.UUID) {
	if id == uuid.Nil {
		return
	}
	rec[AncestorField(g)] = FormatID(id)
}

func encodeDate(rec Record, field string, t time.Time) {
	if t.IsZero() {
		return
	}
	rec[field] = t.UTC().Format(time.RFC3339Nano)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func encodeDocument(e models.Entity, _ Lineage) (Record, error) {
	d, ok := e.(*models.Document)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, e)
	}
	rec := Record{}
	encodeCommon(rec, d, d.ID, d.Text, 0)
	encodeSimilarity(rec, models.GranularityDocument, &d.DocumentSimilarity)
	rec[FieldIsStructured] = boolValue(d.IsStructured)
	rec[FieldIssuer] = d.Issuer
	rec[FieldDocumentType] = d.DocumentType
	rec[FieldOriginalType] = d.OriginalType
	rec[FieldURL] = d.URL
	rec[FieldFileName] = d.FileName
	encodeDate(rec, FieldApprovalDate, d.ApprovalDate)
	encodeDate(rec, FieldDocumentDate, d.DocumentDate)
	encodeDate(rec, FieldEffectiveDate, d.EffectiveDate)
	return rec, nil
}

func encodeSection(e models.Entity, lineage Lineage) (Record, error) {
	s, ok := e.(*models.Section)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, e)
	}
	rec := Record{}
	encodeCommon(rec, s, s.ID, s.Text, s.Order)
	rec[FieldType] = string(s.Type)
	encodeSimilarity(rec, models.GranularityDocument, s.DocumentSimilarity)
	encodeSimilarity(rec, models.GranularitySection, &s.SectionSimilarity)
	encodeParent(rec, models.GranularityDocument, firstSet(s.ParentID, lineage.Document))
	return rec, nil
}

func encodeParagraph(e models.Entity, lineage Lineage) (Record, error) {
	p, ok := e.(*models.Paragraph)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, e)
	}
	rec := Record{}
	encodeCommon(rec, p, p.ID, p.Text, p.Order)
	rec[FieldType] = p.ParagraphType
	rec[FieldParagraphNumber] = p.ParagraphNumber
	rec[FieldPointNumber] = p.PointNumber
	encodeSimilarity(rec, models.GranularityDocument, p.DocumentSimilarity)
	encodeSimilarity(rec, models.GranularitySection, p.SectionSimilarity)
	encodeSimilarity(rec, models.GranularityParagraph, &p.ParagraphSimilarity)
	encodeParent(rec, models.GranularityDocument, lineage.Document)
	encodeParent(rec, models.GranularitySection, firstSet(p.ParentID, lineage.Section))
	return rec, nil
}

func encodeSentence(e models.Entity, lineage Lineage) (Record, error) {
	s, ok := e.(*models.Sentence)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, e)
	}
	rec := Record{}
	encodeCommon(rec, s, s.ID, s.Text, s.Order)
	encodeSimilarity(rec, models.GranularityDocument, s.DocumentSimilarity)
	encodeSimilarity(rec, models.GranularitySection, s.SectionSimilarity)
	encodeSimilarity(rec, models.GranularityParagraph, s.ParagraphSimilarity)
	encodeSimilarity(rec, models.GranularitySentence, &s.SentenceSimilarity)
	encodeParent(rec, models.GranularityDocument, lineage.Document)
	encodeParent(rec, models.GranularitySection, lineage.Section)
	encodeParent(rec, models.GranularityParagraph, firstSet(s.ParentID, lineage.Paragraph))

	// Per-token ids, repeats kept, for exact containment queries.
	var ev, iate []string
	for _, token := range s.Tokens {
		ev = appendTerms(ev, token.EuroVocEntities)
		iate = appendTerms(iate, token.IATEEntities)
	}
	if len(ev) > 0 {
		rec[FieldContainedTokenEV] = strings.Join(ev, " ")
	}
	if len(iate) > 0 {
		rec[FieldContainedTokenIATE] = strings.Join(iate, " ")
	}
	return rec, nil
}

// appendTerms appends the normalized non-blank ids to dst, keeping repeats.
func appendTerms(dst, ids []string) []string {
	for _, id := range ids {
		if id = models.NormalizeTerm(id); id != "" {
			dst = append(dst, id)
		}
	}
	return dst
}

func firstSet(ids ...uuid.UUID) uuid.UUID {
	for _, id := range ids {
		if id != uuid.Nil {
			return id
		}
	}
	return uuid.Nil
}
