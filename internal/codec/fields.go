package codec

import "github.com/hyperjump/lexalign/internal/models"

// Field names of a stored record.
const (
	FieldID          = "Id"
	FieldInternalID  = "InternalId"
	FieldLanguage    = "Language"
	FieldText        = "Text"
	FieldType        = "Type"
	FieldOrder       = "Order"
	FieldTokenCount  = "TokenCount"
	FieldQuality     = "RecognitionQuality"
	FieldQualityRank = "RecognitionQuality$Scoring"

	FieldDocumentToken  = "DocumentToken"
	FieldDocumentTopic  = "DocumentTopic"
	FieldSectionToken   = "SectionToken"
	FieldSectionTopic   = "SectionTopic"
	FieldParagraphToken = "ParagraphToken"
	FieldParagraphTopic = "ParagraphTopic"
	FieldSentenceToken  = "SentenceToken"
	FieldSentenceTopic  = "SentenceTopic"

	FieldContainedTokenEV   = "ContainedTokenEV"
	FieldContainedTokenIATE = "ContainedTokenIATE"

	FieldParentDocumentID  = "ParentDocumentId"
	FieldParentSectionID   = "ParentSectionId"
	FieldParentParagraphID = "ParentParagraphId"

	FieldIsStructured    = "IsStructured"
	FieldApprovalDate    = "ApprovalDate"
	FieldDocumentDate    = "DocumentDate"
	FieldEffectiveDate   = "EffectiveDate"
	FieldIssuer          = "Issuer"
	FieldDocumentType    = "DocumentType"
	FieldOriginalType    = "OriginalType"
	FieldURL             = "Url"
	FieldFileName        = "FileName"
	FieldParagraphNumber = "ParagraphNumber"
	FieldPointNumber     = "PointNumber"
)

// TokenField returns the similarity token field of a level.
func TokenField(g models.Granularity) string {
	switch g {
	case models.GranularityDocument:
		return FieldDocumentToken
	case models.GranularitySection:
		return FieldSectionToken
	case models.GranularityParagraph:
		return FieldParagraphToken
	case models.GranularitySentence:
		return FieldSentenceToken
	}
	return ""
}

// TopicField returns the similarity topic field of a level.
func TopicField(g models.Granularity) string {
	switch g {
	case models.GranularityDocument:
		return FieldDocumentTopic
	case models.GranularitySection:
		return FieldSectionTopic
	case models.GranularityParagraph:
		return FieldParagraphTopic
	case models.GranularitySentence:
		return FieldSentenceTopic
	}
	return ""
}

// AncestorField returns the field in which descendant records reference an
// entity of level g. Sentences have no descendants.
func AncestorField(g models.Granularity) string {
	switch g {
	case models.GranularityDocument:
		return FieldParentDocumentID
	case models.GranularitySection:
		return FieldParentSectionID
	case models.GranularityParagraph:
		return FieldParentParagraphID
	}
	return ""
}
