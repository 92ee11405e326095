package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TopicResolver maps controlled-vocabulary ids to domain labels. An empty
// result means at least one id could not be resolved and must be treated as
// uncertain, not as "no topics".
type TopicResolver interface {
	Topics(ctx context.Context, ids []string) ([]string, error)
}

const punctuationPOS = "PUNCT"

// AssignIdentifiers fills missing internal ids and sets parent ids, languages
// and positions on every descendant. A nil documentID keeps the document's own
// id, or generates one when it has none.
func AssignIdentifiers(doc *Document, documentID uuid.UUID) {
	if documentID != uuid.Nil {
		doc.InternalID = documentID
	}
	if doc.InternalID == uuid.Nil {
		doc.InternalID = uuid.New()
	}
	for i, section := range doc.Sections {
		if section.InternalID == uuid.Nil {
			section.InternalID = uuid.New()
		}
		section.ParentID = doc.InternalID
		section.Language = doc.Language
		section.Order = i
		for j, paragraph := range section.Paragraphs {
			if paragraph.InternalID == uuid.Nil {
				paragraph.InternalID = uuid.New()
			}
			paragraph.ParentID = section.InternalID
			paragraph.Language = doc.Language
			paragraph.Order = j
			for k, sentence := range paragraph.Sentences {
				if sentence.InternalID == uuid.Nil {
					sentence.InternalID = uuid.New()
				}
				sentence.ParentID = paragraph.InternalID
				sentence.Language = doc.Language
				sentence.Order = k
			}
		}
	}
}

// Aggregate computes token counts, recognition quality and consolidated
// similarity data bottom-up, then links every descendant to its ancestors'
// similarity data. It must run exactly once per tree.
func Aggregate(ctx context.Context, doc *Document, resolver TopicResolver) error {
	if err := aggregateBottomUp(ctx, doc, resolver); err != nil {
		return err
	}
	propagateTopDown(doc)
	return nil
}

func aggregateBottomUp(ctx context.Context, doc *Document, resolver TopicResolver) error {
	doc.TokenCount = 0
	doc.DocumentSimilarity = SimilarityData{}
	sectionQuality := make([]float64, 0, len(doc.Sections))

	for _, section := range doc.Sections {
		section.TokenCount = 0
		section.SectionSimilarity = SimilarityData{}
		paragraphQuality := make([]float64, 0, len(section.Paragraphs))
		var sectionText []string

		for _, paragraph := range section.Paragraphs {
			paragraph.TokenCount = 0
			paragraph.ParagraphSimilarity = SimilarityData{}
			sentenceQuality := make([]float64, 0, len(paragraph.Sentences))
			var paragraphText []string

			for _, sentence := range paragraph.Sentences {
				if err := aggregateSentence(ctx, sentence, resolver); err != nil {
					return fmt.Errorf("sentence %s: %w", sentence.InternalID, err)
				}
				paragraph.ParagraphSimilarity.Merge(sentence.SentenceSimilarity)
				paragraph.TokenCount += sentence.TokenCount
				sentenceQuality = append(sentenceQuality, sentence.RecognitionQuality)
				paragraphText = append(paragraphText, sentence.Text)
			}
			if paragraph.Text == "" {
				paragraph.Text = strings.Join(paragraphText, " ")
			}
			paragraph.RecognitionQuality = average(sentenceQuality)
			paragraph.ParagraphSimilarity.Dedup()

			section.SectionSimilarity.Merge(paragraph.ParagraphSimilarity)
			section.TokenCount += paragraph.TokenCount
			paragraphQuality = append(paragraphQuality, paragraph.RecognitionQuality)
			sectionText = append(sectionText, paragraph.Text)
		}
		if section.Text == "" {
			section.Text = strings.Join(sectionText, "\n")
		}
		section.RecognitionQuality = average(paragraphQuality)
		section.SectionSimilarity.Dedup()

		doc.DocumentSimilarity.Merge(section.SectionSimilarity)
		doc.TokenCount += section.TokenCount
		sectionQuality = append(sectionQuality, section.RecognitionQuality)
	}

	doc.DocumentSimilarity.Dedup()
	doc.RecognitionQuality = average(sectionQuality)
	doc.IsStructured = len(doc.Sections) > 1
	return nil
}

// aggregateSentence counts two recognition slots (EuroVoc and IATE) per
// non-punctuation token. A sentence without such tokens has quality 1.
func aggregateSentence(ctx context.Context, sentence *Sentence, resolver TopicResolver) error {
	sentence.SentenceSimilarity = SimilarityData{}
	recognized, total := 0, 0

	for _, token := range sentence.Tokens {
		domains := token.IATEDomains
		if len(domains) == 0 && len(token.IATEEntities) > 0 && resolver != nil {
			resolved, err := resolver.Topics(ctx, token.IATEEntities)
			if err != nil {
				return fmt.Errorf("resolve topics: %w", err)
			}
			domains = resolved
			token.IATEDomains = resolved
		}

		token.Similarity = SimilarityData{
			Tokens: append(append([]string(nil), token.EuroVocEntities...), token.IATEEntities...),
			Topics: append([]string(nil), domains...),
		}

		if token.GeneralPOS != punctuationPOS {
			if len(token.EuroVocEntities) > 0 {
				recognized++
			}
			if len(token.IATEEntities) > 0 {
				recognized++
			}
			total += 2
		}
		sentence.SentenceSimilarity.Merge(token.Similarity)
	}

	sentence.TokenCount = len(sentence.Tokens)
	sentence.SentenceSimilarity.Dedup()
	if total > 0 {
		sentence.RecognitionQuality = float64(recognized) / float64(total)
	} else {
		sentence.RecognitionQuality = 1
	}
	return nil
}

func propagateTopDown(doc *Document) {
	for _, section := range doc.Sections {
		section.DocumentSimilarity = &doc.DocumentSimilarity
		for _, paragraph := range section.Paragraphs {
			paragraph.DocumentSimilarity = &doc.DocumentSimilarity
			paragraph.SectionSimilarity = &section.SectionSimilarity
			for _, sentence := range paragraph.Sentences {
				sentence.DocumentSimilarity = &doc.DocumentSimilarity
				sentence.SectionSimilarity = &section.SectionSimilarity
				sentence.ParagraphSimilarity = &paragraph.ParagraphSimilarity
			}
		}
	}
}

// average of no values is 0.
func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
