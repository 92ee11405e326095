package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
)

// EntityHierarchy returns hit converted to level view by walking up its
// ancestors. Without fullLoad the result holds only the path down to hit
// (plus the paragraphs of a section hit); with fullLoad every descendant of
// the view entity is loaded and the matched paragraph is flagged IsMatch.
func (e *Engine) EntityHierarchy(ctx context.Context, hit models.Entity, view models.Granularity, fullLoad bool) (models.Entity, error) {
	if !view.IsSingle() {
		return nil, fmt.Errorf("%w: view %s", ErrUnsupportedConversion, view)
	}
	if view.FinerThan(hit.Granularity()) {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedConversion, hit.Granularity(), view)
	}

	lang := hit.Lang()
	current := hit
	for current.Granularity() != view {
		level := parentLevel(current.Granularity())
		parent, err := e.lookup(ctx, lang, level, current.Parent())
		if err != nil {
			return nil, err
		}
		if parent == nil {
			return nil, fmt.Errorf("%w: %s %s of %s %s", ErrParentNotFound,
				level, current.Parent(), current.Granularity(), current.Identity())
		}
		if !fullLoad {
			attach(parent, current)
		}
		current = parent
	}

	if fullLoad {
		if err := e.loadDescendants(ctx, current); err != nil {
			return nil, err
		}
		markMatch(current, hit)
		return current, nil
	}

	if section, ok := hit.(*models.Section); ok && view != models.GranularitySection {
		paragraphs, err := e.ParagraphsBySection(ctx, lang, section.InternalID)
		if err != nil {
			return nil, err
		}
		section.Paragraphs = paragraphs
	}
	return current, nil
}

func parentLevel(g models.Granularity) models.Granularity {
	switch g {
	case models.GranularitySentence:
		return models.GranularityParagraph
	case models.GranularityParagraph:
		return models.GranularitySection
	}
	return models.GranularityDocument
}

// attach makes child the only child of parent.
func attach(parent, child models.Entity) {
	switch p := parent.(type) {
	case *models.Document:
		p.Sections = []*models.Section{child.(*models.Section)}
	case *models.Section:
		p.Paragraphs = []*models.Paragraph{child.(*models.Paragraph)}
	case *models.Paragraph:
		p.Sentences = []*models.Sentence{child.(*models.Sentence)}
	}
}

func (e *Engine) loadDescendants(ctx context.Context, root models.Entity) error {
	lang := root.Lang()
	id := root.Identity()
	switch r := root.(type) {
	case *models.Document:
		sections, err := e.Sections(ctx, lang, id)
		if err != nil {
			return err
		}
		paragraphs, err := e.ParagraphsByDocument(ctx, lang, id)
		if err != nil {
			return err
		}
		sentences, err := e.SentencesByDocument(ctx, lang, id)
		if err != nil {
			return err
		}
		linkParagraphs(paragraphs, sentences)
		bySection := groupByParent(paragraphs)
		for _, s := range sections {
			s.Paragraphs = bySection[s.InternalID]
		}
		r.Sections = sections
	case *models.Section:
		paragraphs, err := e.ParagraphsBySection(ctx, lang, id)
		if err != nil {
			return err
		}
		sentences, err := children[*models.Sentence](ctx, e, lang, models.GranularitySentence, models.GranularitySection, id)
		if err != nil {
			return err
		}
		linkParagraphs(paragraphs, sentences)
		r.Paragraphs = paragraphs
	case *models.Paragraph:
		sentences, err := e.SentencesByParagraph(ctx, lang, id)
		if err != nil {
			return err
		}
		r.Sentences = sentences
	}
	return nil
}

func linkParagraphs(paragraphs []*models.Paragraph, sentences []*models.Sentence) {
	byParagraph := groupByParent(sentences)
	for _, p := range paragraphs {
		p.Sentences = byParagraph[p.InternalID]
	}
}

func groupByParent[T models.Entity](items []T) map[uuid.UUID][]T {
	out := make(map[uuid.UUID][]T)
	for _, item := range items {
		out[item.Parent()] = append(out[item.Parent()], item)
	}
	return out
}

// markMatch flags the paragraph that hit is, or lies in.
func markMatch(root, hit models.Entity) {
	var matched uuid.UUID
	switch h := hit.(type) {
	case *models.Paragraph:
		matched = h.InternalID
	case *models.Sentence:
		matched = h.ParentID
	default:
		return
	}
	flag := func(paragraphs []*models.Paragraph) {
		for _, p := range paragraphs {
			if p.InternalID == matched {
				p.IsMatch = true
			}
		}
	}
	switch r := root.(type) {
	case *models.Document:
		for _, s := range r.Sections {
			flag(s.Paragraphs)
		}
	case *models.Section:
		flag(r.Paragraphs)
	case *models.Paragraph:
		flag([]*models.Paragraph{r})
	}
}

// Document returns the document with the given internal id, or nil.
func (e *Engine) Document(ctx context.Context, language string, id uuid.UUID) (*models.Document, error) {
	return lookupAs[*models.Document](ctx, e, language, models.GranularityDocument, id)
}

// Section returns the section with the given internal id, or nil.
func (e *Engine) Section(ctx context.Context, language string, id uuid.UUID) (*models.Section, error) {
	return lookupAs[*models.Section](ctx, e, language, models.GranularitySection, id)
}

// Paragraph returns the paragraph with the given internal id, or nil.
func (e *Engine) Paragraph(ctx context.Context, language string, id uuid.UUID) (*models.Paragraph, error) {
	return lookupAs[*models.Paragraph](ctx, e, language, models.GranularityParagraph, id)
}

// Sentence returns the sentence with the given internal id, or nil.
func (e *Engine) Sentence(ctx context.Context, language string, id uuid.UUID) (*models.Sentence, error) {
	return lookupAs[*models.Sentence](ctx, e, language, models.GranularitySentence, id)
}

// FullDocument returns the document with every section, paragraph and
// sentence loaded, or nil.
func (e *Engine) FullDocument(ctx context.Context, language string, id uuid.UUID) (*models.Document, error) {
	doc, err := e.Document(ctx, language, id)
	if err != nil || doc == nil {
		return nil, err
	}
	if err := e.loadDescendants(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func lookupAs[T models.Entity](ctx context.Context, e *Engine, language string, g models.Granularity, id uuid.UUID) (T, error) {
	var zero T
	entity, err := e.lookup(ctx, language, g, id)
	if err != nil || entity == nil {
		return zero, err
	}
	return entity.(T), nil
}

func (e *Engine) lookup(ctx context.Context, language string, g models.Granularity, id uuid.UUID) (models.Entity, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{codec.FormatID(id)}), 1, 0, false)
	req.Fields = []string{"*"}

	var entity models.Entity
	err := e.withSearcher(language, g, func(s *index.Searcher) error {
		res, err := s.Search(ctx, req)
		if err != nil {
			return err
		}
		if len(res.Hits) == 0 {
			return nil
		}
		entity, err = codec.Decode(g, codec.Record(res.Hits[0].Fields))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", g, id, err)
	}
	return entity, nil
}

// Sections returns the sections of a document in order.
func (e *Engine) Sections(ctx context.Context, language string, documentID uuid.UUID) ([]*models.Section, error) {
	return children[*models.Section](ctx, e, language, models.GranularitySection, models.GranularityDocument, documentID)
}

// ParagraphsBySection returns the paragraphs of a section in order.
func (e *Engine) ParagraphsBySection(ctx context.Context, language string, sectionID uuid.UUID) ([]*models.Paragraph, error) {
	return children[*models.Paragraph](ctx, e, language, models.GranularityParagraph, models.GranularitySection, sectionID)
}

// ParagraphsByDocument returns every paragraph of a document.
func (e *Engine) ParagraphsByDocument(ctx context.Context, language string, documentID uuid.UUID) ([]*models.Paragraph, error) {
	return children[*models.Paragraph](ctx, e, language, models.GranularityParagraph, models.GranularityDocument, documentID)
}

// SentencesByParagraph returns the sentences of a paragraph in order.
func (e *Engine) SentencesByParagraph(ctx context.Context, language string, paragraphID uuid.UUID) ([]*models.Sentence, error) {
	return children[*models.Sentence](ctx, e, language, models.GranularitySentence, models.GranularityParagraph, paragraphID)
}

// SentencesByDocument returns every sentence of a document.
func (e *Engine) SentencesByDocument(ctx context.Context, language string, documentID uuid.UUID) ([]*models.Sentence, error) {
	return children[*models.Sentence](ctx, e, language, models.GranularitySentence, models.GranularityDocument, documentID)
}

// children fetches every record of level g that references ancestorID in
// the ancestor field of level ancestor, sorted by Order. More than
// MaxBulkResults matches fail with ErrTooManyResults.
func children[T models.Entity](ctx context.Context, e *Engine, language string, g, ancestor models.Granularity, ancestorID uuid.UUID) ([]T, error) {
	q := bleve.NewTermQuery(codec.FormatID(ancestorID))
	q.SetField(codec.AncestorField(ancestor))
	req := bleve.NewSearchRequestOptions(q, MaxBulkResults, 0, false)
	req.Fields = []string{"*"}

	out := []T{}
	err := e.withSearcher(language, g, func(s *index.Searcher) error {
		res, err := s.Search(ctx, req)
		if err != nil {
			return err
		}
		if res.Total > MaxBulkResults {
			return fmt.Errorf("%w: %d %s records", ErrTooManyResults, res.Total, g)
		}
		for _, hit := range res.Hits {
			entity, err := codec.Decode(g, codec.Record(hit.Fields))
			if err != nil {
				return err
			}
			out = append(out, entity.(T))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return order(out[i]) < order(out[j]) })
	return out, nil
}

func order(e models.Entity) int {
	switch v := e.(type) {
	case *models.Section:
		return v.Order
	case *models.Paragraph:
		return v.Order
	case *models.Sentence:
		return v.Order
	}
	return 0
}
