package indexer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/pkg/utils"
)

// ReadDocument reads one parsed document tree from a JSON file. The file
// name is used when the tree does not name its source file.
func ReadDocument(path string) (*models.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	doc, err := DecodeDocument(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if doc.FileName == "" {
		doc.FileName = filepath.Base(path)
	}
	return doc, nil
}

// DecodeDocument decodes a document tree and normalizes its language and
// text fields.
func DecodeDocument(r io.Reader) (*models.Document, error) {
	var doc models.Document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	doc.Language = normalizeLanguage(doc.Language)
	if doc.Language == "" {
		return nil, fmt.Errorf("decode document: missing language")
	}
	doc.Text = utils.CollapseSpace(doc.Text)
	for _, section := range doc.Sections {
		if section == nil {
			return nil, fmt.Errorf("decode document: null section")
		}
		section.Text = utils.CollapseSpace(section.Text)
		for _, paragraph := range section.Paragraphs {
			if paragraph == nil {
				return nil, fmt.Errorf("decode document: null paragraph")
			}
			paragraph.Text = utils.CollapseSpace(paragraph.Text)
			for _, sentence := range paragraph.Sentences {
				if sentence == nil {
					return nil, fmt.Errorf("decode document: null sentence")
				}
				sentence.Text = utils.CollapseSpace(sentence.Text)
				for _, token := range sentence.Tokens {
					if token == nil {
						return nil, fmt.Errorf("decode document: null token")
					}
				}
			}
		}
	}
	return &doc, nil
}
