// Package fileid derives deterministic document ids from corpus file paths.
package fileid

import (
	"path/filepath"

	"github.com/google/uuid"
)

// namespace scopes path-derived ids so they cannot collide with other
// name-based uuids.
var namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("lexalign:corpus-file"))

// DocumentID returns a stable internal id for the document stored at path.
// The path is cleaned first, so equivalent spellings map to the same id.
func DocumentID(path string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(filepath.Clean(path)))
}

// AbsDocumentID resolves path against the working directory before deriving its id.
func AbsDocumentID(path string) (uuid.UUID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return uuid.Nil, err
	}
	return DocumentID(abs), nil
}
