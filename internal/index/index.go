// Package index manages the physical full-text indexes of the corpus: one
// bleve index per (language, granularity) cell, with a lazily opened writer,
// a shared near-real-time reader and reference counting for readers that are
// still in use after a refresh.
package index

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hyperjump/lexalign/internal/models"
)

var (
	// ErrReadOnly is returned for write or merge operations on a read-only manager.
	ErrReadOnly = errors.New("invalid operation: index manager is read-only")
	// ErrReaderNotAcquired is returned when a reader is released more often than acquired.
	ErrReaderNotAcquired = errors.New("reader was not acquired")
	// ErrUnsupportedLanguage is returned for languages the manager does not serve.
	ErrUnsupportedLanguage = errors.New("unsupported language")
	// ErrIndexLocked is returned when another process holds the writer lock of a cell.
	ErrIndexLocked = errors.New("index is locked by another writer")
	// ErrInvalidGranularity is returned for keys that do not name exactly one level.
	ErrInvalidGranularity = errors.New("invalid granularity")
	// ErrClosed is returned after the manager has been closed.
	ErrClosed = errors.New("index manager is closed")
)

// AllLanguages is the language component of keys in SingleIndex mode.
const AllLanguages = "all"

// DefaultLanguages are the corpus languages served by default.
var DefaultLanguages = []string{"bg", "hr", "hu", "pl", "ro", "sk", "sl"}

// Mode decides how languages map to physical indexes.
type Mode int

const (
	// SingleIndex keeps every language in one index per granularity.
	SingleIndex Mode = iota
	// IndexPerLanguage keeps one index per (language, granularity).
	IndexPerLanguage
)

func (m Mode) String() string {
	switch m {
	case SingleIndex:
		return "single"
	case IndexPerLanguage:
		return "per_language"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "single" or "per_language".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "":
		return SingleIndex, nil
	case "per_language", "per-language", "perlanguage":
		return IndexPerLanguage, nil
	}
	return 0, fmt.Errorf("unknown index mode %q", s)
}

// Key identifies one index cell.
type Key struct {
	Language    string
	Granularity models.Granularity
}

// DirName is the directory of the cell below the manager root.
func (k Key) DirName() string {
	return "FTS_" + k.Granularity.String() + "_" + k.Language
}

func (k Key) String() string { return k.DirName() }
