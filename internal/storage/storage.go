// Package storage persists the controlled vocabulary and the registry of
// indexed corpus sources.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a term or source does not exist.
var ErrNotFound = errors.New("not found")

// Term is a controlled-vocabulary id with the domain labels it belongs to.
type Term struct {
	ID     string
	Topics []string
}

// Source records which document a corpus file was last indexed as.
type Source struct {
	Path       string
	DocumentID string
	Language   string
	ModTime    time.Time
	IndexedAt  time.Time
}

// Storage defines vocabulary and source registry operations.
type Storage interface {
	// Vocabulary
	PutTerm(ctx context.Context, term *Term) error
	BatchPutTerms(ctx context.Context, terms []*Term) error
	GetTerm(ctx context.Context, id string) (*Term, error)
	// GetTerms returns the topics of every known id; unknown ids are absent.
	GetTerms(ctx context.Context, ids []string) (map[string][]string, error)
	CountTerms(ctx context.Context) (int64, error)

	// Indexed sources
	PutSource(ctx context.Context, src *Source) error
	GetSource(ctx context.Context, path string) (*Source, error)
	DeleteSource(ctx context.Context, path string) error
	ListSources(ctx context.Context, offset, limit int) ([]*Source, error)
	CountSources(ctx context.Context) (int64, error)

	Close() error
}
