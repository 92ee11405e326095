package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/blevesearch/bleve/v2"
	bleveindex "github.com/blevesearch/bleve_index_api"
)

// ErrReaderClosed is returned when searching through a reader that was closed.
var ErrReaderClosed = errors.New("reader is closed")

// Reader is a point-in-time view of a cell. It pins an index snapshot for the
// writer generation it was opened at; searches run against the live index and
// therefore see at least that generation.
type Reader struct {
	key        Key
	index      bleve.Index
	snapshot   bleveindex.IndexReader
	generation uint64
	// owned readers were opened from disk and close the index with themselves.
	owned bool

	mu     sync.RWMutex
	closed bool
}

func newReader(key Key, idx bleve.Index, generation uint64, owned bool) (*Reader, error) {
	adv, err := idx.Advanced()
	if err != nil {
		return nil, fmt.Errorf("open reader %s: %w", key, err)
	}
	snapshot, err := adv.Reader()
	if err != nil {
		return nil, fmt.Errorf("open reader %s: %w", key, err)
	}
	return &Reader{
		key:        key,
		index:      idx,
		snapshot:   snapshot,
		generation: generation,
		owned:      owned,
	}, nil
}

// openReadOnly opens the cell directory without a writer.
func openReadOnly(key Key, dir string) (*Reader, error) {
	idx, err := bleve.OpenUsing(dir, map[string]interface{}{"read_only": true})
	if err != nil {
		return nil, fmt.Errorf("open %s read-only: %w", key, err)
	}
	r, err := newReader(key, idx, 0, true)
	if err != nil {
		_ = idx.Close()
		return nil, err
	}
	return r, nil
}

// Key returns the cell of the reader.
func (r *Reader) Key() Key { return r.key }

// Generation is the writer generation the reader was opened at.
func (r *Reader) Generation() uint64 { return r.generation }

// DocCount returns the number of records in the pinned snapshot.
func (r *Reader) DocCount() (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, ErrReaderClosed
	}
	return r.snapshot.DocCount()
}

// Closed reports whether the reader has been closed.
func (r *Reader) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Reader) search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrReaderClosed
	}
	return r.index.SearchInContext(ctx, req)
}

// close releases the snapshot, and the index for owned readers. Only the
// first call has an effect.
func (r *Reader) close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.snapshot.Close()
	if r.owned {
		err = errors.Join(err, r.index.Close())
	}
	if err != nil {
		return fmt.Errorf("close reader %s: %w", r.key, err)
	}
	return nil
}

// Searcher runs search requests through a reader.
type Searcher struct {
	reader *Reader
}

// Reader returns the reader the searcher belongs to.
func (s *Searcher) Reader() *Reader { return s.reader }

// Search executes req.
func (s *Searcher) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	res, err := s.reader.search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.reader.key, err)
	}
	return res, nil
}
