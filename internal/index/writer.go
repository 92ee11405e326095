package index

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/codec"
)

// commitKey is the internal key under which the last committed generation is stored.
var commitKey = []byte("lexalign.commit")

// deleteBatchSize bounds the ids fetched per round by DeleteWhere.
const deleteBatchSize = 10000

// Writer buffers record updates of one cell and applies them to its index.
// It is safe for concurrent use.
type Writer struct {
	key        Key
	index      bleve.Index
	lock       *flock.Flock
	logger     *zap.Logger
	flushEvery int

	mu         sync.Mutex
	batch      *bleve.Batch
	generation atomic.Uint64
}

// openIndex opens the index at dir, creating it with the mapping of the
// cell's granularity when the directory does not exist.
func openIndex(key Key, dir string) (bleve.Index, error) {
	if _, err := os.Stat(dir); err == nil {
		idx, openErr := bleve.Open(dir)
		if openErr != nil {
			return nil, fmt.Errorf("open index %s: %w", key, openErr)
		}
		return idx, nil
	}
	im, err := codec.NewIndexMapping(key.Granularity)
	if err != nil {
		return nil, err
	}
	idx, err := bleve.New(dir, im)
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", key, err)
	}
	return idx, nil
}

func newWriter(key Key, dir, lockPath string, flushEvery int, logger *zap.Logger) (*Writer, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrIndexLocked, key)
	}

	idx, err := openIndex(key, dir)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	w := &Writer{
		key:        key,
		index:      idx,
		lock:       lock,
		logger:     logger,
		flushEvery: flushEvery,
		batch:      idx.NewBatch(),
	}
	if raw, err := idx.GetInternal(commitKey); err == nil && len(raw) > 0 {
		if gen, parseErr := strconv.ParseUint(string(raw), 10, 64); parseErr == nil {
			w.generation.Store(gen)
		}
	}
	return w, nil
}

// Key returns the cell the writer belongs to.
func (w *Writer) Key() Key { return w.key }

// Generation increases every time buffered changes become visible to readers.
func (w *Writer) Generation() uint64 { return w.generation.Load() }

// Index buffers rec under id, replacing any record with the same id.
func (w *Writer) Index(id string, rec codec.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.batch.Index(id, map[string]interface{}(rec)); err != nil {
		return fmt.Errorf("index %s into %s: %w", id, w.key, err)
	}
	return w.maybeFlushLocked()
}

// Delete buffers the removal of id.
func (w *Writer) Delete(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch.Delete(id)
	return w.maybeFlushLocked()
}

// Pending returns the number of buffered operations.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.batch.Size()
}

func (w *Writer) maybeFlushLocked() error {
	if w.flushEvery > 0 && w.batch.Size() >= w.flushEvery {
		return w.flushLocked()
	}
	return nil
}

// Flush applies the buffered operations, making them visible to new readers.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.batch.Size() == 0 {
		return nil
	}
	if err := w.index.Batch(w.batch); err != nil {
		return fmt.Errorf("apply batch to %s: %w", w.key, err)
	}
	w.batch.Reset()
	w.generation.Add(1)
	return nil
}

// Commit flushes and records the current generation in the index.
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	gen := strconv.FormatUint(w.generation.Load(), 10)
	if err := w.index.SetInternal(commitKey, []byte(gen)); err != nil {
		return fmt.Errorf("commit %s: %w", w.key, err)
	}
	return nil
}

// DeleteWhere removes every record whose keyword field equals value and
// returns the number of removed records. Buffered changes are flushed first.
func (w *Writer) DeleteWhere(ctx context.Context, field, value string) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return 0, err
	}
	q := bleve.NewTermQuery(value)
	q.SetField(field)

	deleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		ids, err := w.matchingIDs(ctx, q)
		if err != nil {
			return deleted, err
		}
		if len(ids) == 0 {
			return deleted, nil
		}
		for _, id := range ids {
			w.batch.Delete(id)
		}
		if err := w.flushLocked(); err != nil {
			return deleted, err
		}
		deleted += len(ids)
	}
}

func (w *Writer) matchingIDs(ctx context.Context, q query.Query) ([]string, error) {
	req := bleve.NewSearchRequestOptions(q, deleteBatchSize, 0, false)
	res, err := w.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("find records in %s: %w", w.key, err)
	}
	ids := make([]string, len(res.Hits))
	for i, hit := range res.Hits {
		ids[i] = hit.ID
	}
	return ids, nil
}

// close commits, closes the index and releases the file lock.
func (w *Writer) close() error {
	commitErr := w.Commit()
	closeErr := w.index.Close()
	unlockErr := w.lock.Unlock()
	if commitErr != nil {
		return commitErr
	}
	if closeErr != nil {
		return fmt.Errorf("close index %s: %w", w.key, closeErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("unlock %s: %w", w.key, unlockErr)
	}
	return nil
}

// abandon closes the index without committing pending changes.
func (w *Writer) abandon() {
	if err := w.index.Close(); err != nil {
		w.logger.Warn("close abandoned writer", zap.String("cell", w.key.String()), zap.Error(err))
	}
	_ = w.lock.Unlock()
}
