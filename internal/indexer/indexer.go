// Package indexer writes parsed corpus documents into the index cells of
// their language and granularity.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/fileid"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/storage"
)

// Defaults used when options are not set.
const (
	DefaultWorkers       = 4
	DefaultCommitEvery   = 100
	DefaultOptimizeEvery = 1000
)

// DefaultExtensions are the file extensions read as document trees.
var DefaultExtensions = []string{".json"}

// ErrUnchanged is returned by IndexFile when the source was already indexed
// with the same modification time.
var ErrUnchanged = errors.New("source unchanged")

// Indexer indexes document trees into an index manager and records every
// indexed source in the source registry. It is safe for concurrent use.
type Indexer struct {
	manager  *index.Manager
	store    storage.Storage
	resolver models.TopicResolver
	metrics  *metrics.Metrics
	logger   *zap.Logger

	workers       int
	commitEvery   int
	optimizeEvery int
	extensions    []string

	pool      *ants.Pool
	processed atomic.Int64
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithResolver sets the vocabulary used to fill missing IATE domains.
func WithResolver(r models.TopicResolver) Option {
	return func(ix *Indexer) { ix.resolver = r }
}

// WithMetrics records indexed entities and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithWorkers sets the number of documents indexed concurrently.
func WithWorkers(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.workers = n
		}
	}
}

// WithCommitEvery commits all cells after every n documents. Zero disables
// intermediate commits.
func WithCommitEvery(n int) Option {
	return func(ix *Indexer) { ix.commitEvery = n }
}

// WithOptimizeEvery runs an opportunistic merge after every n documents.
// Zero disables it.
func WithOptimizeEvery(n int) Option {
	return func(ix *Indexer) { ix.optimizeEvery = n }
}

// WithExtensions sets the extensions of files read by IndexDirectory.
func WithExtensions(exts ...string) Option {
	return func(ix *Indexer) {
		if len(exts) > 0 {
			ix.extensions = exts
		}
	}
}

// New returns an indexer writing into manager. store may be nil, in which
// case sources are not registered and reindexing relies on deterministic ids.
func New(manager *index.Manager, store storage.Storage, opts ...Option) (*Indexer, error) {
	ix := &Indexer{
		manager:       manager,
		store:         store,
		logger:        zap.NewNop(),
		workers:       DefaultWorkers,
		commitEvery:   DefaultCommitEvery,
		optimizeEvery: DefaultOptimizeEvery,
		extensions:    DefaultExtensions,
	}
	for _, opt := range opts {
		opt(ix)
	}
	pool, err := ants.NewPool(ix.workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	ix.pool = pool
	return ix, nil
}

// Close releases the worker pool. Pending index changes are left to the
// manager.
func (ix *Indexer) Close() {
	ix.pool.Release()
}

// Stats summarizes one IndexDirectory run.
type Stats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// IndexDirectory indexes every document tree below dir, one pool task per
// file. A file that fails is logged and counted; the run goes on. Unless
// force is set, files indexed before with the same modification time are
// skipped. All cells are committed at the end.
func (ix *Indexer) IndexDirectory(ctx context.Context, dir string, force bool) (Stats, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return Stats{}, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return Stats{}, fmt.Errorf("not a directory: %s", absDir)
	}

	paths, err := ix.collect(absDir)
	if err != nil {
		return Stats{}, err
	}
	ix.logger.Info("indexing corpus", zap.String("dir", absDir), zap.Int("files", len(paths)), zap.Bool("force", force))

	var (
		wg                      sync.WaitGroup
		indexed, skipped, fails atomic.Int64
	)
	for _, path := range paths {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		submitErr := ix.pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			_, err := ix.IndexFile(ctx, path, force)
			switch {
			case err == nil:
				indexed.Add(1)
				ix.afterDocument(ctx)
			case errors.Is(err, ErrUnchanged):
				skipped.Add(1)
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			default:
				fails.Add(1)
			}
		})
		if submitErr != nil {
			wg.Done()
			return Stats{}, fmt.Errorf("submit %s: %w", path, submitErr)
		}
	}
	wg.Wait()

	stats := Stats{Indexed: int(indexed.Load()), Skipped: int(skipped.Load()), Failed: int(fails.Load())}
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	if err := ix.manager.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit: %w", err)
	}
	ix.logger.Info("corpus indexed",
		zap.String("dir", absDir),
		zap.Int("indexed", stats.Indexed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func (ix *Indexer) collect(dir string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !ix.Accepts(path) {
			return nil
		}
		// Resolve symlinks so only regular files are read
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return paths, nil
}

// afterDocument runs the periodic commit and merge.
func (ix *Indexer) afterDocument(ctx context.Context) {
	n := ix.processed.Add(1)
	if ix.commitEvery > 0 && n%int64(ix.commitEvery) == 0 {
		if err := ix.manager.Commit(ctx); err != nil {
			ix.logger.Warn("periodic commit", zap.Int64("documents", n), zap.Error(err))
		}
	}
	if ix.optimizeEvery > 0 && n%int64(ix.optimizeEvery) == 0 {
		if err := ix.manager.TryOptimize(ctx); err != nil {
			ix.logger.Warn("periodic merge", zap.Int64("documents", n), zap.Error(err))
		}
	}
}

// Accepts reports whether path has one of the configured extensions.
func (ix *Indexer) Accepts(path string) bool {
	return extensionAllowed(filepath.Ext(path), ix.extensions)
}

// IndexFile reads the document tree at path and indexes it, replacing the
// records of any earlier version of the same source. It returns the
// internal id of the document. Failures are logged with the source path.
func (ix *Indexer) IndexFile(ctx context.Context, path string, force bool) (uuid.UUID, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return uuid.Nil, fmt.Errorf("absolute path: %w", err)
	}
	docID := fileid.DocumentID(absPath)

	err = ix.indexFile(ctx, absPath, docID, force)
	switch {
	case err == nil:
		ix.logger.Debug("source indexed", zap.String("path", absPath), zap.String("doc_id", docID.String()))
	case errors.Is(err, ErrUnchanged):
		ix.logger.Debug("source unchanged", zap.String("path", absPath))
	case ctx.Err() != nil:
	default:
		ix.metrics.RecordIndexFailure()
		ix.logger.Warn("failed to index source",
			zap.String("path", absPath),
			zap.String("doc_id", docID.String()),
			zap.Error(err))
	}
	return docID, err
}

func (ix *Indexer) indexFile(ctx context.Context, absPath string, docID uuid.UUID, force bool) error {
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}

	prev, err := ix.previous(ctx, absPath)
	if err != nil {
		return err
	}
	if !force && prev != nil && prev.DocumentID == docID.String() && prev.ModTime.Equal(info.ModTime()) {
		return ErrUnchanged
	}

	doc, err := ReadDocument(absPath)
	if err != nil {
		return err
	}
	if prev != nil {
		if err := ix.deleteDocument(ctx, prev.Language, prev.DocumentID); err != nil {
			return fmt.Errorf("remove previous version: %w", err)
		}
	}
	if prev == nil || prev.DocumentID != docID.String() || prev.Language != doc.Language {
		if err := ix.deleteDocument(ctx, doc.Language, docID.String()); err != nil {
			return fmt.Errorf("remove previous version: %w", err)
		}
	}
	if _, err := ix.IndexDocument(ctx, doc, docID); err != nil {
		return err
	}

	if ix.store == nil {
		return nil
	}
	return ix.store.PutSource(ctx, &storage.Source{
		Path:       absPath,
		DocumentID: docID.String(),
		Language:   doc.Language,
		ModTime:    info.ModTime(),
	})
}

func (ix *Indexer) previous(ctx context.Context, absPath string) (*storage.Source, error) {
	if ix.store == nil {
		return nil, nil
	}
	src, err := ix.store.GetSource(ctx, absPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up source: %w", err)
	}
	return src, nil
}

// IndexDocument assigns identifiers, aggregates and writes every entity of
// doc into its cell. A non-nil documentID replaces the document's own id.
// It returns the number of written entities. Changes become visible to
// readers on the next acquire and durable on the next commit.
func (ix *Indexer) IndexDocument(ctx context.Context, doc *models.Document, documentID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	doc.Language = normalizeLanguage(doc.Language)
	if doc.Language == "" {
		return 0, errors.New("document has no language")
	}
	models.AssignIdentifiers(doc, documentID)
	if err := models.Aggregate(ctx, doc, ix.resolver); err != nil {
		return 0, fmt.Errorf("aggregate: %w", err)
	}
	entries, err := codec.EncodeTree(doc)
	if err != nil {
		return 0, fmt.Errorf("encode: %w", err)
	}

	written := make(map[models.Granularity]int, len(models.Granularities))
	for _, e := range entries {
		w, err := ix.manager.Writer(index.Key{Language: doc.Language, Granularity: e.Granularity})
		if err != nil {
			return 0, err
		}
		if err := w.Index(e.ID, e.Record); err != nil {
			return 0, err
		}
		written[e.Granularity]++
	}
	for g, n := range written {
		ix.metrics.RecordIndexed(g.String(), n)
	}
	return len(entries), nil
}

// RemoveSource deletes every record of the document last indexed from path
// and forgets the source. Unknown sources are ignored.
func (ix *Indexer) RemoveSource(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("absolute path: %w", err)
	}
	prev, err := ix.previous(ctx, absPath)
	if err != nil || prev == nil {
		return err
	}
	if err := ix.deleteDocument(ctx, prev.Language, prev.DocumentID); err != nil {
		return err
	}
	ix.logger.Info("source removed", zap.String("path", absPath), zap.String("doc_id", prev.DocumentID))
	return ix.store.DeleteSource(ctx, absPath)
}

// deleteDocument removes the document record and every descendant
// referencing it from the cells of language.
func (ix *Indexer) deleteDocument(ctx context.Context, language, documentID string) error {
	id, err := codec.ParseID(documentID)
	if err != nil {
		return fmt.Errorf("parse document id %q: %w", documentID, err)
	}
	stored := codec.FormatID(id)

	w, err := ix.manager.Writer(index.Key{Language: language, Granularity: models.GranularityDocument})
	if err != nil {
		return err
	}
	if err := w.Delete(stored); err != nil {
		return err
	}
	removed := 0
	for _, g := range models.Granularities[1:] {
		w, err := ix.manager.Writer(index.Key{Language: language, Granularity: g})
		if err != nil {
			return err
		}
		n, err := w.DeleteWhere(ctx, codec.AncestorField(models.GranularityDocument), stored)
		if err != nil {
			return err
		}
		removed += n
	}
	ix.logger.Debug("document records removed",
		zap.String("doc_id", documentID),
		zap.String("language", language),
		zap.Int("descendants", removed))
	return nil
}

// Commit commits every cell written so far.
func (ix *Indexer) Commit(ctx context.Context) error {
	return ix.manager.Commit(ctx)
}

func normalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	if extNorm == "" {
		return false
	}
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
