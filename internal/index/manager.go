package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/storage"
)

const (
	// DefaultFlushEvery is the number of buffered operations after which a writer flushes.
	DefaultFlushEvery = 1000
	// DefaultSearcherCacheSize bounds the number of cached searchers.
	DefaultSearcherCacheSize = 64
	// DefaultMaxSegments is the segment target of a full optimize.
	DefaultMaxSegments = 1
)

// Manager owns every index cell below a root directory. One manager per root
// should exist per process; it is shared by all searches and the indexer.
type Manager struct {
	root       string
	mode       Mode
	readOnly   bool
	languages  map[string]struct{}
	flushEvery int
	cacheSize  int
	logger     *zap.Logger
	metrics    *metrics.Metrics

	mu        sync.Mutex
	cells     map[Key]*cell
	closed    bool
	searchers *lru.Cache[*Reader, *Searcher]
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReadOnly opens every cell without a writer.
func WithReadOnly(readOnly bool) Option {
	return func(m *Manager) { m.readOnly = readOnly }
}

// WithLanguages sets the languages the manager serves.
func WithLanguages(languages ...string) Option {
	return func(m *Manager) {
		if len(languages) == 0 {
			return
		}
		m.languages = make(map[string]struct{}, len(languages))
		for _, l := range languages {
			m.languages[strings.ToLower(strings.TrimSpace(l))] = struct{}{}
		}
	}
}

// WithFlushEvery sets the writer auto-flush threshold. Zero disables auto-flush.
func WithFlushEvery(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.flushEvery = n
		}
	}
}

// WithSearcherCacheSize bounds the searcher cache.
func WithSearcherCacheSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.cacheSize = n
		}
	}
}

// WithMetrics reports reader, commit and merge activity.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager for the cells below root. The directory is
// created unless the manager is read-only, in which case it must exist.
func NewManager(root string, mode Mode, opts ...Option) (*Manager, error) {
	if mode != SingleIndex && mode != IndexPerLanguage {
		return nil, fmt.Errorf("invalid index mode %s", mode)
	}
	if root == "" {
		return nil, errors.New("index root is required")
	}
	m := &Manager{
		root:       root,
		mode:       mode,
		flushEvery: DefaultFlushEvery,
		cacheSize:  DefaultSearcherCacheSize,
		logger:     zap.NewNop(),
		cells:      make(map[Key]*cell),
	}
	WithLanguages(DefaultLanguages...)(m)
	for _, opt := range opts {
		opt(m)
	}

	if m.readOnly {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("index root %s: %w", root, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("index root %s is not a directory", root)
		}
	} else if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root %s: %w", root, err)
	}

	cache, err := lru.New[*Reader, *Searcher](m.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("searcher cache: %w", err)
	}
	m.searchers = cache
	return m, nil
}

// Root returns the directory holding the cells.
func (m *Manager) Root() string { return m.root }

// Mode returns the language mode.
func (m *Manager) Mode() Mode { return m.mode }

// ReadOnly reports whether writes are rejected.
func (m *Manager) ReadOnly() bool { return m.readOnly }

// Languages returns the served languages, sorted.
func (m *Manager) Languages() []string {
	out := make([]string, 0, len(m.languages))
	for l := range m.languages {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Normalize validates key and maps it to the cell that stores it. The
// language must be served in both modes; SingleIndex also accepts
// AllLanguages.
func (m *Manager) Normalize(key Key) (Key, error) {
	if !key.Granularity.IsSingle() {
		return Key{}, fmt.Errorf("%w: %s", ErrInvalidGranularity, key.Granularity)
	}
	lang := strings.ToLower(strings.TrimSpace(key.Language))
	if m.mode == SingleIndex && lang == AllLanguages {
		return Key{Language: AllLanguages, Granularity: key.Granularity}, nil
	}
	if _, ok := m.languages[lang]; !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, key.Language)
	}
	if m.mode == SingleIndex {
		return Key{Language: AllLanguages, Granularity: key.Granularity}, nil
	}
	return Key{Language: lang, Granularity: key.Granularity}, nil
}

// Keys returns every cell the manager can serve.
func (m *Manager) Keys() []Key {
	langs := []string{AllLanguages}
	if m.mode == IndexPerLanguage {
		langs = m.Languages()
	}
	keys := make([]Key, 0, len(langs)*len(models.Granularities))
	for _, l := range langs {
		for _, g := range models.Granularities {
			keys = append(keys, Key{Language: l, Granularity: g})
		}
	}
	return keys
}

// ExistingKeys returns the keys whose index exists on disk.
func (m *Manager) ExistingKeys() []Key {
	var out []Key
	for _, k := range m.Keys() {
		if _, err := os.Stat(filepath.Join(m.root, k.DirName())); err == nil {
			out = append(out, k)
		}
	}
	return out
}

func (m *Manager) cell(key Key) (*cell, error) {
	k, err := m.Normalize(key)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	c, ok := m.cells[k]
	if !ok {
		c = &cell{
			key:      k,
			dir:      filepath.Join(m.root, k.DirName()),
			lockPath: filepath.Join(m.root, k.DirName()+".lock"),
			retired:  make(map[*Reader]int),
		}
		m.cells[k] = c
	}
	return c, nil
}

// openCells returns the cells named by keys, or every cell opened so far.
func (m *Manager) openCells(keys []Key) ([]*cell, error) {
	if len(keys) == 0 {
		m.mu.Lock()
		defer m.mu.Unlock()
		out := make([]*cell, 0, len(m.cells))
		for _, c := range m.cells {
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].key.DirName() < out[j].key.DirName() })
		return out, nil
	}
	out := make([]*cell, 0, len(keys))
	seen := make(map[*cell]bool, len(keys))
	for _, k := range keys {
		c, err := m.cell(k)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}

// Writer returns the writer of the cell, opening it on first use. The writer
// holds an exclusive file lock on the cell until the manager is closed.
func (m *Manager) Writer(key Key) (*Writer, error) {
	if m.readOnly {
		return nil, ErrReadOnly
	}
	c, err := m.cell(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.openWriter(m)
}

// Recreate drops the cell's index and starts an empty one. Every reader of
// the cell is closed, including those still held by searches.
func (m *Manager) Recreate(key Key) (*Writer, error) {
	if m.readOnly {
		return nil, ErrReadOnly
	}
	c, err := m.cell(key)
	if err != nil {
		return nil, err
	}
	c.ops.Lock()
	defer c.ops.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeReaders(m, true)
	if c.writer != nil {
		c.writer.abandon()
		c.writer = nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return nil, fmt.Errorf("remove %s: %w", c.dir, err)
	}
	m.logger.Info("recreated index", zap.String("cell", c.key.String()))
	return c.openWriter(m)
}

// AcquireReader returns the current reader of the cell and counts one use
// of it. Pending writer changes are flushed first so the reader reflects
// them. Every acquire must be paired with exactly one ReleaseReader.
func (m *Manager) AcquireReader(key Key) (*Reader, error) {
	c, err := m.cell(key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.acquire(m)
	if err != nil {
		return nil, err
	}
	m.metrics.SetReaders(c.key.String(), c.usage, len(c.retired))
	return r, nil
}

// ReleaseReader gives back one use of r. A superseded reader is closed once
// its last use is released. Releasing a reader more often than it was
// acquired fails with ErrReaderNotAcquired and changes nothing.
func (m *Manager) ReleaseReader(key Key, r *Reader) error {
	if r == nil {
		return ErrReaderNotAcquired
	}
	c, err := m.cell(key)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.release(m, r); err != nil {
		return err
	}
	m.metrics.SetReaders(c.key.String(), c.usage, len(c.retired))
	return nil
}

// Searcher returns the cached searcher of r.
func (m *Manager) Searcher(r *Reader) (*Searcher, error) {
	if r == nil || r.Closed() {
		return nil, ErrReaderClosed
	}
	if s, ok := m.searchers.Get(r); ok {
		return s, nil
	}
	s := &Searcher{reader: r}
	m.searchers.Add(r, s)
	return s, nil
}

// Commit flushes and commits the given cells, or every open cell. It does
// nothing on a read-only manager.
func (m *Manager) Commit(ctx context.Context, keys ...Key) error {
	if m.readOnly {
		return nil
	}
	cells, err := m.openCells(keys)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range cells {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return c.commit(m)
		})
	}
	return g.Wait()
}

// FullOptimize merges each cell down to maxSegments segments and commits.
func (m *Manager) FullOptimize(ctx context.Context, maxSegments int, keys ...Key) error {
	return m.optimize(ctx, "full", keys, func(c *cell, w *Writer) error {
		return w.merge(ctx, fullMergeOptions(maxSegments))
	})
}

// TryOptimize runs one merge pass with the default merge plan and commits.
func (m *Manager) TryOptimize(ctx context.Context, keys ...Key) error {
	return m.optimize(ctx, "try", keys, func(c *cell, w *Writer) error {
		return w.merge(ctx, fullMergeOptions(0))
	})
}

func (m *Manager) optimize(ctx context.Context, kind string, keys []Key, merge func(*cell, *Writer) error) error {
	if m.readOnly {
		return ErrReadOnly
	}
	cells, err := m.openCells(keys)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range cells {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c.ops.RLock()
			defer c.ops.RUnlock()
			c.mu.Lock()
			w, err := c.openWriter(m)
			c.mu.Unlock()
			if err != nil {
				return err
			}
			if err := merge(c, w); err != nil {
				if !errors.Is(err, errMergeUnsupported) {
					return err
				}
				m.logger.Debug("merge skipped", zap.String("cell", c.key.String()), zap.Error(err))
			} else {
				m.metrics.RecordMerge(c.key.String(), kind)
			}
			return c.commitHeld(m)
		})
	}
	return g.Wait()
}

// ForceCloseOldReaders closes every superseded reader of the given cells, or
// of all cells, even if searches still hold it, and purges the searcher
// cache. Errors are logged.
func (m *Manager) ForceCloseOldReaders(keys ...Key) {
	cells, err := m.openCells(keys)
	if err != nil {
		m.logger.Warn("force close old readers", zap.Error(err))
		return
	}
	m.searchers.Purge()
	for _, c := range cells {
		c.mu.Lock()
		for r := range c.retired {
			if err := r.close(); err != nil {
				m.logger.Warn("close retired reader", zap.String("cell", c.key.String()), zap.Error(err))
			}
			delete(c.retired, r)
		}
		m.metrics.SetReaders(c.key.String(), c.usage, 0)
		c.mu.Unlock()
	}
}

// Close shuts every cell down: readers are closed, writers merged,
// committed and closed, file locks released. A failing cell does not stop
// the others; the failures are logged and returned joined.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cells := make([]*cell, 0, len(m.cells))
	for _, c := range m.cells {
		cells = append(cells, c)
	}
	m.mu.Unlock()

	var errs []error
	for _, c := range cells {
		if err := c.shutdown(m); err != nil {
			m.logger.Error("close index cell", zap.String("cell", c.key.String()), zap.Error(err))
			errs = append(errs, err)
		}
	}
	m.searchers.Purge()
	return errors.Join(errs...)
}

// CellStats describes one index cell.
type CellStats struct {
	Key            Key    `json:"-"`
	Name           string `json:"name"`
	Language       string `json:"language"`
	Granularity    string `json:"granularity"`
	Exists         bool   `json:"exists"`
	Documents      uint64 `json:"documents"`
	DiskUsageBytes int64  `json:"disk_usage_bytes"`
	Generation     uint64 `json:"generation"`
	ReaderUsage    int    `json:"reader_usage"`
	RetiredReaders int    `json:"retired_readers"`
	Writable       bool   `json:"writable"`
}

// Stats reports every cell the manager can serve. Cells without an index on
// disk are reported with Exists false.
func (m *Manager) Stats() ([]CellStats, error) {
	var out []CellStats
	for _, k := range m.Keys() {
		dir := filepath.Join(m.root, k.DirName())
		st := CellStats{
			Key:         k,
			Name:        k.DirName(),
			Language:    k.Language,
			Granularity: k.Granularity.String(),
		}
		if _, err := os.Stat(dir); err != nil {
			out = append(out, st)
			continue
		}
		st.Exists = true
		usage, err := storage.DiskUsageBytes(dir)
		if err != nil {
			return nil, err
		}
		st.DiskUsageBytes = usage

		r, err := m.AcquireReader(k)
		if err != nil {
			return nil, err
		}
		st.Documents, err = r.DocCount()
		st.Generation = r.Generation()
		if relErr := m.ReleaseReader(k, r); relErr != nil && err == nil {
			err = relErr
		}
		if err != nil {
			return nil, err
		}

		c, err := m.cell(k)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		st.ReaderUsage = c.usage
		st.RetiredReaders = len(c.retired)
		st.Writable = c.writer != nil
		c.mu.Unlock()
		out = append(out, st)
	}
	return out, nil
}
