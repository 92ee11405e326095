// Package watcher feeds corpus drop directories to the indexer: new or
// changed document trees are indexed after a quiet period, removed ones are
// dropped from the index, and every burst of changes ends with one commit.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultDebounce    = 400 * time.Millisecond
	defaultCommitDelay = 2 * time.Second
)

// Indexer is the part of the corpus indexer the watcher drives.
type Indexer interface {
	IndexFile(ctx context.Context, path string, force bool) (uuid.UUID, error)
	RemoveSource(ctx context.Context, path string) error
	Commit(ctx context.Context) error
}

// Watcher watches directories and forwards document tree changes to an Indexer.
type Watcher struct {
	target      Indexer
	roots       []string
	extensions  []string
	recursive   bool
	debounce    time.Duration
	commitDelay time.Duration
	logger      *zap.Logger

	mu            sync.Mutex
	ctx           context.Context
	fsw           *fsnotify.Watcher
	pending       map[string]*time.Timer
	watched       map[string][]string // root -> directories added for it
	commitTimer   *time.Timer
	commitPending bool
	done          chan struct{}
	started       bool
	stopOnce      sync.Once
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets a logger for watcher events.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithExtensions limits the watched files to the given extensions. Empty
// means every file.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) { w.extensions = exts }
}

// WithRecursive watches subdirectories of every root.
func WithRecursive(recursive bool) Option {
	return func(w *Watcher) { w.recursive = recursive }
}

// WithDebounce sets the quiet period after the last write before a file is indexed.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithCommitDelay sets the quiet period after the last change before the index is committed.
func WithCommitDelay(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.commitDelay = d
		}
	}
}

// New creates a watcher over roots that forwards changes to target.
func New(target Indexer, roots []string, opts ...Option) *Watcher {
	w := &Watcher{
		target:      target,
		roots:       append([]string(nil), roots...),
		extensions:  []string{".json"},
		recursive:   true,
		debounce:    defaultDebounce,
		commitDelay: defaultCommitDelay,
		logger:      zap.NewNop(),
		ctx:         context.Background(),
		pending:     make(map[string]*time.Timer),
		watched:     make(map[string][]string),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
// Missing roots are created.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	w.started = true
	w.logger.Info("watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.extensions),
		zap.Bool("recursive", w.recursive))
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = w.fsw.Close()
			w.fsw = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	events, errs := fsw.Events, fsw.Errors
	w.mu.Unlock()
	go w.run(ctx, events, errs)
	return nil
}

func (w *Watcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !w.withinRoots(path) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.watchNewDirectory(path)
			return
		}
		if w.accepts(path) {
			w.scheduleIndex(path)
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.cancelPending(path)
		if w.accepts(path) {
			w.remove(path)
		}
	}
}

// watchNewDirectory watches a directory created or moved under a root and
// indexes the document trees already inside it.
func (w *Watcher) watchNewDirectory(dirPath string) {
	w.mu.Lock()
	recursive := w.recursive
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	if recursive {
		_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := fsw.Add(path); err != nil {
					w.logger.Warn("watcher failed to add directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := fsw.Add(dirPath); err != nil {
		w.logger.Warn("watcher failed to add directory", zap.String("path", dirPath), zap.Error(err))
	}
	w.indexExisting(dirPath)
}

func (w *Watcher) withinRoots(path string) bool {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	w.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		if inDir(filepath.Clean(root), clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	return hasExtension(path, w.extensions)
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func (w *Watcher) scheduleIndex(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.index(ctx, path)
	})
}

func (w *Watcher) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

// index forwards one file. Indexing failures are logged by the indexer.
func (w *Watcher) index(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}
	if _, err := w.target.IndexFile(ctx, path, false); err != nil {
		w.logger.Debug("watcher index", zap.String("path", path), zap.Error(err))
		return
	}
	w.scheduleCommit()
}

func (w *Watcher) remove(path string) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if err := w.target.RemoveSource(ctx, path); err != nil {
		w.logger.Warn("watcher remove source", zap.String("path", path), zap.Error(err))
		return
	}
	w.scheduleCommit()
}

// scheduleCommit commits once no change arrived for the commit delay.
func (w *Watcher) scheduleCommit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	w.commitPending = true
	if w.commitTimer != nil {
		w.commitTimer.Stop()
	}
	w.commitTimer = time.AfterFunc(w.commitDelay, func() {
		w.mu.Lock()
		pending := w.commitPending
		w.commitPending = false
		ctx := w.ctx
		w.mu.Unlock()
		if pending {
			w.commit(ctx)
		}
	})
}

func (w *Watcher) commit(ctx context.Context) {
	if err := w.target.Commit(ctx); err != nil {
		w.logger.Warn("watcher commit", zap.Error(err))
		return
	}
	w.logger.Debug("watcher committed changes")
}

// AddDirectory adds a root directory to watch and optionally indexes the
// trees already in it.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	for _, r := range w.roots {
		if filepath.Clean(r) == filepath.Clean(abs) {
			return nil
		}
	}
	if err := w.watchRootLocked(abs); err != nil {
		return err
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("watcher directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting {
		go w.indexExisting(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		if err := os.MkdirAll(root, 0755); err != nil {
			return err
		}
	}
	var paths []string
	if w.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || !d.IsDir() {
				return err
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.watched[root] = paths
	return nil
}

func (w *Watcher) indexExisting(root string) {
	w.mu.Lock()
	exts := append([]string(nil), w.extensions...)
	ctx := w.ctx
	w.mu.Unlock()
	w.logger.Debug("watcher syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if hasExtension(path, exts) {
			w.index(ctx, path)
		}
		return nil
	})
}

// RemoveDirectory stops watching the given root. Indexed documents stay.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return nil
	}
	idx := -1
	for i, r := range w.roots {
		if filepath.Clean(r) == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	for _, p := range w.watched[abs] {
		_ = w.fsw.Remove(p)
	}
	delete(w.watched, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("watcher directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the current watched root directories.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles indexes every matching tree in each watched root. Call
// it after Start to pick up files that were already present.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.indexExisting(root)
	}
}

// Stop stops the watcher. A commit still waiting for its quiet period runs
// before Stop returns.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	if w.commitTimer != nil {
		w.commitTimer.Stop()
	}
	pending := w.commitPending
	w.commitPending = false
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })

	if pending {
		w.commit(context.Background())
	}
}
