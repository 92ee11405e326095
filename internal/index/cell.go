package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// cell is the state of one (language, granularity) index. All fields are
// guarded by mu. Commits and merges hold ops shared for their whole run;
// Recreate and shutdown hold it exclusively, so a writer is never torn down
// under a running operation. ops is always taken before mu.
type cell struct {
	key      Key
	dir      string
	lockPath string

	ops     sync.RWMutex
	mu      sync.Mutex
	writer  *Writer
	reader  *Reader
	usage   int
	retired map[*Reader]int
}

func (c *cell) openWriter(m *Manager) (*Writer, error) {
	if c.writer != nil {
		return c.writer, nil
	}
	if m.readOnly {
		return nil, ErrReadOnly
	}
	w, err := newWriter(c.key, c.dir, c.lockPath, m.flushEvery, m.logger)
	if err != nil {
		return nil, err
	}
	c.writer = w
	m.logger.Debug("opened writer", zap.String("cell", c.key.String()), zap.String("dir", c.dir))
	return w, nil
}

func (c *cell) acquire(m *Manager) (*Reader, error) {
	if m.readOnly {
		if c.reader == nil {
			r, err := openReadOnly(c.key, c.dir)
			if err != nil {
				return nil, err
			}
			c.reader = r
			c.usage = 0
		}
		c.usage++
		return c.reader, nil
	}

	w, err := c.openWriter(m)
	if err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	gen := w.Generation()
	if c.reader == nil || c.reader.generation != gen {
		r, err := newReader(c.key, w.index, gen, false)
		if err != nil {
			return nil, err
		}
		c.replaceReader(m, r)
	}
	c.usage++
	return c.reader, nil
}

// replaceReader installs r as the current reader. The previous one is
// retired while searches still hold it and closed otherwise.
func (c *cell) replaceReader(m *Manager, r *Reader) {
	if old := c.reader; old != nil {
		if c.usage > 0 {
			c.retired[old] = c.usage
		} else {
			c.closeReader(m, old)
		}
	}
	c.reader = r
	c.usage = 0
}

func (c *cell) release(m *Manager, r *Reader) error {
	if r == c.reader {
		if c.usage == 0 {
			return fmt.Errorf("%w: %s", ErrReaderNotAcquired, c.key)
		}
		c.usage--
		return nil
	}
	n, ok := c.retired[r]
	if !ok {
		return fmt.Errorf("%w: %s", ErrReaderNotAcquired, c.key)
	}
	n--
	if n > 0 {
		c.retired[r] = n
		return nil
	}
	delete(c.retired, r)
	c.closeReader(m, r)
	return nil
}

func (c *cell) closeReader(m *Manager, r *Reader) {
	m.searchers.Remove(r)
	if err := r.close(); err != nil {
		m.logger.Warn("close reader", zap.String("cell", c.key.String()), zap.Error(err))
	}
}

// closeReaders closes the current reader and, when force is set, every
// retired reader regardless of outstanding uses.
func (c *cell) closeReaders(m *Manager, force bool) {
	if c.reader != nil {
		c.closeReader(m, c.reader)
		c.reader = nil
		c.usage = 0
	}
	if !force {
		return
	}
	for r := range c.retired {
		c.closeReader(m, r)
		delete(c.retired, r)
	}
}

func (c *cell) commit(m *Manager) error {
	c.ops.RLock()
	defer c.ops.RUnlock()
	return c.commitHeld(m)
}

// commitHeld commits the open writer. The caller holds ops.
func (c *cell) commitHeld(m *Manager) error {
	c.mu.Lock()
	w := c.writer
	c.mu.Unlock()
	if w == nil {
		return nil
	}
	if err := w.Commit(); err != nil {
		return err
	}
	m.metrics.RecordCommit(c.key.String())
	return nil
}

func (c *cell) shutdown(m *Manager) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeReaders(m, true)
	if c.writer == nil {
		return nil
	}
	w := c.writer
	c.writer = nil

	var errs []error
	if err := w.merge(context.Background(), fullMergeOptions(0)); err != nil && !errors.Is(err, errMergeUnsupported) {
		errs = append(errs, err)
	}
	if err := w.close(); err != nil {
		errs = append(errs, err)
	} else {
		m.metrics.RecordCommit(c.key.String())
	}
	return errors.Join(errs...)
}
