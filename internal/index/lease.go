package index

import "sync"

// Lease holds one acquisition of a cell reader. Release it exactly once,
// usually with defer; further calls do nothing.
type Lease struct {
	m      *Manager
	key    Key
	reader *Reader

	once sync.Once
	err  error
}

// Lease acquires the current reader of the cell.
func (m *Manager) Lease(key Key) (*Lease, error) {
	r, err := m.AcquireReader(key)
	if err != nil {
		return nil, err
	}
	return &Lease{m: m, key: key, reader: r}, nil
}

// Reader returns the leased reader.
func (l *Lease) Reader() *Reader { return l.reader }

// Searcher returns the cached searcher of the leased reader.
func (l *Lease) Searcher() (*Searcher, error) { return l.m.Searcher(l.reader) }

// Release gives the reader back to the manager.
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.err = l.m.ReleaseReader(l.key, l.reader)
	})
	return l.err
}
