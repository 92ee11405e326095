// Package vocabulary resolves controlled-vocabulary ids (IATE, EuroVoc) to
// the domain labels used as similarity topics.
package vocabulary

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/storage"
)

const (
	// DefaultCacheSize is the number of ids whose resolution is kept in memory.
	DefaultCacheSize = 100000

	importBatchSize = 5000
)

// entry is a cached resolution; known is false for ids missing from the store.
type entry struct {
	topics []string
	known  bool
}

// Vocabulary is a read-through LRU cache over the term store. It implements
// models.TopicResolver.
type Vocabulary struct {
	store  storage.Storage
	cache  *lru.Cache[string, entry]
	logger *zap.Logger
}

// Option configures a Vocabulary.
type Option func(*config)

type config struct {
	cacheSize int
	logger    *zap.Logger
}

// WithCacheSize sets the number of cached ids.
func WithCacheSize(n int) Option {
	return func(c *config) { c.cacheSize = n }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New returns a vocabulary backed by store.
func New(store storage.Storage, opts ...Option) (*Vocabulary, error) {
	cfg := config{cacheSize: DefaultCacheSize, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cacheSize <= 0 {
		cfg.cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, entry](cfg.cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create vocabulary cache: %w", err)
	}
	return &Vocabulary{store: store, cache: cache, logger: cfg.logger}, nil
}

var _ models.TopicResolver = (*Vocabulary)(nil)

// Topics returns the union of the domain labels of ids. If any id is not in
// the vocabulary the result is empty, which callers read as uncertain
// rather than as no topics.
func (v *Vocabulary) Topics(ctx context.Context, ids []string) ([]string, error) {
	ids = models.Dedup(ids)
	if len(ids) == 0 {
		return []string{}, nil
	}

	resolved := make(map[string]entry, len(ids))
	var misses []string
	for _, id := range ids {
		if e, ok := v.cache.Get(id); ok {
			resolved[id] = e
		} else {
			misses = append(misses, id)
		}
	}

	if len(misses) > 0 {
		found, err := v.store.GetTerms(ctx, misses)
		if err != nil {
			return nil, fmt.Errorf("resolve %d ids: %w", len(misses), err)
		}
		for _, id := range misses {
			topics, ok := found[id]
			e := entry{topics: topics, known: ok}
			v.cache.Add(id, e)
			resolved[id] = e
		}
	}

	var topics []string
	for _, id := range ids {
		e := resolved[id]
		if !e.known {
			return []string{}, nil
		}
		topics = append(topics, e.topics...)
	}
	out := models.Dedup(topics)
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// LoadTSV imports terms from r, one per line as id<TAB>topic1;topic2. Blank
// lines and lines starting with # are skipped. It returns the number of
// imported terms and clears the cache.
func (v *Vocabulary) LoadTSV(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var (
		batch []*storage.Term
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := v.store.BatchPutTerms(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		id, rawTopics, ok := strings.Cut(text, "\t")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return total, fmt.Errorf("line %d: expected id<TAB>topics", line)
		}
		batch = append(batch, &storage.Term{ID: id, Topics: models.Dedup(strings.Split(rawTopics, ";"))})
		if len(batch) >= importBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, fmt.Errorf("read vocabulary: %w", err)
	}
	if err := flush(); err != nil {
		return total, err
	}

	v.cache.Purge()
	v.logger.Info("vocabulary imported", zap.Int("terms", total))
	return total, nil
}

// ImportFile imports a TSV file with LoadTSV.
func (v *Vocabulary) ImportFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	return v.LoadTSV(ctx, f)
}

// Len returns the number of ids currently cached.
func (v *Vocabulary) Len() int {
	return v.cache.Len()
}
