package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/config"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/indexer"
	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/search"
	"github.com/hyperjump/lexalign/internal/storage"
	"github.com/hyperjump/lexalign/internal/vocabulary"
)

// Components holds initialized services.
type Components struct {
	Metrics    *metrics.Metrics
	Manager    *index.Manager
	Storage    storage.Storage
	Vocabulary *vocabulary.Vocabulary
	Engine     *search.Engine
	// Indexer is nil when the indexes are opened read-only.
	Indexer *indexer.Indexer
}

// Close releases the services in reverse order of creation.
func (c *Components) Close() {
	if c.Indexer != nil {
		c.Indexer.Close()
	}
	if c.Manager != nil {
		_ = c.Manager.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, readOnly bool) (*Components, error) {
	c := &Components{Metrics: metrics.New()}

	store, err := storage.NewSQLiteStorage(cfg.Vocabulary.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	vocab, err := vocabulary.New(store,
		vocabulary.WithCacheSize(cfg.Vocabulary.CacheSize),
		vocabulary.WithLogger(logger),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vocabulary: %w", err)
	}
	c.Vocabulary = vocab

	manager, err := index.NewManager(cfg.Index.Root, cfg.IndexMode(),
		index.WithLogger(logger),
		index.WithReadOnly(readOnly),
		index.WithLanguages(cfg.Index.Languages...),
		index.WithFlushEvery(cfg.Index.FlushEvery),
		index.WithSearcherCacheSize(cfg.Index.SearcherCacheSize),
		index.WithMetrics(c.Metrics),
	)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open indexes: %w", err)
	}
	c.Manager = manager

	c.Engine = search.NewEngine(manager,
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics),
		search.WithParameters(cfg.Search.Parameters),
	)

	if !readOnly {
		idx, err := indexer.New(manager, store,
			indexer.WithLogger(logger),
			indexer.WithResolver(vocab),
			indexer.WithMetrics(c.Metrics),
			indexer.WithWorkers(cfg.Indexer.Workers),
			indexer.WithCommitEvery(cfg.Indexer.CommitEvery),
			indexer.WithOptimizeEvery(cfg.Indexer.OptimizeEvery),
			indexer.WithExtensions(cfg.Indexer.SourceExtensions...),
		)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize indexer: %w", err)
		}
		c.Indexer = idx
	}

	logger.Debug("components initialized",
		zap.String("index_root", cfg.Index.Root),
		zap.String("mode", cfg.IndexMode().String()),
		zap.Bool("read_only", readOnly),
	)
	return c, nil
}
