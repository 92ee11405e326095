package config

import (
	"time"

	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/indexer"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/vocabulary"
)

// DefaultParameters enable paragraph and sentence similarity, the levels
// most parsed corpora populate.
var DefaultParameters = models.Parameters{
	ParagraphTopicWeight:      0.5,
	ParagraphSingleTermWeight: 1.0,
	SentenceTopicWeight:       0.5,
	SentenceIATEWeight:        1.0,
	SentenceEVWeight:          1.0,
	ParagraphTopicLimit:       0.2,
	ParagraphTokenLimit:       0.35,
	SentenceTopicLimit:        0.2,
	SentenceIATELimit:         0.35,
	SentenceEVLimit:           0.35,
	UseParagraphTokens:        true,
	UseParagraphTopics:        true,
	UseSentenceTokens:         true,
	UseSentenceTopics:         true,
}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Index.Root == "" {
		cfg.Index.Root = "/usr/local/var/lexalign/data/indices"
	}
	if cfg.Index.Mode == "" {
		cfg.Index.Mode = index.SingleIndex.String()
	}
	if len(cfg.Index.Languages) == 0 {
		cfg.Index.Languages = append([]string(nil), index.DefaultLanguages...)
	}
	if cfg.Index.MaxSegments == 0 {
		cfg.Index.MaxSegments = index.DefaultMaxSegments
	}
	if cfg.Index.FlushEvery == 0 {
		cfg.Index.FlushEvery = index.DefaultFlushEvery
	}
	if cfg.Index.SearcherCacheSize == 0 {
		cfg.Index.SearcherCacheSize = index.DefaultSearcherCacheSize
	}

	if cfg.Indexer.Workers == 0 {
		cfg.Indexer.Workers = indexer.DefaultWorkers
	}
	if cfg.Indexer.CommitEvery == 0 {
		cfg.Indexer.CommitEvery = indexer.DefaultCommitEvery
	}
	if cfg.Indexer.OptimizeEvery == 0 {
		cfg.Indexer.OptimizeEvery = indexer.DefaultOptimizeEvery
	}
	if cfg.Indexer.SourceExtensions == nil {
		cfg.Indexer.SourceExtensions = append([]string(nil), indexer.DefaultExtensions...)
	}

	if cfg.Vocabulary.DatabasePath == "" {
		cfg.Vocabulary.DatabasePath = "/usr/local/var/lexalign/data/db/lexalign.db"
	}
	if cfg.Vocabulary.CacheSize == 0 {
		cfg.Vocabulary.CacheSize = vocabulary.DefaultCacheSize
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Search.DefaultPageSize == 0 {
		cfg.Search.DefaultPageSize = models.DefaultPageSize
	}
	if cfg.Search.MaxPageSize == 0 {
		cfg.Search.MaxPageSize = models.MaxPageSize
	}
	if !cfg.Search.Parameters.IsSet() {
		cfg.Search.Parameters = DefaultParameters
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
