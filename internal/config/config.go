// Package config provides configuration loading and structs for the lexalign server and CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Index      IndexConfig      `yaml:"index"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Server     ServerConfig     `yaml:"server"`
	Search     SearchConfig     `yaml:"search"`
	Watch      WatchConfig      `yaml:"watch"`
}

// IndexConfig holds the index lifecycle settings.
type IndexConfig struct {
	Root              string   `yaml:"root"`
	Mode              string   `yaml:"mode"`
	ReadOnly          bool     `yaml:"read_only"`
	Languages         []string `yaml:"languages"`
	MaxSegments       int      `yaml:"max_segments"`
	FlushEvery        int      `yaml:"flush_every"`
	SearcherCacheSize int      `yaml:"searcher_cache_size"`
}

// IndexerConfig holds corpus indexing settings.
type IndexerConfig struct {
	Workers          int      `yaml:"workers"`
	CommitEvery      int      `yaml:"commit_every"`
	OptimizeEvery    int      `yaml:"optimize_every"`
	SourceExtensions []string `yaml:"source_extensions"`
}

// VocabularyConfig holds the controlled-vocabulary store settings.
type VocabularyConfig struct {
	DatabasePath string `yaml:"database_path"`
	CacheSize    int    `yaml:"cache_size"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SearchConfig holds search defaults.
type SearchConfig struct {
	DefaultPageSize int                     `yaml:"default_page_size"`
	MaxPageSize     int                     `yaml:"max_page_size"`
	Parameters      models.Parameters       `yaml:"parameters"`
	Ensemble        []models.EnsembleMember `yaml:"ensemble"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Recursive   *bool         `yaml:"recursive"`
	Debounce    time.Duration `yaml:"debounce"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, expands paths, applies
// defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Index.Root = expandPath(cfg.Index.Root, configDir)
	cfg.Vocabulary.DatabasePath = expandPath(cfg.Vocabulary.DatabasePath, configDir)
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := index.ParseMode(c.Index.Mode); err != nil {
		return fmt.Errorf("index.mode: %w", err)
	}
	if c.Index.MaxSegments < 1 {
		return errors.New("index.max_segments must be at least 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size %d exceeds max_page_size %d", c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if err := c.Search.Parameters.Validate(); err != nil {
		return fmt.Errorf("search.parameters: %w", err)
	}
	for i, m := range c.Search.Ensemble {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("search.ensemble[%d]: %w", i, err)
		}
	}
	return nil
}

// IndexMode returns the parsed index mode. The config must be valid.
func (c *Config) IndexMode() index.Mode {
	mode, _ := index.ParseMode(c.Index.Mode)
	return mode
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
