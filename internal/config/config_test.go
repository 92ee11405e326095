package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
  request_timeout: 15s
index:
  root: "/var/lib/lexalign/index"
  mode: per_language
  languages: [sl, hr]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Server.RequestTimeout != 15*time.Second {
		t.Errorf("request_timeout = %v, want 15s", cfg.Server.RequestTimeout)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("addr = %s", cfg.Server.Addr())
	}
	if cfg.IndexMode() != index.IndexPerLanguage {
		t.Errorf("mode = %v, want per_language", cfg.IndexMode())
	}
	if len(cfg.Index.Languages) != 2 || cfg.Index.Languages[1] != "hr" {
		t.Errorf("languages = %v", cfg.Index.Languages)
	}
	if cfg.Vocabulary.DatabasePath == "" {
		t.Error("database_path should be set")
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_debugTrue(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
}

func TestLoad_expandPathDotSlashRelativeToConfigDir(t *testing.T) {
	path := writeConfig(t, `
index:
  root: "./data/indices"
vocabulary:
  database_path: "./data/db/lexalign.db"
watch:
  directories: ["./corpus/drop"]
`)
	dir := filepath.Dir(path)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(dir, "data", "indices"); cfg.Index.Root != want {
		t.Errorf("index root = %s, want %s", cfg.Index.Root, want)
	}
	if want := filepath.Join(dir, "data", "db", "lexalign.db"); cfg.Vocabulary.DatabasePath != want {
		t.Errorf("database_path = %s, want %s", cfg.Vocabulary.DatabasePath, want)
	}
	if len(cfg.Watch.Directories) != 1 {
		t.Fatalf("watch directories: got %d", len(cfg.Watch.Directories))
	}
	if want := filepath.Join(dir, "corpus", "drop"); cfg.Watch.Directories[0] != want {
		t.Errorf("watch directory = %s, want %s", cfg.Watch.Directories[0], want)
	}
	if !cfg.Watch.RecursiveOrDefault() {
		t.Error("recursive should default to true")
	}
}

func TestExpandPath_home(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := expandPath("~/lexalign/index", "/etc/lexalign"); got != filepath.Join(home, "lexalign", "index") {
		t.Errorf("got %s", got)
	}
	if got := expandPath("", "/etc/lexalign"); got != "" {
		t.Errorf("empty path should stay empty, got %s", got)
	}
	if got := expandPath("/abs/path", "/etc/lexalign"); got != "/abs/path" {
		t.Errorf("absolute path changed: %s", got)
	}
}

func TestLoad_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"mode", "index:\n  mode: sharded\n", "index.mode"},
		{"page size", "search:\n  default_page_size: 50\n  max_page_size: 20\n", "default_page_size"},
		{"parameters", "search:\n  parameters:\n    use_sentence_tokens: true\n    sentence_ev_weight: 1\n    sentence_ev_limit: 1.5\n", "sentence_ev_limit"},
		{"ensemble scoring", "search:\n  ensemble:\n    - scoring: cubic\n", "ensemble[0]"},
		{"syntax", "index: [", "parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ensembleMembers(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
search:
  ensemble:
    - scoring: linear
      shift: 1
      use_sentence_tokens: true
      sentence_ev_weight: 0.8
      sentence_ev_limit: 0.3
    - scoring: score_relative
      use_paragraph_topics: true
      paragraph_topic_weight: 1
      paragraph_topic_limit: 0.5
`))
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Search.Ensemble) != 2 {
		t.Fatalf("ensemble members: got %d", len(cfg.Search.Ensemble))
	}
	first := cfg.Search.Ensemble[0]
	if first.Scoring != models.ScoringLinear || first.Shift != 1 || !first.UseSentenceTokens || first.SentenceEVWeight != 0.8 {
		t.Errorf("unexpected first member: %+v", first)
	}
	if cfg.Search.Ensemble[1].Scoring != models.ScoringScoreRelative || cfg.Search.Ensemble[1].ParagraphTopicLimit != 0.5 {
		t.Errorf("unexpected second member: %+v", cfg.Search.Ensemble[1])
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if cfg.Server.Host != "localhost" {
		t.Errorf("default host: got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port: got %d", cfg.Server.Port)
	}
	if cfg.Index.Mode != "single" {
		t.Errorf("default mode: got %s", cfg.Index.Mode)
	}
	if cfg.Index.MaxSegments != 1 {
		t.Errorf("default max_segments: got %d", cfg.Index.MaxSegments)
	}
	if len(cfg.Index.Languages) != 7 {
		t.Errorf("default languages: got %v", cfg.Index.Languages)
	}
	if cfg.Search.DefaultPageSize != 10 {
		t.Errorf("default page size: got %d", cfg.Search.DefaultPageSize)
	}
	if !cfg.Search.Parameters.IsSet() {
		t.Error("default search parameters should be usable")
	}
	if len(cfg.Indexer.SourceExtensions) != 1 || cfg.Indexer.SourceExtensions[0] != ".json" {
		t.Errorf("source extensions: got %v", cfg.Indexer.SourceExtensions)
	}
	if cfg.Watch.Recursive != nil {
		t.Error("recursive should stay unset without watch directories")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestApplyDefaults_keepsExplicitParameters(t *testing.T) {
	cfg := &Config{Search: SearchConfig{Parameters: models.Parameters{UseDocumentTopics: true, DocumentTopicLimit: 0.4}}}
	ApplyDefaults(cfg)
	if cfg.Search.Parameters.DocumentTopicLimit != 0.4 || cfg.Search.Parameters.UseSentenceTokens {
		t.Errorf("explicit parameters were replaced: %+v", cfg.Search.Parameters)
	}
}

func TestApplyDefaults_WatchRecursiveWhenDirectoriesSet(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Directories: []string{"/tmp/corpus"}}}
	ApplyDefaults(cfg)
	if cfg.Watch.Recursive == nil || !*cfg.Watch.Recursive {
		t.Error("recursive should default to true when directories are set")
	}
}

func TestWatchConfig_RecursiveOrDefault(t *testing.T) {
	t.Run("nil_returns_true", func(t *testing.T) {
		w := &WatchConfig{}
		if got := w.RecursiveOrDefault(); !got {
			t.Errorf("RecursiveOrDefault() = %v, want true", got)
		}
	})
	t.Run("false_returns_false", func(t *testing.T) {
		f := false
		w := &WatchConfig{Recursive: &f}
		if got := w.RecursiveOrDefault(); got {
			t.Errorf("RecursiveOrDefault() = %v, want false", got)
		}
	})
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	cfg := &Config{
		Server: ServerConfig{Host: "localhost", Port: 9090},
		Index:  IndexConfig{Root: "/tmp/index", Mode: "per_language"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Server.Port != 9090 {
		t.Errorf("loaded port: got %d", loaded.Server.Port)
	}
	if loaded.IndexMode() != index.IndexPerLanguage {
		t.Errorf("loaded mode: got %s", loaded.Index.Mode)
	}
}
