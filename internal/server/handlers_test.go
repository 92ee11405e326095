package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/config"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/indexer"
	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/search"
	"github.com/hyperjump/lexalign/internal/storage"
)

type mockWatchService struct {
	dirs []string
}

func (m *mockWatchService) Directories() []string {
	return append([]string(nil), m.dirs...)
}

func (m *mockWatchService) AddDirectory(path string, _ bool) error {
	for _, d := range m.dirs {
		if d == path {
			return nil
		}
	}
	m.dirs = append(m.dirs, path)
	return nil
}

func (m *mockWatchService) RemoveDirectory(path string) error {
	for i, d := range m.dirs {
		if d == path {
			m.dirs = append(m.dirs[:i], m.dirs[i+1:]...)
			return nil
		}
	}
	return nil
}

type fixture struct {
	srv     *Server
	handler http.Handler
	manager *index.Manager
	indexer *indexer.Indexer
	metrics *metrics.Metrics
	cfg     *config.Config
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Index.Root = filepath.Join(dir, "indices")
	cfg.Vocabulary.DatabasePath = filepath.Join(dir, "lexalign.db")

	mt := metrics.New()
	m, err := index.NewManager(cfg.Index.Root, index.SingleIndex, index.WithMetrics(mt))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = m.Close() })
	store, err := storage.NewSQLiteStorage(cfg.Vocabulary.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ix, err := indexer.New(m, store, indexer.WithMetrics(mt))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(ix.Close)

	engine := search.NewEngine(m, search.WithMetrics(mt), search.WithParameters(cfg.Search.Parameters))
	opts = append([]Option{WithMetrics(mt)}, opts...)
	srv := NewServer(engine, store, cfg, opts...)
	return &fixture{srv: srv, handler: srv.Handler(), manager: m, indexer: ix, metrics: mt, cfg: cfg}
}

func (f *fixture) add(t *testing.T, doc *models.Document) *models.Document {
	t.Helper()
	if _, err := f.indexer.IndexDocument(context.Background(), doc, uuid.New()); err != nil {
		t.Fatal(err)
	}
	if err := f.manager.Commit(context.Background()); err != nil {
		t.Fatal(err)
	}
	return doc
}

func (f *fixture) do(t *testing.T, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, r)
	return w
}

func treaty(language, title string, eurovoc string, texts ...string) *models.Document {
	var paragraphs []*models.Paragraph
	for _, text := range texts {
		var tokens []*models.Token
		for _, word := range strings.Fields(text) {
			tokens = append(tokens, &models.Token{Form: word, EuroVocEntities: []string{eurovoc}})
		}
		paragraphs = append(paragraphs, &models.Paragraph{Sentences: []*models.Sentence{{Text: text, Tokens: tokens}}})
	}
	return &models.Document{
		Language: language,
		Text:     title,
		Sections: []*models.Section{{Type: models.SectionArticleBody, Paragraphs: paragraphs}},
	}
}

type resultBody struct {
	TotalResults int    `json:"total_results"`
	View         string `json:"view"`
	Searched     string `json:"searched"`
	Hits         []struct {
		Score  float64                `json:"score"`
		Entity map[string]interface{} `json:"entity"`
	} `json:"hits"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHandleHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out map[string]string
	decode(t, w, &out)
	if out["status"] != "ok" {
		t.Errorf("body: %v", out)
	}
}

func TestHandleTextSearch(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "Zakon o prometu", "EV1", "alpha bravo charlie", "delta zebra echo"))

	w := f.do(t, http.MethodPost, "/api/v1/search/text", map[string]interface{}{
		"language":    "SL",
		"query":       "zebra",
		"granularity": "paragraph",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res resultBody
	decode(t, w, &res)
	if res.TotalResults != 1 || len(res.Hits) != 1 {
		t.Fatalf("expected one hit, got %+v", res)
	}
	if res.View != "Paragraph" {
		t.Errorf("view: got %s", res.View)
	}
	if text, _ := res.Hits[0].Entity["text"].(string); !strings.Contains(text, "zebra") {
		t.Errorf("hit text: got %q", text)
	}
}

func TestHandleTextSearch_DocumentView(t *testing.T) {
	f := newFixture(t)
	doc := f.add(t, treaty("sl", "Zakon o prometu", "EV1", "alpha bravo charlie", "delta zebra echo"))

	w := f.do(t, http.MethodPost, "/api/v1/search/text", map[string]interface{}{
		"language":    "sl",
		"query":       "zebra",
		"granularity": "Sentence",
		"view":        "Document",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res resultBody
	decode(t, w, &res)
	if len(res.Hits) != 1 {
		t.Fatalf("hits: got %d", len(res.Hits))
	}
	if res.Searched != "Sentence" || res.View != "Document" {
		t.Errorf("searched/view: got %s/%s", res.Searched, res.View)
	}
	if id := res.Hits[0].Entity["internal_id"]; id != doc.InternalID.String() {
		t.Errorf("document id: got %v, want %s", id, doc.InternalID)
	}
}

func TestHandleTextSearch_BadRequest(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		body interface{}
	}{
		{"missing language", map[string]interface{}{"query": "zebra", "granularity": "Paragraph"}},
		{"unknown granularity", map[string]interface{}{"language": "sl", "query": "zebra", "granularity": "chapter"}},
		{"granularity set", map[string]interface{}{"language": "sl", "query": "zebra", "granularity": "Paragraph|Sentence"}},
		{"not json", "{"},
		{"unsupported language", map[string]interface{}{"language": "xx", "query": "zebra", "granularity": "Paragraph"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/v1/search/text", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestHandleParametrizedSearch(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "prvi", "EVC", "prvi uredba o carinah"))
	f.add(t, treaty("sl", "drugi", "EVC", "drugi uredba o carinah"))
	f.add(t, treaty("sl", "tretji", "EVX", "nepovezano besedilo brez oznak"))

	body := map[string]interface{}{
		"language":         "sl",
		"search_in":        "Paragraph",
		"paragraph_tokens": []string{"EVC"},
		"parameters": map[string]interface{}{
			"use_paragraph_tokens":         true,
			"paragraph_token_limit":        1,
			"paragraph_single_term_weight": 1,
		},
	}
	w := f.do(t, http.MethodPost, "/api/v1/search/parametrized", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res resultBody
	decode(t, w, &res)
	if res.TotalResults != 2 {
		t.Errorf("total: got %d, want 2", res.TotalResults)
	}
	if res.View != "Paragraph" {
		t.Errorf("view should default to the finest searched level, got %s", res.View)
	}
}

func TestHandleParametrizedSearch_InvalidParameters(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/search/parametrized", map[string]interface{}{
		"language":  "sl",
		"search_in": "Paragraph",
		"parameters": map[string]interface{}{
			"use_paragraph_tokens":  true,
			"paragraph_token_limit": 2.5,
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleEnsembleSearch(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "prvi", "EVC", "prvi uredba o carinah"))
	f.add(t, treaty("sl", "drugi", "EVC", "drugi uredba o carinah"))

	params := models.Parameters{UseParagraphTokens: true, ParagraphTokenLimit: 1, ParagraphSingleTermWeight: 1}
	f.cfg.Search.Ensemble = []models.EnsembleMember{
		{Parameters: params, Scoring: models.ScoringConstant},
		{Parameters: params, Scoring: models.ScoringLinear},
	}
	w := f.do(t, http.MethodPost, "/api/v1/search/ensemble", map[string]interface{}{
		"language":         "sl",
		"search_in":        "Paragraph",
		"paragraph_tokens": []string{"EVC"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var res resultBody
	decode(t, w, &res)
	if res.TotalResults != 2 || len(res.Hits) != 2 {
		t.Fatalf("expected two hits, got %+v", res)
	}
	if res.Hits[0].Score > res.Hits[1].Score {
		t.Errorf("hits should be in ascending score order: %v, %v", res.Hits[0].Score, res.Hits[1].Score)
	}
}

func TestHandleEnsembleSearch_NoMembers(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/search/ensemble", map[string]interface{}{
		"language":  "sl",
		"search_in": "Paragraph",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleGetDocument(t *testing.T) {
	f := newFixture(t)
	doc := f.add(t, treaty("sl", "Zakon o prometu", "EV1", "alpha bravo charlie", "delta zebra echo"))
	path := "/api/v1/documents/sl/" + codec.FormatID(doc.InternalID)

	w := f.do(t, http.MethodGet, path, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var shallow models.Document
	decode(t, w, &shallow)
	if shallow.InternalID != doc.InternalID || shallow.Text != "Zakon o prometu" {
		t.Errorf("unexpected document: %+v", shallow)
	}
	if len(shallow.Sections) != 0 {
		t.Errorf("sections should not be loaded without full, got %d", len(shallow.Sections))
	}

	w = f.do(t, http.MethodGet, path+"?full=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("full status: got %d", w.Code)
	}
	var full models.Document
	decode(t, w, &full)
	if len(full.Sections) != 1 || len(full.Sections[0].Paragraphs) != 2 {
		t.Fatalf("full document shape: %+v", full.Sections)
	}
	if len(full.Sections[0].Paragraphs[1].Sentences) != 1 {
		t.Errorf("sentences should be loaded")
	}
}

func TestHandleGetDocument_Errors(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "Zakon", "EV1", "alpha bravo"))

	if w := f.do(t, http.MethodGet, "/api/v1/documents/sl/not-an-id", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/documents/sl/"+codec.FormatID(uuid.New()), nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d", w.Code)
	}
}

func TestHandleFindTranslation_Errors(t *testing.T) {
	f := newFixture(t)
	doc := f.add(t, treaty("sl", "Zakon", "EV1", "alpha bravo"))
	base := "/api/v1/entities/Paragraph/sl/"

	if w := f.do(t, http.MethodGet, base+codec.FormatID(doc.Sections[0].Paragraphs[0].InternalID)+"/translation", nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing target: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, base+codec.FormatID(uuid.New())+"/translation?target=hr", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown entity: got %d", w.Code)
	}
	if w := f.do(t, http.MethodGet, "/api/v1/entities/Chapter/sl/"+codec.FormatID(uuid.New())+"/translation?target=hr", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad granularity: got %d", w.Code)
	}
}

func TestHandleRandomEntity_BadGranularity(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodGet, "/api/v1/random/sl/chapter", nil); w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "Zakon", "EV1", "alpha bravo", "charlie delta"))

	w := f.do(t, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out struct {
		Mode           string            `json:"mode"`
		Documents      uint64            `json:"documents"`
		Terms          int64             `json:"terms"`
		DiskUsageBytes int64             `json:"disk_usage_bytes"`
		Cells          []index.CellStats `json:"cells"`
	}
	decode(t, w, &out)
	if out.Mode != "single" {
		t.Errorf("mode: got %s", out.Mode)
	}
	if out.Documents != 1 {
		t.Errorf("documents: got %d, want 1", out.Documents)
	}
	if len(out.Cells) != len(models.Granularities) {
		t.Errorf("cells: got %d", len(out.Cells))
	}
	if out.DiskUsageBytes <= 0 {
		t.Errorf("disk usage should be positive, got %d", out.DiskUsageBytes)
	}
}

func TestHandleCommitAndOptimize(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "Zakon", "EV1", "alpha bravo"))

	if w := f.do(t, http.MethodPost, "/api/v1/index/commit", nil); w.Code != http.StatusOK {
		t.Errorf("commit: got %d, body: %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/v1/index/optimize", nil); w.Code != http.StatusOK {
		t.Errorf("optimize with defaults: got %d, body: %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/v1/index/optimize", map[string]int{"max_segments": 2}); w.Code != http.StatusOK {
		t.Errorf("optimize: got %d, body: %s", w.Code, w.Body.String())
	}
	if w := f.do(t, http.MethodPost, "/api/v1/index/optimize", map[string]int{"max_segments": -1}); w.Code != http.StatusBadRequest {
		t.Errorf("negative max_segments: got %d", w.Code)
	}
}

func TestHandleMetrics(t *testing.T) {
	f := newFixture(t)
	f.add(t, treaty("sl", "Zakon", "EV1", "alpha bravo"))
	f.do(t, http.MethodPost, "/api/v1/search/text", map[string]interface{}{"language": "sl", "query": "alpha", "granularity": "Paragraph"})

	w := f.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "lexalign_") {
		t.Errorf("metrics output lacks lexalign series: %s", w.Body.String())
	}
}

func TestPage(t *testing.T) {
	f := newFixture(t)
	f.cfg.Search.DefaultPageSize = 20
	f.cfg.Search.MaxPageSize = 50
	tests := []struct {
		in   models.Page
		want int
	}{
		{models.Page{}, 20},
		{models.Page{Size: 5}, 5},
		{models.Page{Size: 500}, 50},
	}
	for _, tt := range tests {
		if got := f.srv.page(tt.in); got.Size != tt.want {
			t.Errorf("page(%+v).Size = %d, want %d", tt.in, got.Size, tt.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{index.ErrUnsupportedLanguage, http.StatusBadRequest},
		{search.ErrNoMembers, http.StatusBadRequest},
		{search.ErrNoSuitableEntity, http.StatusNotFound},
		{index.ErrReadOnly, http.StatusConflict},
		{search.ErrTooManyResults, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHandleWatchDirectoriesList(t *testing.T) {
	mock := &mockWatchService{dirs: []string{"/tmp/corpus"}}
	f := newFixture(t, WithWatch(mock, ""))

	w := f.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out struct {
		Directories []string `json:"directories"`
	}
	decode(t, w, &out)
	if len(out.Directories) != 1 || out.Directories[0] != "/tmp/corpus" {
		t.Errorf("directories: got %v", out.Directories)
	}
}

func TestHandleWatchDirectoriesList_NotEnabled(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/v1/watch/directories", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("status: got %d, want 501", w.Code)
	}
}

func TestHandleWatchDirectoriesAdd(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	mock := &mockWatchService{}
	f := newFixture(t, WithWatch(mock, configPath))

	w := f.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": dir})
	if w.Code != http.StatusCreated {
		t.Errorf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	if len(mock.Directories()) != 1 {
		t.Errorf("expected 1 directory, got %v", mock.Directories())
	}
	saved, err := config.Load(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved.Watch.Directories) != 1 || saved.Watch.Directories[0] != dir {
		t.Errorf("persisted directories: got %v", saved.Watch.Directories)
	}
}

func TestHandleWatchDirectoriesAdd_InvalidPath(t *testing.T) {
	mock := &mockWatchService{}
	f := newFixture(t, WithWatch(mock, ""))

	w := f.do(t, http.MethodPost, "/api/v1/watch/directories", map[string]string{"path": filepath.Join(t.TempDir(), "nonexistent")})
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleWatchDirectoriesRemove(t *testing.T) {
	dir := t.TempDir()
	mock := &mockWatchService{dirs: []string{dir}}
	f := newFixture(t, WithWatch(mock, ""))

	w := f.do(t, http.MethodDelete, "/api/v1/watch/directories?path="+dir, nil)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	if len(mock.Directories()) != 0 {
		t.Errorf("expected 0 directories, got %v", mock.Directories())
	}
}
