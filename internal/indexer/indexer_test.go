package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/lexalign/internal/fileid"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/metrics"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/storage"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".json", []string{".json"}, true},
		{".JSON", []string{"json"}, true},
		{".txt", []string{".json"}, false},
		{"", []string{".json"}, false},
		{".conllu", []string{".json", ".conllu"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		assert.Equal(t, tt.want, got, "extensionAllowed(%q, %v)", tt.ext, tt.allowed)
	}
}

type fixture struct {
	ix      *Indexer
	manager *index.Manager
	store   storage.Storage
	metrics *metrics.Metrics
	corpus  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dir := t.TempDir()
	m, err := index.NewManager(filepath.Join(dir, "index"), index.SingleIndex)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "lexalign.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mt := metrics.New()
	opts = append([]Option{WithMetrics(mt), WithWorkers(2)}, opts...)
	ix, err := New(m, store, opts...)
	require.NoError(t, err)
	t.Cleanup(ix.Close)

	corpus := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpus, 0755))
	return &fixture{ix: ix, manager: m, store: store, metrics: mt, corpus: corpus}
}

// writeTree writes a document with one sentence per paragraph text.
func (f *fixture) writeTree(t *testing.T, name, language string, paragraphs ...string) string {
	t.Helper()
	var ps []string
	for _, text := range paragraphs {
		var tokens []string
		for _, word := range strings.Fields(text) {
			tokens = append(tokens, `{"form":"`+word+`","eurovoc":["EV-`+word+`"]}`)
		}
		ps = append(ps, `{"sentences":[{"text":"`+text+`","tokens":[`+strings.Join(tokens, ",")+`]}]}`)
	}
	body := `{"language":"` + language + `","text":"Zakon ` + name + `","sections":[{"type":"ArticleBody","paragraphs":[` + strings.Join(ps, ",") + `]}]}`
	path := filepath.Join(f.corpus, name+".json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func setModTime(t *testing.T, path string, ts time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(path, ts, ts))
}

func (f *fixture) count(t *testing.T, g models.Granularity) uint64 {
	t.Helper()
	key := index.Key{Language: index.AllLanguages, Granularity: g}
	r, err := f.manager.AcquireReader(key)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.manager.ReleaseReader(key, r)) }()
	n, err := r.DocCount()
	require.NoError(t, err)
	return n
}

func TestIndexDirectory_WritesEveryLevel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeTree(t, "prvi", "SL", "alpha bravo")
	f.writeTree(t, "drugi", "hr", "charlie delta", "echo foxtrot")
	require.NoError(t, os.WriteFile(filepath.Join(f.corpus, "notes.txt"), []byte("ignored"), 0644))

	stats, err := f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Indexed: 2}, stats)

	assert.Equal(t, uint64(2), f.count(t, models.GranularityDocument))
	assert.Equal(t, uint64(2), f.count(t, models.GranularitySection))
	assert.Equal(t, uint64(3), f.count(t, models.GranularityParagraph))
	assert.Equal(t, uint64(3), f.count(t, models.GranularitySentence))

	n, err := f.store.CountSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	src, err := f.store.GetSource(ctx, filepath.Join(f.corpus, "prvi.json"))
	require.NoError(t, err)
	assert.Equal(t, "sl", src.Language)
	assert.Equal(t, fileid.DocumentID(src.Path).String(), src.DocumentID)

	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.IndexedEntitiesTotal.WithLabelValues("Sentence")))
}

func TestIndexDirectory_SkipsUnchangedAndReplacesChanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	first := f.writeTree(t, "prvi", "sl", "alpha bravo")
	second := f.writeTree(t, "drugi", "sl", "charlie delta")
	jan := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	setModTime(t, first, jan)
	setModTime(t, second, jan)

	_, err := f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)

	stats, err := f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Skipped: 2}, stats)

	f.writeTree(t, "prvi", "sl", "golf hotel", "india juliet", "kilo lima")
	setModTime(t, first, jan.AddDate(0, 1, 0))

	stats, err = f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Indexed: 1, Skipped: 1}, stats)

	assert.Equal(t, uint64(2), f.count(t, models.GranularityDocument))
	assert.Equal(t, uint64(2), f.count(t, models.GranularitySection), "old section of the changed source is removed")
	assert.Equal(t, uint64(4), f.count(t, models.GranularityParagraph))
	assert.Equal(t, uint64(4), f.count(t, models.GranularitySentence))

	stats, err = f.ix.IndexDirectory(ctx, f.corpus, true)
	require.NoError(t, err)
	assert.Equal(t, Stats{Indexed: 2}, stats)
	assert.Equal(t, uint64(4), f.count(t, models.GranularitySentence))
}

func TestIndexDirectory_FailedSourceIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.writeTree(t, "prvi", "sl", "alpha bravo")
	require.NoError(t, os.WriteFile(filepath.Join(f.corpus, "broken.json"), []byte(`{"language":`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(f.corpus, "nolang.json"), []byte(`{"text":"x"}`), 0644))

	stats, err := f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)
	assert.Equal(t, Stats{Indexed: 1, Failed: 2}, stats)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.IndexFailuresTotal))
	assert.Equal(t, uint64(1), f.count(t, models.GranularityDocument))
}

func TestIndexDirectory_Errors(t *testing.T) {
	f := newFixture(t)

	_, err := f.ix.IndexDirectory(context.Background(), filepath.Join(f.corpus, "missing"), false)
	assert.Error(t, err)

	file := f.writeTree(t, "prvi", "sl", "alpha")
	_, err = f.ix.IndexDirectory(context.Background(), file, false)
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.ix.IndexDirectory(ctx, f.corpus, false)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIndexFile_DeterministicIDAndUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeTree(t, "prvi", "sl", "alpha bravo")
	setModTime(t, path, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	id, err := f.ix.IndexFile(ctx, path, false)
	require.NoError(t, err)
	assert.Equal(t, fileid.DocumentID(path), id)

	again, err := f.ix.IndexFile(ctx, path, false)
	assert.ErrorIs(t, err, ErrUnchanged)
	assert.Equal(t, id, again)
}

func TestRemoveSource(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	path := f.writeTree(t, "prvi", "sl", "alpha bravo", "charlie delta")
	keep := f.writeTree(t, "drugi", "sl", "echo foxtrot")
	_, err := f.ix.IndexDirectory(ctx, f.corpus, false)
	require.NoError(t, err)

	require.NoError(t, f.ix.RemoveSource(ctx, path))
	assert.Equal(t, uint64(1), f.count(t, models.GranularityDocument))
	assert.Equal(t, uint64(1), f.count(t, models.GranularityParagraph))
	assert.Equal(t, uint64(1), f.count(t, models.GranularitySentence))

	_, err = f.store.GetSource(ctx, path)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = f.store.GetSource(ctx, keep)
	assert.NoError(t, err)

	assert.NoError(t, f.ix.RemoveSource(ctx, path), "unknown sources are ignored")
}

type mapResolver map[string][]string

func (m mapResolver) Topics(_ context.Context, ids []string) ([]string, error) {
	var out []string
	for _, id := range ids {
		topics, ok := m[id]
		if !ok {
			return []string{}, nil
		}
		out = append(out, topics...)
	}
	return out, nil
}

func TestIndexDocument_ResolvesMissingDomains(t *testing.T) {
	f := newFixture(t, WithResolver(mapResolver{"IATE-7": {"law"}}))
	token := &models.Token{Form: "zakon", IATEEntities: []string{"IATE-7"}}
	doc := &models.Document{
		Language: " SL ",
		Sections: []*models.Section{{Paragraphs: []*models.Paragraph{{
			Sentences: []*models.Sentence{{Text: "zakon", Tokens: []*models.Token{token}}},
		}}}},
	}

	n, err := f.ix.IndexDocument(context.Background(), doc, fileid.DocumentID("/corpus/zakon.json"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "sl", doc.Language)
	assert.Equal(t, []string{"law"}, token.IATEDomains)
	assert.Equal(t, []string{"law"}, doc.DocumentSimilarity.Topics)
	assert.Equal(t, fileid.DocumentID("/corpus/zakon.json"), doc.InternalID)

	_, err = f.ix.IndexDocument(context.Background(), &models.Document{}, fileid.DocumentID("/corpus/empty.json"))
	assert.Error(t, err)
}

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument(strings.NewReader(`{
		"language": "PL",
		"text": "  Ustawa \n o  ruchu ",
		"sections": [{"type": "ArticleTitle", "paragraphs": [{"sentences": [{"text": "Art.\t1"}]}]}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "pl", doc.Language)
	assert.Equal(t, "Ustawa o ruchu", doc.Text)
	assert.Equal(t, models.SectionArticleTitle, doc.Sections[0].Type)
	assert.Equal(t, "Art. 1", doc.Sections[0].Paragraphs[0].Sentences[0].Text)

	_, err = DecodeDocument(strings.NewReader(`{"language":"pl","sections":[null]}`))
	assert.Error(t, err)
	_, err = DecodeDocument(strings.NewReader(`{"text":"no language"}`))
	assert.Error(t, err)
}

func TestReadDocument_FileNameDefault(t *testing.T) {
	f := newFixture(t)
	path := f.writeTree(t, "prvi", "sl", "alpha")
	doc, err := ReadDocument(path)
	require.NoError(t, err)
	assert.Equal(t, "prvi.json", doc.FileName)

	_, err = ReadDocument(filepath.Join(f.corpus, "missing.json"))
	assert.Error(t, err)
}
