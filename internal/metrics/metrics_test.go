package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetReaders("FTS_Document_all", 1, 2)
	m.RecordCommit("x")
	m.RecordMerge("x", "full")
	m.RecordIndexed("Sentence", 3)
	m.RecordIndexFailure()
	m.ObserveSearch("text", time.Now(), nil)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()
	m.RecordCommit("FTS_Paragraph_sl")
	m.RecordCommit("FTS_Paragraph_sl")
	m.RecordIndexed("Sentence", 4)
	m.RecordIndexed("Sentence", 0)
	m.ObserveSearch("text", time.Now(), errors.New("boom"))
	m.SetReaders("FTS_Paragraph_sl", 3, 1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommitsTotal.WithLabelValues("FTS_Paragraph_sl")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.IndexedEntitiesTotal.WithLabelValues("Sentence")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchesTotal.WithLabelValues("text", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OpenReaders.WithLabelValues("FTS_Paragraph_sl")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetiredReaders.WithLabelValues("FTS_Paragraph_sl")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.RecordIndexFailure()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "lexalign_index_failures_total 1"))
}

func TestInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.RecordIndexFailure()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.IndexFailuresTotal))
}
