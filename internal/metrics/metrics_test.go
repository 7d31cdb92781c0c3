package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New("pdf2html")

	m.Request(OutcomeOK)
	m.Request(OutcomeOK)
	m.Request(OutcomeBadRequest)
	m.Cache(CacheMiss)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues(OutcomeBadRequest)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cache.WithLabelValues(CacheMiss)))
}

func TestStartConversion(t *testing.T) {
	m := New("pdf2html")

	done := m.StartConversion("textlayer")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inProgress))
	done(errors.New("bad"))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inProgress))

	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("pdf2html")
	m.Request(OutcomeOK)
	m.FetchedBytes(2048)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `pdf2html_requests_total{outcome="ok"} 1`))
	assert.True(t, strings.Contains(string(body), "pdf2html_fetch_bytes_count 1"))
}
