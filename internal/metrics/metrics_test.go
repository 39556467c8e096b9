package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Endpoint(t *testing.T) {
	m := New("pbac")

	m.RecordDecision("allow")
	m.RecordDecision("deny")
	m.RecordDecision("deny")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordError("store")
	m.ObserveEvaluation(0.0001)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	body := string(raw)

	assert.Contains(t, body, `pbac_decisions_total{decision="allow"} 1`)
	assert.Contains(t, body, `pbac_decisions_total{decision="deny"} 2`)
	assert.Contains(t, body, `pbac_cache_hits_total 1`)
	assert.Contains(t, body, `pbac_cache_misses_total 1`)
	assert.Contains(t, body, `pbac_errors_total{type="store"} 1`)
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision("allow")
	m.RecordCacheHit()
	m.RecordCacheMiss()
	m.RecordError("x")
	m.ObserveEvaluation(0.1)
}
