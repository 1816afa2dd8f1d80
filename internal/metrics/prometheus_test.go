package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveStageDuration("bundle", 150*time.Millisecond)
	pr.IncRequest(http.StatusNotModified)
	pr.IncPageResult("prerender", ResultPartial)
	pr.IncBundleWarning("suppressed")

	mfs, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	assert.True(t, names["canopy_stage_duration_seconds"])
	assert.True(t, names["canopy_http_requests_total"])
	assert.True(t, names["canopy_page_results_total"])
	assert.True(t, names["canopy_bundle_warnings_total"])
}

func TestPrometheusHandler(t *testing.T) {
	pr := NewPrometheusRecorder(nil)
	pr.IncRequest(200)

	rec := httptest.NewRecorder()
	pr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/__canopy/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(body), `canopy_http_requests_total{status="200"} 1`)
}

func TestNilRecorderSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncRequest(200)
		pr.ObserveStageDuration("x", time.Second)
	})

	assert.Equal(t, NoopRecorder{}, OrNoop(nil))
	assert.Equal(t, pr, OrNoop(pr))
}
