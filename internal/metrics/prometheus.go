package metrics

import (
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry       *prom.Registry
	stageDuration  *prom.HistogramVec
	requests       *prom.CounterVec
	pageResults    *prom.CounterVec
	bundleWarnings *prom.CounterVec
}

// NewPrometheusRecorder constructs the metrics and registers them on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		stageDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "canopy",
			Name:      "stage_duration_seconds",
			Help:      "Duration of individual build stages",
			Buckets:   prom.DefBuckets,
		}, []string{"stage"}),
		requests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "canopy",
			Name:      "http_requests_total",
			Help:      "Requests handled by the canopy server by status code",
		}, []string{"status"}),
		pageResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "canopy",
			Name:      "page_results_total",
			Help:      "Rendered pages by render mode and outcome",
		}, []string{"mode", "result"}),
		bundleWarnings: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "canopy",
			Name:      "bundle_warnings_total",
			Help:      "Bundler warnings by classification",
		}, []string{"action"}),
	}
	reg.MustRegister(pr.stageDuration, pr.requests, pr.pageResults, pr.bundleWarnings)
	return pr
}

func (p *PrometheusRecorder) ObserveStageDuration(stage string, d time.Duration) {
	if p == nil {
		return
	}
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRequest(status int) {
	if p == nil {
		return
	}
	p.requests.WithLabelValues(strconv.Itoa(status)).Inc()
}

func (p *PrometheusRecorder) IncPageResult(mode string, result ResultLabel) {
	if p == nil {
		return
	}
	p.pageResults.WithLabelValues(mode, string(result)).Inc()
}

func (p *PrometheusRecorder) IncBundleWarning(action string) {
	if p == nil {
		return
	}
	p.bundleWarnings.WithLabelValues(action).Inc()
}

// Handler serves the registered metrics.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
