// Package metrics records build and server observations. Components hold a
// Recorder and default to NoopRecorder, so metrics stay optional.
package metrics

import "time"

// ResultLabel enumerates page render outcomes.
type ResultLabel string

const (
	ResultSuccess ResultLabel = "success"
	ResultPartial ResultLabel = "partial"
	ResultFailed  ResultLabel = "failed"
)

// Recorder defines observability hooks for builds and the dev server.
type Recorder interface {
	ObserveStageDuration(stage string, d time.Duration)
	IncRequest(status int)
	IncPageResult(mode string, result ResultLabel)
	IncBundleWarning(action string)
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, time.Duration) {}
func (NoopRecorder) IncRequest(int)                             {}
func (NoopRecorder) IncPageResult(string, ResultLabel)          {}
func (NoopRecorder) IncBundleWarning(string)                    {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
