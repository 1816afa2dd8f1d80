package testutils

import (
	"sync"
	"time"

	"github.com/conneroisu/canopy/internal/metrics"
)

// Recorder counts metric observations in memory.
type Recorder struct {
	mu          sync.Mutex
	Stages      map[string]int
	Requests    map[int]int
	PageResults map[string]int
	Warnings    map[string]int
}

var _ metrics.Recorder = (*Recorder)(nil)

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		Stages:      make(map[string]int),
		Requests:    make(map[int]int),
		PageResults: make(map[string]int),
		Warnings:    make(map[string]int),
	}
}

func (r *Recorder) ObserveStageDuration(stage string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Stages[stage]++
}

func (r *Recorder) IncRequest(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Requests[status]++
}

func (r *Recorder) IncPageResult(mode string, result metrics.ResultLabel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PageResults[mode+"/"+string(result)]++
}

func (r *Recorder) IncBundleWarning(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Warnings[action]++
}

// PageResult returns the count for mode and result.
func (r *Recorder) PageResult(mode string, result metrics.ResultLabel) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.PageResults[mode+"/"+string(result)]
}
