package watcher

import (
	"context"
	"fmt"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Repeated saves of the same file must not grow the pending set.
func TestDebouncerPendingBoundedByPaths(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.stop()

	for i := range 10000 {
		d.Add(ChangeEvent{
			Type: EventTypeModified,
			Path: fmt.Sprintf("/site/src/file-%d.js", i%8),
			Size: int64(i),
		})
	}

	d.mutex.Lock()
	pending := len(d.pending)
	d.mutex.Unlock()
	assert.Equal(t, 8, pending)
}

// A consumer that never reads must not block the debouncer.
func TestDebouncerDropsBatchesWhenConsumerIsBehind(t *testing.T) {
	d := NewDebouncer(time.Hour)
	defer d.stop()

	for i := range cap(d.output) + 5 {
		d.Add(ChangeEvent{Type: EventTypeModified, Path: fmt.Sprintf("/site/src/%d.css", i)})
		d.flush()
	}

	assert.Len(t, d.output, cap(d.output))

	d.mutex.Lock()
	assert.Empty(t, d.pending)
	d.mutex.Unlock()
}

func TestFlushWithoutPendingIsNoop(t *testing.T) {
	d := NewDebouncer(time.Hour)
	d.flush()
	assert.Empty(t, d.output)
}

func TestStopReleasesGoroutines(t *testing.T) {
	before := runtime.NumGoroutine()

	for range 20 {
		fw, err := NewFileWatcher(5*time.Millisecond, nil)
		require.NoError(t, err)
		require.NoError(t, fw.AddRecursive(t.TempDir()))
		ctx, cancel := context.WithCancel(t.Context())
		require.NoError(t, fw.Start(ctx))
		cancel()
		require.NoError(t, fw.Stop())
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before+2
	}, 2*time.Second, 20*time.Millisecond)
}

func BenchmarkDebouncerAdd(b *testing.B) {
	d := NewDebouncer(time.Hour)
	defer d.stop()

	b.ReportAllocs()
	for i := range b.N {
		d.Add(ChangeEvent{Type: EventTypeModified, Path: fmt.Sprintf("/site/src/%d.js", i%64)})
	}
}
