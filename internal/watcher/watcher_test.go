package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestDebouncerCollapsesByPath(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	d.Add(ChangeEvent{Path: "/src/b.css", Type: EventTypeCreated})
	d.Add(ChangeEvent{Path: "/src/a.js", Type: EventTypeModified})
	d.Add(ChangeEvent{Path: "/src/b.css", Type: EventTypeModified})

	select {
	case events := <-d.Output():
		require.Len(t, events, 2)
		assert.Equal(t, "/src/a.js", events[0].Path)
		assert.Equal(t, "/src/b.css", events[1].Path)
		assert.Equal(t, EventTypeModified, events[1].Type)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer did not flush")
	}
}

func TestFilters(t *testing.T) {
	ignore := IgnoreDirs("/site/public", "/site/.canopy", "")

	tests := []struct {
		name   string
		filter FileFilter
		path   string
		want   bool
	}{
		{"git dir", NoGitFilter, "/site/.git/HEAD", false},
		{"gitignore file", NoGitFilter, "/site/.gitignore", true},
		{"node_modules", NoNodeModulesFilter, "/site/node_modules/lit/index.js", false},
		{"vim swap", NoEditorTempFilter, "/site/src/pages/index.html.swp", false},
		{"emacs lock", NoEditorTempFilter, "/site/src/.#index.html", false},
		{"backup", NoEditorTempFilter, "/site/src/index.html~", false},
		{"page", NoEditorTempFilter, "/site/src/pages/index.html", true},
		{"output", ignore, "/site/public/index.html", false},
		{"output root", ignore, "/site/public", false},
		{"scratch", ignore, "/site/.canopy/graph.json", false},
		{"similar prefix", ignore, "/site/public-assets/logo.png", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(tt.path))
		})
	}
}

func TestWatcherDeliversChanges(t *testing.T) {
	dir := t.TempDir()
	pages := filepath.Join(dir, "pages")
	ignored := filepath.Join(dir, "public")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	require.NoError(t, os.MkdirAll(ignored, 0o755))

	w, err := NewFileWatcher(20*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	w.AddFilter(IgnoreDirs(ignored))
	w.AddFilter(NoEditorTempFilter)

	var (
		mu   sync.Mutex
		seen []string
	)
	w.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			seen = append(seen, e.Path)
		}
		return nil
	})

	require.NoError(t, w.AddRecursive(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	target := filepath.Join(pages, "index.html")
	require.NoError(t, os.WriteFile(target, []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ignored, "index.html"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, p := range seen {
			if p == target {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for _, p := range seen {
		assert.NotContains(t, p, ignored)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	w, err := NewFileWatcher(0, nil)
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}
