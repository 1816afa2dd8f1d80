package prerender

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
	"github.com/conneroisu/canopy/internal/testutils"
)

// fakeEngine fetches pages over HTTP and marks them as if a browser had run
// their scripts.
type fakeEngine struct {
	fail    string
	partial string

	mu      sync.Mutex
	fetched map[string]string
	closed  atomic.Bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{fetched: make(map[string]string)}
}

func (f *fakeEngine) Serialize(ctx context.Context, pageURL string) (Result, error) {
	if f.fail != "" && strings.HasSuffix(pageURL, f.fail) {
		return Result{}, errors.New("navigation failed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	f.mu.Lock()
	f.fetched[pageURL] = string(body)
	f.mu.Unlock()

	outcome := OutcomeOK
	if f.partial != "" && strings.HasSuffix(pageURL, f.partial) {
		outcome = OutcomePartial
	}
	html := strings.Replace(string(body), "</body>", "<main>hydrated</main></body>", 1)
	return Result{HTML: html, Outcome: outcome}, nil
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func (f *fakeEngine) launcher() Launcher {
	return func(context.Context) (Engine, error) { return f, nil }
}

type customRenderer struct{}

func (customRenderer) Prerender() bool { return true }

func (customRenderer) RenderPage(_ context.Context, page compilation.Page) (string, error) {
	return "<p>custom " + page.Route + "</p>", nil
}

func setup(t *testing.T, files map[string]string, prerender bool, renderer plugins.RendererProvider) (*compilation.Compilation, *plugins.Registry, *pipeline.Pipeline) {
	t.Helper()
	comp := testutils.NewCompilation(t, files, func(b *config.ConfigBuilder) {
		b.WithDevServer("127.0.0.1", 0).WithPrerender(prerender, time.Second)
	})
	registry, err := plugins.NewRegistry(resources.Defaults{Mode: resources.ModeBuild, Renderer: renderer}.Plugins(), nil, nil)
	require.NoError(t, err)
	instances, err := registry.Resources(context.Background(), comp)
	require.NoError(t, err)
	return comp, registry, pipeline.New(instances, nil)
}

func TestRunIsolatesFailingPages(t *testing.T) {
	comp, registry, pipe := setup(t, map[string]string{
		"src/pages/index.html":  "<h1>Home</h1>",
		"src/pages/about.html":  "<h1>About</h1>",
		"src/pages/broken.html": "<h1>Broken</h1>",
		"src/pages/slow.html":   "<h1>Slow</h1>",
	}, true, nil)
	stale := filepath.Join(comp.Context.OutputDir, "broken", "index.html")
	testutils.WriteFile(t, stale, "stale")

	engine := newFakeEngine()
	engine.fail = "/broken/"
	engine.partial = "/slow/"
	recorder := testutils.NewRecorder()

	o := NewOrchestrator(comp, registry, pipe, WithLauncher(engine.launcher()), WithRecorder(recorder))
	require.True(t, o.ShouldPrerender(comp.Graph))

	results, err := o.Run(context.Background(), comp.Graph)
	require.NoError(t, err)
	require.Len(t, results, 4)

	for _, r := range results {
		if r.Route == "/broken/" {
			require.Error(t, r.Err)
			assert.True(t, canopyerrors.HasErrorCode(r.Err, canopyerrors.ErrCodePrerenderPage))
			continue
		}
		require.NoError(t, r.Err, r.Route)
		data, err := os.ReadFile(r.OutputFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "<main>hydrated</main>")
	}

	data, err := os.ReadFile(stale)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))

	assert.Equal(t, 2, recorder.PageResult("prerender", metrics.ResultSuccess))
	assert.Equal(t, 1, recorder.PageResult("prerender", metrics.ResultPartial))
	assert.Equal(t, 1, recorder.PageResult("prerender", metrics.ResultFailed))
	assert.True(t, engine.closed.Load())
	assert.Equal(t, StateClosed, o.State())
}

func TestRunMaterializesServerRenderedPages(t *testing.T) {
	comp, registry, pipe := setup(t, map[string]string{
		"src/pages/index.html":   "<h1>Home</h1>",
		"src/pages/dashboard.js": "export default () => '<p>dash</p>'",
	}, false, nil)
	for i := range comp.Graph {
		if comp.Graph[i].IsSSR {
			comp.Graph[i].Data["prerender"] = true
		}
	}

	engine := newFakeEngine()
	o := NewOrchestrator(comp, registry, pipe, WithLauncher(engine.launcher()))

	pages := o.Select(comp.Graph)
	require.Len(t, pages, 1)
	assert.Equal(t, "/dashboard/", pages[0].Route)

	results, err := o.Run(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	scratch := filepath.Join(comp.Context.ScratchDir, ScratchSubdir, "dashboard", "index.html")
	assert.FileExists(t, scratch)

	require.Len(t, engine.fetched, 1)
	for _, body := range engine.fetched {
		assert.Contains(t, body, `src="/pages/dashboard.js"`)
	}

	out := testutils.ReadOutput(t, comp, "dashboard/index.html")
	assert.Contains(t, out, "<main>hydrated</main>")

	// The shared graph still describes the page as server rendered.
	page, ok := comp.PageByRoute("/dashboard/")
	require.True(t, ok)
	assert.True(t, page.IsSSR)
}

func TestRunFailsWhenBrowserCannotLaunch(t *testing.T) {
	comp, registry, pipe := setup(t, map[string]string{
		"src/pages/index.html": "<h1>Home</h1>",
	}, true, nil)

	launcher := func(context.Context) (Engine, error) {
		return nil, errors.New("executable not found")
	}
	o := NewOrchestrator(comp, registry, pipe, WithLauncher(launcher))

	results, err := o.Run(context.Background(), comp.Graph)
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeBrowserLaunch))

	var ce *canopyerrors.CanopyError
	require.ErrorAs(t, err, &ce)
	assert.NotEmpty(t, ce.Suggestion)
	assert.NoFileExists(t, filepath.Join(comp.Context.OutputDir, "index.html"))
	assert.Equal(t, StateClosed, o.State())
}

func TestRunUsesCustomRendererInsteadOfBrowser(t *testing.T) {
	renderer := customRenderer{}
	comp, registry, pipe := setup(t, map[string]string{
		"src/pages/feed.js": "export default () => ''",
	}, false, renderer)

	launcher := func(context.Context) (Engine, error) {
		t.Error("browser must not launch when a custom renderer prerenders")
		return nil, errors.New("unexpected launch")
	}
	o := NewOrchestrator(comp, registry, pipe, WithLauncher(launcher), WithRenderer(renderer))
	require.True(t, o.ShouldPrerender(comp.Graph))

	results, err := o.Run(context.Background(), comp.Graph)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.Contains(t, testutils.ReadOutput(t, comp, "feed/index.html"), "<p>custom /feed/</p>")
}

func TestShouldPrerender(t *testing.T) {
	comp, registry, pipe := setup(t, map[string]string{
		"src/pages/index.html": "<h1>Home</h1>",
		"src/pages/live.js":    "export default () => ''",
	}, false, nil)
	o := NewOrchestrator(comp, registry, pipe)

	assert.False(t, o.ShouldPrerender(comp.Graph))
	assert.Empty(t, o.Select(comp.Graph))

	static := compilation.Page{Route: "/static/", Data: map[string]any{"prerender": true}}
	assert.False(t, o.Needs(static), "only server rendered pages opt in through data")

	ssr := compilation.Page{Route: "/live/", IsSSR: true, Data: map[string]any{"prerender": "true"}}
	assert.True(t, o.Needs(ssr))
}

func TestRunWithoutPages(t *testing.T) {
	comp, registry, pipe := setup(t, nil, true, nil)
	o := NewOrchestrator(comp, registry, pipe, WithLauncher(func(context.Context) (Engine, error) {
		t.Error("no pages, no browser")
		return nil, errors.New("unexpected")
	}))
	results, err := o.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, StateIdle, o.State())
}
