package services

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/canopy/internal/build"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/prerender"
	"github.com/conneroisu/canopy/internal/scaffolding"
	"github.com/conneroisu/canopy/internal/testutils"
)

// hydratingEngine stands in for the browser: it fetches the page and marks
// it as rendered.
type hydratingEngine struct{}

func (hydratingEngine) Serialize(ctx context.Context, pageURL string) (prerender.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return prerender.Result{}, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return prerender.Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return prerender.Result{}, err
	}
	html := strings.Replace(string(body), "</body>", "<main>hydrated</main></body>", 1)
	return prerender.Result{HTML: html, Outcome: prerender.OutcomeOK}, nil
}

func (hydratingEngine) Close() error { return nil }

func fakeLauncher() prerender.Launcher {
	return func(context.Context) (prerender.Engine, error) { return hydratingEngine{}, nil }
}

func newProject(t *testing.T, files map[string]string, configure func(*config.ConfigBuilder)) *config.Config {
	t.Helper()
	dir := testutils.CreateTempProject(t, files)
	return testutils.NewConfig(t, dir, func(b *config.ConfigBuilder) {
		b.WithDevServer("127.0.0.1", 0)
		if configure != nil {
			configure(b)
		}
	})
}

func outputFile(t *testing.T, cfg *config.Config, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.ProjectDirectory, cfg.OutputDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestBuildStaticSite(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html":    `<html><head><script type="module" src="/main.js"></script></head><body><h1>Home</h1></body></html>`,
		"src/pages/about.html":    `<html><body><h1>About</h1></body></html>`,
		"src/main.js":             `console.log("main")`,
		"src/assets/logo.svg":     `<svg></svg>`,
		"src/pages/dashboard.js":  `export default () => "<p>dash</p>"`,
		"src/pages/api/health.js": `export default () => new Response("ok")`,
	}, nil)
	recorder := testutils.NewRecorder()

	result, err := NewBuildService(cfg, WithBuildRecorder(recorder), WithLauncher(fakeLauncher())).
		Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.NotEmpty(t, result.BuildID)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 1, result.SSR)
	assert.Zero(t, result.Prerendered)
	assert.Empty(t, result.Failed)

	index := outputFile(t, cfg, "index.html")
	assert.Regexp(t, regexp.MustCompile(`src="/main\.[A-Z0-9]{8}\.js"`), index)
	assert.Contains(t, outputFile(t, cfg, "about/index.html"), "<h1>About</h1>")
	assert.Equal(t, `<svg></svg>`, outputFile(t, cfg, "assets/logo.svg"))

	// Server rendered pages are left to the runtime.
	assert.NoFileExists(t, filepath.Join(cfg.ProjectDirectory, cfg.OutputDir, "dashboard", "index.html"))

	manifest, err := build.ReadSiteManifest(filepath.Join(cfg.ProjectDirectory, cfg.OutputDir))
	require.NoError(t, err)
	assert.Equal(t, result.BuildID, manifest.BuildID)
	require.Len(t, manifest.SSR, 1)
	assert.Equal(t, "/dashboard/", manifest.SSR[0].Route)
	require.Len(t, manifest.APIs, 1)
	assert.Contains(t, manifest.Files, "index.html")

	for _, stage := range []string{StageScan, StageBundle, StageRender, StageCopy, StageManifest, StageAdapt} {
		assert.Equal(t, 1, recorder.Stages[stage], stage)
	}
}

func TestBuildStaticOptimizationShipsNoScripts(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html":      `<html><head><script type="module" src="/main.js"></script></head><body><h1>Home</h1></body></html>`,
		"src/pages/about.html":      `<html><body><h1>About</h1><script type="module" src="/components/counter.js"></script></body></html>`,
		"src/main.js":               `import "./components/counter.js"; console.log("main")`,
		"src/components/counter.js": `export const count = 1`,
	}, func(b *config.ConfigBuilder) {
		b.WithOptimization(config.OptimizationStatic)
	})

	result, err := NewBuildService(cfg).Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Pages)
	assert.Empty(t, result.Failed)

	for _, rel := range []string{"index.html", "about/index.html"} {
		page := outputFile(t, cfg, rel)
		assert.NotContains(t, page, "<script", rel)
	}
	assert.Contains(t, outputFile(t, cfg, "index.html"), "<h1>Home</h1>")

	var scripts []string
	outDir := filepath.Join(cfg.ProjectDirectory, cfg.OutputDir)
	require.NoError(t, filepath.WalkDir(outDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".js" {
			scripts = append(scripts, path)
		}
		return nil
	}))
	assert.Empty(t, scripts)
}

func TestBuildPrerendersEveryPage(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html":   `<html><body><h1>Home</h1></body></html>`,
		"src/pages/dashboard.js": `export default () => "<p>dash</p>"`,
	}, func(b *config.ConfigBuilder) {
		b.WithPrerender(true, time.Second)
	})

	result, err := NewBuildService(cfg, WithLauncher(fakeLauncher())).Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Prerendered)
	assert.Equal(t, 2, result.Pages)
	assert.Zero(t, result.SSR)
	assert.Empty(t, result.Failed)

	assert.Contains(t, outputFile(t, cfg, "index.html"), "<main>hydrated</main>")
	assert.Contains(t, outputFile(t, cfg, "dashboard/index.html"), "<main>hydrated</main>")
}

func TestBuildPrerendersServerPagesThatAskForIt(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html": "---\nssr: true\nprerender: true\n---\n<h1>Dyn</h1>",
		"src/pages/clock.js":   "export const prerender = true;\nexport default () => '<p>now</p>';\n",
		"src/pages/live.js":    "export default () => '<p>live</p>';\n",
	}, nil)

	result, err := NewBuildService(cfg, WithLauncher(fakeLauncher())).Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Prerendered)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, 1, result.SSR)
	assert.Empty(t, result.Failed)

	index := outputFile(t, cfg, "index.html")
	assert.Contains(t, index, "<h1>Dyn</h1>")
	assert.Contains(t, index, "<main>hydrated</main>")
	assert.NotContains(t, index, "/pages/index.html")
	assert.Contains(t, outputFile(t, cfg, "clock/index.html"), "<main>hydrated</main>")
	assert.NoFileExists(t, filepath.Join(cfg.ProjectDirectory, cfg.OutputDir, "live", "index.html"))
}

func TestBuildFailsWhenBrowserCannotLaunch(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html": `<h1>Home</h1>`,
	}, func(b *config.ConfigBuilder) {
		b.WithPrerender(true, time.Second)
	})
	launcher := func(context.Context) (prerender.Engine, error) {
		return nil, os.ErrNotExist
	}

	result, err := NewBuildService(cfg, WithLauncher(launcher)).Build(context.Background(), BuildOptions{})
	require.Error(t, err)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeBrowserLaunch))
	assert.False(t, result.Success)
}

func TestBuildCleanRemovesStaleOutput(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html": `<h1>Home</h1>`,
		"public/stale.txt":     "old",
	}, nil)
	stale := filepath.Join(cfg.ProjectDirectory, cfg.OutputDir, "stale.txt")

	_, err := NewBuildService(cfg).Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.FileExists(t, stale)

	_, err = NewBuildService(cfg).Build(context.Background(), BuildOptions{Clean: true})
	require.NoError(t, err)
	assert.NoFileExists(t, stale)
	assert.Contains(t, outputFile(t, cfg, "index.html"), "<h1>Home</h1>")
}

func TestBuildRefusesToCleanProjectDirectory(t *testing.T) {
	cfg := newProject(t, map[string]string{
		"src/pages/index.html": `<h1>Home</h1>`,
	}, func(b *config.ConfigBuilder) {
		b.WithOutputDir(".")
	})

	_, err := NewBuildService(cfg).Build(context.Background(), BuildOptions{Clean: true})
	require.Error(t, err)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeInvalidPath))
	assert.FileExists(t, filepath.Join(cfg.ProjectDirectory, "src", "pages", "index.html"))
}

func TestBuildScaffoldedSite(t *testing.T) {
	dir := t.TempDir()
	_, err := scaffolding.NewProjectGenerator().Generate(scaffolding.GenerateOptions{
		Dir: dir, ProjectName: "demo", Template: "site",
	})
	require.NoError(t, err)
	cfg := testutils.NewConfig(t, dir, nil)

	result, err := NewBuildService(cfg).Build(context.Background(), BuildOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Pages)
	assert.Empty(t, result.Failed)

	index := outputFile(t, cfg, "index.html")
	assert.Contains(t, index, "<h1>Demo</h1>")
	assert.NotContains(t, index, "title: Demo", "frontmatter is stripped")
	assert.Contains(t, outputFile(t, cfg, "404.html"), "Not found")
	assert.FileExists(t, filepath.Join(dir, cfg.OutputDir, "assets", "logo.svg"))
}

func TestWithin(t *testing.T) {
	root := filepath.FromSlash("/site")
	assert.True(t, within(root, root))
	assert.True(t, within(filepath.Join(root, "src"), root))
	assert.False(t, within(filepath.FromSlash("/site-other"), root))
	assert.False(t, within(filepath.FromSlash("/"), root))
}
