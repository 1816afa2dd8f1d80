package resources

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const optimizeInput = `<!DOCTYPE html><html><head>
<link rel="stylesheet" href="/styles/main.css">
<script type="module" src="/components/header.js"></script>
</head><body><p>hi</p><script>console.log("inline")</script></body></html>`

func reconciledCompilation(t *testing.T, mode string) *compilation.Compilation {
	t.Helper()
	cfg := config.Default()
	cfg.Optimization = mode
	comp := &compilation.Compilation{
		Config:    cfg,
		Context:   compilation.Context{UserWorkspace: "/site/src", ProjectDirectory: "/site"},
		Resources: compilation.NewResourceStore(),
	}

	script := filepath.FromSlash("/site/src/components/header.js")
	style := filepath.FromSlash("/site/src/styles/main.css")
	comp.Resources.Put(compilation.ResourceRecord{SourcePathURL: compilation.SourceURL(script), Type: compilation.ResourceScript})
	comp.Resources.Put(compilation.ResourceRecord{SourcePathURL: compilation.SourceURL(style), Type: compilation.ResourceStyle})
	comp.Resources.Reconcile(compilation.SourceURL(script).Path, "header.ab12cd34.js", "export const h=1;")
	comp.Resources.Reconcile(compilation.SourceURL(style).Path, "main.ef56ab78.css", "body{margin:0}")
	return comp
}

func optimize(t *testing.T, comp *compilation.Compilation, input string) string {
	t.Helper()
	out, err := NewHTMLProvider(comp, nil, false).Optimize(context.Background(), "index.html", input)
	require.NoError(t, err)
	return out
}

func TestOptimizeDefaultMode(t *testing.T) {
	out := optimize(t, reconciledCompilation(t, config.OptimizationDefault), optimizeInput)

	assert.Contains(t, out, `src="/header.ab12cd34.js"`)
	assert.Contains(t, out, `<link rel="stylesheet" href="/main.ef56ab78.css"/>`)
	assert.Contains(t, out, `<link rel="modulepreload" href="/header.ab12cd34.js"/>`)
	assert.Contains(t, out, `<link rel="preload" href="/main.ef56ab78.css" as="style"/>`)
	assert.Contains(t, out, `console.log("inline")`)
}

func TestOptimizeNoneMode(t *testing.T) {
	out := optimize(t, reconciledCompilation(t, config.OptimizationNone), optimizeInput)

	assert.Contains(t, out, `src="/header.ab12cd34.js"`)
	assert.NotContains(t, out, "modulepreload")
	assert.NotContains(t, out, `rel="preload"`)
}

func TestOptimizeInlineMode(t *testing.T) {
	out := optimize(t, reconciledCompilation(t, config.OptimizationInline), optimizeInput)

	assert.Contains(t, out, `<script type="module">export const h=1;</script>`)
	assert.Contains(t, out, `<style>body{margin:0}</style>`)
	assert.NotContains(t, out, "header.ab12cd34.js")
	assert.NotContains(t, out, `rel="stylesheet"`)
}

func TestOptimizeStaticMode(t *testing.T) {
	out := optimize(t, reconciledCompilation(t, config.OptimizationStatic), optimizeInput)

	assert.NotContains(t, out, "<script")
	assert.Contains(t, out, `href="/main.ef56ab78.css"`)
	assert.Contains(t, out, "<p>hi</p>")
}

func TestOptimizeTagOverride(t *testing.T) {
	input := `<html><head><script type="module" src="/components/header.js" data-canopy-opt="inline"></script></head><body></body></html>`
	out := optimize(t, reconciledCompilation(t, config.OptimizationStatic), input)

	assert.Contains(t, out, `<script type="module">export const h=1;</script>`)
	assert.NotContains(t, out, "data-canopy-opt")
}

func TestOptimizeLeavesUnreconciledAndRemote(t *testing.T) {
	input := `<html><head>
<script type="module" src="/components/unknown.js"></script>
<script src="https://cdn.example.com/lib.js"></script>
</head><body></body></html>`
	out := optimize(t, reconciledCompilation(t, config.OptimizationDefault), input)

	assert.Contains(t, out, `src="/components/unknown.js"`)
	assert.Contains(t, out, `src="https://cdn.example.com/lib.js"`)
	assert.NotContains(t, out, "modulepreload")
}

func TestOptimizeWithBasePath(t *testing.T) {
	comp := reconciledCompilation(t, config.OptimizationDefault)
	comp.Config.BasePath = "/docs"
	input := `<html><head><script type="module" src="/docs/components/header"></script></head><body></body></html>`

	out := optimize(t, comp, input)
	assert.Contains(t, out, `src="/docs/header.ab12cd34.js"`)
}

func TestLookupResource(t *testing.T) {
	comp := reconciledCompilation(t, config.OptimizationDefault)

	record, ok := LookupResource(comp, "/components/header.js?v=1")
	require.True(t, ok)
	assert.Equal(t, compilation.ResourceScript, record.Type)

	_, ok = LookupResource(comp, "//cdn.example.com/a.js")
	assert.False(t, ok)
	_, ok = LookupResource(comp, "")
	assert.False(t, ok)
}
