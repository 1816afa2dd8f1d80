package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
)

type fakeProvider struct{}

func (fakeProvider) ShouldServe(_ context.Context, u *url.URL, _ *plugins.Exchange) bool {
	return u.Path != "/missing.css"
}

func (fakeProvider) Serve(_ context.Context, u *url.URL, ex *plugins.Exchange) (plugins.Response, error) {
	switch u.Path {
	case "/boom.js":
		return plugins.Response{}, errors.New("boom")
	case "/panic.js":
		panic("provider panicked")
	case "/logo.png":
		return plugins.Response{Body: []byte{0x89, 'P', 'N', 'G'}, ContentType: "image/png", Binary: true}, nil
	case "/about/":
		return plugins.Response{Body: []byte("<html></html>"), ContentType: "text/html"}, nil
	case "/untyped.css":
		return plugins.Response{Body: []byte("a{}")}, nil
	}
	ex.Response.Set("X-Served-By", "fake")
	return plugins.Response{Body: []byte("body{color:red}"), ContentType: "text/css"}, nil
}

type startRecorder struct{ started bool }

func (s *startRecorder) Start(context.Context) error {
	s.started = true
	return nil
}

func newTestServer(opts ...Option) *Server {
	pipe := pipeline.New([]plugins.Instance{{Name: "fake", Provider: fakeProvider{}}}, nil)
	return newServer("127.0.0.1", 0, pipe, opts...)
}

func get(t *testing.T, h http.Handler, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCSSRequestGetsEtag(t *testing.T) {
	h := newTestServer().Handler()

	rec := get(t, h, "/style.css", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
	assert.Equal(t, pipeline.ETag([]byte("body{color:red}")), rec.Header().Get("Etag"))
	assert.Equal(t, "fake", rec.Header().Get("X-Served-By"))
	assert.Equal(t, "body{color:red}", rec.Body.String())
}

func TestMatchingEtagReturns304(t *testing.T) {
	h := newTestServer().Handler()
	first := get(t, h, "/style.css", nil)
	etag := first.Header().Get("Etag")
	require.NotEmpty(t, etag)

	for i := 0; i < 2; i++ {
		rec := get(t, h, "/style.css", http.Header{"If-None-Match": {etag}})
		assert.Equal(t, http.StatusNotModified, rec.Code)
		assert.Empty(t, rec.Body.String())
		assert.Equal(t, etag, rec.Header().Get("Etag"))
	}

	rec := get(t, h, "/style.css", http.Header{"If-None-Match": {"00000000"}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNoEtagWithoutExtensionOrForBinary(t *testing.T) {
	h := newTestServer().Handler()

	rec := get(t, h, "/about/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Etag"))

	rec = get(t, h, "/logo.png", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Empty(t, rec.Header().Get("Etag"))
}

func TestContentTypeFallsBackToExtension(t *testing.T) {
	rec := get(t, newTestServer().Handler(), "/untyped.css", nil)
	assert.Equal(t, "text/css", rec.Header().Get("Content-Type"))
}

func TestErrorStatuses(t *testing.T) {
	h := newTestServer().Handler()

	assert.Equal(t, http.StatusNotFound, get(t, h, "/missing.css", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/boom.js", nil).Code)
	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/panic.js", nil).Code)

	req := httptest.NewRequest(http.MethodPost, "/style.css", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestLiveReloadMounted(t *testing.T) {
	hit := false
	s := newTestServer(WithLiveReload(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit = true
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := get(t, s.Handler(), "/__canopy/livereload", nil)
	assert.True(t, hit)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestLiveReloadMountedUnderBasePath(t *testing.T) {
	hits := 0
	s := newTestServer(WithBasePath("/docs"), WithLiveReload(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusTeapot)
	})))

	rec := get(t, s.Handler(), "/docs/__canopy/livereload", nil)
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 1, hits)

	get(t, s.Handler(), "/__canopy/livereload", nil)
	assert.Equal(t, 1, hits, "bare path is left to the pipeline")
}

func TestStartServesAndStartsPlugins(t *testing.T) {
	plugin := &startRecorder{}
	s := newTestServer(WithServerPlugins([]plugins.Instance{{Name: "api", Provider: plugin}}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Shutdown(context.Background())

	assert.True(t, plugin.started)

	resp, err := http.Get(s.URL("/style.css"))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{color:red}", string(body))

	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
}

func TestListenReturnsAfterCancel(t *testing.T) {
	s := newTestServer()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Listen(ctx) }()
	cancel()

	assert.NoError(t, <-done)
}

func TestProdServerRequiresBuildOutput(t *testing.T) {
	dir := t.TempDir()
	comp := &compilation.Compilation{
		Config:  config.Default(),
		Context: compilation.Context{OutputDir: filepath.Join(dir, "public")},
	}
	pipe := pipeline.New(nil, nil)

	_, err := NewProdServer(comp, pipe)
	require.Error(t, err)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeNoBuildOutput))

	require.NoError(t, os.MkdirAll(comp.Context.OutputDir, 0o755))
	_, err = NewProdServer(comp, pipe)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeNoBuildOutput))

	require.NoError(t, os.WriteFile(filepath.Join(comp.Context.OutputDir, "index.html"), []byte("<html></html>"), 0o644))
	s, err := NewProdServer(comp, pipe)
	require.NoError(t, err)
	assert.Equal(t, comp.Config.Port, s.port)
}
