package server

import (
	"net/http"
	"net/url"
	"path"

	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
)

// pipelineHandler threads each request through resolve, serve and
// intercept, then applies the ETag stage.
type pipelineHandler struct {
	pipeline *pipeline.Pipeline
	logger   logging.Logger
}

func (h *pipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	u := &url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery}
	ex := plugins.NewExchange(r.Header)

	resolved, resp, err := h.pipeline.Handle(ctx, u, ex)
	if err != nil {
		h.logger.Error(ctx, err, "Request failed", "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if resp.Empty() {
		http.NotFound(w, r)
		return
	}

	header := w.Header()
	for key, values := range ex.Response {
		for _, v := range values {
			header.Add(key, v)
		}
	}

	contentType := resp.ContentType
	if contentType == "" {
		contentType = resources.ContentType(path.Ext(resolved.Path))
	}
	header.Set("Content-Type", contentType)

	if pipeline.ShouldETag(resolved, resp) {
		etag := pipeline.ETag(resp.Body)
		header.Set("Etag", etag)
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(resp.Body); err != nil {
		h.logger.Debug(ctx, "Write failed", "path", r.URL.Path, "error", err.Error())
	}
}
