package build

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
)

// PageResult is the outcome of rendering one page.
type PageResult struct {
	Route      string
	OutputFile string
	Err        error
}

// StaticGenerator renders pages without a browser: serve through the
// standard HTML provider, intercept through user providers, optimize, write.
type StaticGenerator struct {
	comp     *compilation.Compilation
	pipeline *pipeline.Pipeline
	recorder metrics.Recorder
	logger   logging.Logger
	label    string
}

// NewStaticGenerator creates a generator over the instantiated providers.
func NewStaticGenerator(comp *compilation.Compilation, pipe *pipeline.Pipeline, recorder metrics.Recorder, logger logging.Logger) *StaticGenerator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &StaticGenerator{
		comp:     comp,
		pipeline: pipe,
		recorder: metrics.OrNoop(recorder),
		logger:   logger.WithComponent("static"),
		label:    "static",
	}
}

// WithLabel sets the mode label page results are counted under.
func (g *StaticGenerator) WithLabel(label string) *StaticGenerator {
	g.label = label
	return g
}

// Generate renders every page concurrently. A failing page is logged and
// reported in its result; the others still render. The returned error is
// only set when ctx is cancelled.
func (g *StaticGenerator) Generate(ctx context.Context, pages []compilation.Page) ([]PageResult, error) {
	html, ok := g.pipeline.Find(resources.NameHTML)
	if !ok {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			"standard-html provider is not registered", nil)
	}
	server, ok := html.Provider.(plugins.Server)
	if !ok {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			"standard-html provider cannot serve pages", nil)
	}

	interceptors := g.pipeline.Only(func(inst plugins.Instance) bool {
		_, ok := inst.Provider.(plugins.Interceptor)
		return pipeline.NonDefault(inst) && ok
	})

	start := time.Now()
	results := make([]PageResult, len(pages))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, page := range pages {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			out, err := g.renderPage(egCtx, server, interceptors, page)
			results[i] = PageResult{Route: page.Route, OutputFile: out, Err: err}
			if err != nil {
				g.logger.Error(egCtx, err, "Page failed to render", "route", page.Route)
				g.recorder.IncPageResult(g.label, metrics.ResultFailed)
			} else {
				g.recorder.IncPageResult(g.label, metrics.ResultSuccess)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}

	g.logger.Info(ctx, "Rendered static pages",
		"pages", len(pages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

func (g *StaticGenerator) renderPage(ctx context.Context, server plugins.Server, interceptors *pipeline.Pipeline, page compilation.Page) (string, error) {
	u := &url.URL{Path: g.comp.Config.BasePath + page.Route}
	ex := plugins.NewExchange(nil)

	resp, err := server.Serve(ctx, u, ex)
	if err != nil {
		return "", canopyerrors.WrapProvider(err, resources.NameHTML, pipeline.StageServe).WithFile(page.Route)
	}
	resp, err = interceptors.Intercept(ctx, u, ex, resp)
	if err != nil {
		return "", err
	}

	outputPath := g.comp.OutputFile(page)
	body, err := g.pipeline.Optimize(ctx, outputPath, string(resp.Body))
	if err != nil {
		return "", err
	}

	return WritePage(g.comp, page, body)
}

// WritePage writes html to the output file of page and returns its path.
// The 404 page is always written to the root of the output directory.
func WritePage(comp *compilation.Compilation, page compilation.Page, html string) (string, error) {
	var target string
	if page.Route == compilation.NotFoundRoute {
		target = filepath.Join(comp.Context.OutputDir, "404.html")
	} else {
		target = comp.OutputFile(page)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath,
				fmt.Sprintf("failed to create directory for %s", page.Route))
		}
	}

	if err := os.WriteFile(target, []byte(html), 0o644); err != nil {
		return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to write page").WithFile(target)
	}
	return target, nil
}
