package prerender

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/canopy/internal/build"
	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
	"github.com/conneroisu/canopy/internal/server"
)

// State is a step of a prerender pass.
type State string

const (
	StateIdle      State = "idle"
	StateLaunching State = "browser-launching"
	StateReady     State = "browser-ready"
	StateNavigate  State = "navigate"
	StateSerialize State = "serialize"
	StateOptimize  State = "optimize"
	StateClosed    State = "closed"
)

// ScratchSubdir holds materialized server rendered pages below the scratch
// directory.
const ScratchSubdir = "prerender"

const resultLabel = "prerender"

type pageRenderer interface {
	RenderPage(ctx context.Context, page compilation.Page) (string, error)
}

// Orchestrator drives the prerender pass of a build.
type Orchestrator struct {
	comp     *compilation.Compilation
	registry *plugins.Registry
	pipeline *pipeline.Pipeline
	renderer plugins.RendererProvider
	servers  []plugins.Instance
	launcher Launcher
	recorder metrics.Recorder
	logger   logging.Logger

	mu    sync.Mutex
	state State
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLauncher replaces the Chrome launcher.
func WithLauncher(launcher Launcher) Option {
	return func(o *Orchestrator) {
		o.launcher = launcher
	}
}

// WithRenderer sets the custom renderer plugin.
func WithRenderer(renderer plugins.RendererProvider) Option {
	return func(o *Orchestrator) {
		o.renderer = renderer
	}
}

// WithServerPlugins sets the server plugins started with the temporary
// server.
func WithServerPlugins(servers []plugins.Instance) Option {
	return func(o *Orchestrator) {
		o.servers = servers
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = metrics.OrNoop(recorder)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewOrchestrator creates an orchestrator for comp. registry re-instantiates
// the resource providers for the temporary server and pipe supplies the
// intercept and optimize stages of the build.
func NewOrchestrator(comp *compilation.Compilation, registry *plugins.Registry, pipe *pipeline.Pipeline, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		comp:     comp,
		registry: registry,
		pipeline: pipe,
		recorder: metrics.NoopRecorder{},
		logger:   logging.NewNopLogger(),
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("prerender")
	if o.launcher == nil {
		o.launcher = ChromeLauncher(comp.Config, o.logger)
	}
	return o
}

// Needs reports whether page is prerendered.
func (o *Orchestrator) Needs(page compilation.Page) bool {
	if o.comp.Config.Prerender {
		return true
	}
	if o.renderer != nil && o.renderer.Prerender() {
		return true
	}
	return page.IsSSR && page.Prerender()
}

// ShouldPrerender reports whether any of pages is prerendered.
func (o *Orchestrator) ShouldPrerender(pages []compilation.Page) bool {
	for _, page := range pages {
		if o.Needs(page) {
			return true
		}
	}
	return false
}

// Select returns the pages that are prerendered.
func (o *Orchestrator) Select(pages []compilation.Page) []compilation.Page {
	var out []compilation.Page
	for _, page := range pages {
		if o.Needs(page) {
			out = append(out, page)
		}
	}
	return out
}

// State returns the current state of the pass.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) transition(ctx context.Context, s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()
	o.logger.Debug(ctx, "Prerender state changed", "from", string(prev), "to", string(s))
}

// Run prerenders pages. A custom renderer that asks for prerendering
// replaces the browser entirely. Otherwise pages are served by a temporary
// server and serialized by the browser. Failing pages are logged and
// reported in their result; only a browser launch failure aborts the pass.
func (o *Orchestrator) Run(ctx context.Context, pages []compilation.Page) ([]build.PageResult, error) {
	if len(pages) == 0 {
		return nil, nil
	}

	if o.renderer != nil && o.renderer.Prerender() {
		o.logger.Info(ctx, "Rendering pages with custom renderer", "pages", len(pages))
		return build.NewStaticGenerator(o.comp, o.pipeline, o.recorder, o.logger).
			WithLabel(resultLabel).
			Generate(ctx, pages)
	}

	start := time.Now()
	defer o.transition(ctx, StateClosed)

	view, err := o.materialize(ctx, pages)
	if err != nil {
		return nil, err
	}

	instances, err := o.registry.Resources(ctx, view)
	if err != nil {
		return nil, err
	}
	srv := server.NewDevServer(view, pipeline.New(instances, o.logger),
		server.WithAddr("127.0.0.1", o.comp.Config.DevServer.Port),
		server.WithServerPlugins(o.servers),
		server.WithLogger(o.logger),
	)
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	o.transition(ctx, StateLaunching)
	engine, err := o.launcher(ctx)
	if err != nil {
		launchErr := canopyerrors.NewPrerenderError(canopyerrors.ErrCodeBrowserLaunch,
			"failed to launch the prerender browser", err).
			WithSuggestion(canopyerrors.FormatSuggestions("Troubleshooting", canopyerrors.BrowserLaunchSuggestions()))
		o.logger.Fatal(ctx, launchErr, "Browser launch failed")
		return nil, launchErr
	}
	defer func() {
		if err := engine.Close(); err != nil {
			o.logger.Warn(ctx, err, "Failed to close browser")
		}
	}()
	o.transition(ctx, StateReady)

	interceptors := o.pipeline.Only(func(inst plugins.Instance) bool {
		_, ok := inst.Provider.(plugins.Interceptor)
		return pipeline.NonDefault(inst) && ok
	})

	results := make([]build.PageResult, len(pages))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(max(1, o.comp.Config.PrerenderConcurrency))
	for i, page := range pages {
		eg.Go(func() error {
			pageURL := srv.URL(o.comp.Config.BasePath + page.Route)
			res, ok := o.runBrowser(egCtx, engine, page, pageURL)
			if !ok {
				results[i] = build.PageResult{Route: page.Route, Err: canopyerrors.NewPrerenderError(
					canopyerrors.ErrCodePrerenderPage, "page was not prerendered", nil).WithFile(page.Route)}
				o.recorder.IncPageResult(resultLabel, metrics.ResultFailed)
				return nil
			}

			out, err := o.finish(egCtx, interceptors, page, res.HTML)
			results[i] = build.PageResult{Route: page.Route, OutputFile: out, Err: err}
			switch {
			case err != nil:
				o.logger.Error(egCtx, err, "Prerendered page could not be written", "route", page.Route)
				o.recorder.IncPageResult(resultLabel, metrics.ResultFailed)
			case res.Outcome == OutcomePartial:
				o.recorder.IncPageResult(resultLabel, metrics.ResultPartial)
			default:
				o.recorder.IncPageResult(resultLabel, metrics.ResultSuccess)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}

	o.logger.Info(ctx, "Prerendered pages",
		"pages", len(pages),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return results, nil
}

// runBrowser serializes one page. Failures are logged and reported as false
// so the remaining pages still render.
func (o *Orchestrator) runBrowser(ctx context.Context, engine Engine, page compilation.Page, pageURL string) (Result, bool) {
	o.logger.Debug(ctx, "Prerendering page", "route", page.Route, "state", string(StateNavigate), "url", pageURL)

	res, err := engine.Serialize(ctx, pageURL)
	if err != nil {
		o.logger.Error(ctx, err, "Failed to prerender page", "route", page.Route)
		return Result{}, false
	}
	o.logger.Debug(ctx, "Serialized page", "route", page.Route, "state", string(StateSerialize), "outcome", res.Outcome.String())
	return res, true
}

func (o *Orchestrator) finish(ctx context.Context, interceptors *pipeline.Pipeline, page compilation.Page, html string) (string, error) {
	u := &url.URL{Path: o.comp.Config.BasePath + page.Route}
	resp, err := interceptors.Intercept(ctx, u, plugins.NewExchange(nil),
		plugins.Response{Body: []byte(html), ContentType: "text/html"})
	if err != nil {
		return "", err
	}

	o.logger.Debug(ctx, "Optimizing page", "route", page.Route, "state", string(StateOptimize))
	body, err := o.pipeline.Optimize(ctx, o.comp.OutputFile(page), string(resp.Body))
	if err != nil {
		return "", err
	}
	return build.WritePage(o.comp, page, body)
}

// materialize renders the server rendered pages among pages with the
// standard HTML provider into the scratch directory and returns a view of
// the compilation serving them as static files.
func (o *Orchestrator) materialize(ctx context.Context, pages []compilation.Page) (*compilation.Compilation, error) {
	ssr := make(map[string]bool)
	for _, page := range pages {
		if page.IsSSR {
			ssr[page.Route] = true
		}
	}
	if len(ssr) == 0 {
		return o.comp, nil
	}

	html, ok := o.pipeline.Find(resources.NameHTML)
	if !ok {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			"standard-html provider is not registered", nil)
	}
	renderer, ok := html.Provider.(pageRenderer)
	if !ok {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			"standard-html provider cannot render pages", nil)
	}

	root := filepath.Join(o.comp.Context.ScratchDir, ScratchSubdir)
	graph := make([]compilation.Page, len(o.comp.Graph))
	copy(graph, o.comp.Graph)

	for i, page := range graph {
		if !ssr[page.Route] {
			continue
		}
		doc, err := renderer.RenderPage(ctx, page)
		if err != nil {
			return nil, canopyerrors.WrapProvider(err, resources.NameHTML, "materialize").WithFile(page.Route)
		}

		target := filepath.Join(root, filepath.FromSlash(compilation.RouteToOutputPath(page.Route)))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to create prerender scratch directory")
		}
		if err := os.WriteFile(target, []byte(doc), 0o644); err != nil {
			return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to write materialized page").WithFile(target)
		}

		page.IsSSR = false
		page.Filename = target
		graph[i] = page
		o.logger.Debug(ctx, "Materialized server rendered page", "route", page.Route, "file", target)
	}

	return o.comp.WithGraph(graph), nil
}
