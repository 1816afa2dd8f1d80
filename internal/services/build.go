package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conneroisu/canopy/internal/build"
	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/prerender"
	"github.com/conneroisu/canopy/internal/resources"
)

// Build stage names, also used as metric labels.
const (
	StageScan     = "scan"
	StageBundle   = "bundle"
	StageRender   = "render"
	StageCopy     = "copy"
	StageManifest = "manifest"
	StageAdapt    = "adapt"
)

// BuildService runs a production build.
type BuildService struct {
	config   *config.Config
	plugins  []plugins.Plugin
	launcher prerender.Launcher
	recorder metrics.Recorder
	logger   logging.Logger
}

// BuildOption configures a BuildService.
type BuildOption func(*BuildService)

// WithBuildPlugins registers user plugins.
func WithBuildPlugins(p ...plugins.Plugin) BuildOption {
	return func(s *BuildService) {
		s.plugins = append(s.plugins, p...)
	}
}

// WithLauncher replaces the browser used for prerendering.
func WithLauncher(launcher prerender.Launcher) BuildOption {
	return func(s *BuildService) {
		s.launcher = launcher
	}
}

// WithBuildRecorder sets the metrics recorder.
func WithBuildRecorder(recorder metrics.Recorder) BuildOption {
	return func(s *BuildService) {
		s.recorder = metrics.OrNoop(recorder)
	}
}

// WithBuildLogger sets the logger.
func WithBuildLogger(logger logging.Logger) BuildOption {
	return func(s *BuildService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewBuildService creates a new build service
func NewBuildService(cfg *config.Config, opts ...BuildOption) *BuildService {
	s := &BuildService{
		config:   cfg,
		recorder: metrics.NoopRecorder{},
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("build")
	return s
}

// BuildOptions contains options for the build process
type BuildOptions struct {
	// Clean removes the output directory before building.
	Clean bool
}

// BuildResult contains the result of a build operation
type BuildResult struct {
	BuildID     string
	Duration    time.Duration
	Pages       int
	Prerendered int
	SSR         int
	Failed      []build.PageResult
	Bundle      *build.BundleResult
	Manifest    string
	Success     bool
}

// Build performs the complete build process. Stages run in order and the
// first failing stage aborts the build; a page that fails to render is
// logged and listed in the result without failing the build.
func (s *BuildService) Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	start := time.Now()
	result := &BuildResult{}

	sess, err := openSession(ctx, s.config, resources.ModeBuild, s.plugins, s.logger)
	if err != nil {
		return result, err
	}
	comp := sess.comp
	comp.BuildID = uuid.NewString()
	result.BuildID = comp.BuildID

	logger := s.logger.With("build_id", comp.BuildID)
	logger.Info(ctx, "Starting build", "pages", len(comp.Graph), "output", comp.Context.OutputDir)

	if err := prepareOutput(comp, opts.Clean); err != nil {
		return result, err
	}

	servers, err := sess.providers(ctx, plugins.TypeServer)
	if err != nil {
		return result, err
	}
	orchestrator := prerender.NewOrchestrator(comp, sess.registry, sess.pipeline, s.orchestratorOptions(sess, servers)...)

	prerendered := orchestrator.Select(comp.Graph)
	static := comp.Filter(func(p compilation.Page) bool { return !p.IsSSR && !orchestrator.Needs(p) })
	ssr := comp.Filter(func(p compilation.Page) bool { return p.IsSSR && !orchestrator.Needs(p) })
	result.Prerendered = len(prerendered)
	result.SSR = len(ssr)

	err = s.stage(ctx, logger, StageScan, func() error {
		scanned := append(append([]compilation.Page(nil), static...), prerendered...)
		_, err := build.NewResourceScanner(comp, sess.pipeline, logger).Scan(ctx, scanned)
		return err
	})
	if err != nil {
		return result, err
	}

	err = s.stage(ctx, logger, StageBundle, func() error {
		bundlers, err := sess.providers(ctx, plugins.TypeBundler)
		if err != nil {
			return err
		}
		bundler := build.NewBundler(comp, sess.pipeline, bundlers, s.recorder, logger)
		result.Bundle, err = bundler.Bundle(ctx)
		if err != nil {
			return err
		}
		return bundler.BundleAPIs(ctx)
	})
	if err != nil {
		return result, err
	}

	err = s.stage(ctx, logger, StageRender, func() error {
		pages, err := orchestrator.Run(ctx, prerendered)
		if err != nil {
			return err
		}
		result.collect(pages)

		pages, err = build.NewStaticGenerator(comp, sess.pipeline, s.recorder, logger).Generate(ctx, static)
		if err != nil {
			return err
		}
		result.collect(pages)
		return nil
	})
	if err != nil {
		return result, err
	}

	err = s.stage(ctx, logger, StageCopy, func() error {
		return copyAssets(ctx, sess)
	})
	if err != nil {
		return result, err
	}

	err = s.stage(ctx, logger, StageManifest, func() error {
		target, err := build.NewSiteManifest(comp, ssr).Write(comp.Context.OutputDir, build.NewHashProvider())
		result.Manifest = target
		return err
	})
	if err != nil {
		return result, err
	}

	err = s.stage(ctx, logger, StageAdapt, func() error {
		adapters, err := sess.providers(ctx, plugins.TypeAdapter)
		if err != nil {
			return err
		}
		for _, inst := range adapters {
			adapter, ok := inst.Provider.(plugins.AdapterProvider)
			if !ok {
				continue
			}
			if err := adapter.Adapt(ctx); err != nil {
				return canopyerrors.NewPluginError(canopyerrors.ErrCodeProviderFailed, inst.Name, "adapter failed", err)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	result.Success = true
	logger.Info(ctx, "Build finished",
		"pages", result.Pages,
		"prerendered", result.Prerendered,
		"ssr", result.SSR,
		"failed", len(result.Failed),
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

func (s *BuildService) orchestratorOptions(sess *session, servers []plugins.Instance) []prerender.Option {
	opts := []prerender.Option{
		prerender.WithRenderer(sess.renderer),
		prerender.WithServerPlugins(servers),
		prerender.WithRecorder(s.recorder),
		prerender.WithLogger(s.logger),
	}
	if s.launcher != nil {
		opts = append(opts, prerender.WithLauncher(s.launcher))
	}
	return opts
}

// stage runs fn as a named build stage, timing it.
func (s *BuildService) stage(ctx context.Context, logger logging.Logger, name string, fn func() error) error {
	perf := logging.StartOperation(logger.With("stage", name), "build."+name)
	started := time.Now()
	err := fn()
	s.recorder.ObserveStageDuration(name, time.Since(started))
	if err != nil {
		perf.EndWithError(ctx, err)
		return err
	}
	perf.End(ctx)
	return nil
}

func (r *BuildResult) collect(pages []build.PageResult) {
	for _, page := range pages {
		if page.Err != nil {
			r.Failed = append(r.Failed, page)
			continue
		}
		r.Pages++
	}
}

// prepareOutput creates the output directory, removing it first when clean
// is set. Directories containing the project or workspace are never removed.
func prepareOutput(comp *compilation.Compilation, clean bool) error {
	out := comp.Context.OutputDir
	if clean {
		for _, protected := range []string{comp.Context.ProjectDirectory, comp.Context.UserWorkspace} {
			if within(protected, out) {
				return canopyerrors.NewConfigError(canopyerrors.ErrCodeInvalidPath,
					fmt.Sprintf("refusing to clean %s: it contains %s", out, protected))
			}
		}
		if err := os.RemoveAll(out); err != nil {
			return canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to clean output directory").WithFile(out)
		}
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to create output directory").WithFile(out)
	}
	return nil
}

// within reports whether path is dir or lies below it.
func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func copyAssets(ctx context.Context, sess *session) error {
	copiers, err := sess.providers(ctx, plugins.TypeCopy)
	if err != nil {
		return err
	}
	for _, inst := range copiers {
		copier, ok := inst.Provider.(plugins.CopyProvider)
		if !ok {
			continue
		}
		assets, err := copier.Assets(ctx)
		if err != nil {
			return canopyerrors.NewPluginError(canopyerrors.ErrCodeProviderFailed, inst.Name, "copy plugin failed", err)
		}
		for _, asset := range assets {
			to := asset.To
			if !filepath.IsAbs(to) {
				to = filepath.Join(sess.comp.Context.OutputDir, to)
			}
			if err := copyPath(asset.From, to); err != nil {
				return canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to copy asset").WithFile(asset.From)
			}
		}
	}
	return nil
}

func copyPath(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dest)
	}
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
