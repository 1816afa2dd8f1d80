// Package build turns a compilation into a deployable site: it scans pages
// for resources, bundles them with esbuild, reconciles the hashed output
// names back onto the resource records and renders static pages.
package build

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
)

// Names of the esbuild plugins canopy installs.
const (
	LoaderPluginName = "canopy-resource-loader"
	WritePluginName  = "canopy-write-bundle"
)

// Bundle warning IDs. Unresolved imports are raised by the resource loader,
// empty bundles by the write hook.
const (
	WarningUnresolved  = "unresolved-import"
	WarningEmptyBundle = "empty-bundle"
)

// Warning actions, also used as metric labels.
const (
	ActionSuppressed = "suppressed"
	ActionLogged     = "logged"
	ActionEscalated  = "escalated"
)

var nativeExtensions = map[string]bool{
	".js": true, ".mjs": true, ".cjs": true, ".jsx": true,
	".ts": true, ".mts": true, ".cts": true, ".tsx": true,
	".css": true, ".json": true, ".txt": true,
}

var fileLoaders = map[string]api.Loader{
	".png":   api.LoaderFile,
	".jpg":   api.LoaderFile,
	".jpeg":  api.LoaderFile,
	".gif":   api.LoaderFile,
	".svg":   api.LoaderFile,
	".webp":  api.LoaderFile,
	".ico":   api.LoaderFile,
	".woff":  api.LoaderFile,
	".woff2": api.LoaderFile,
	".ttf":   api.LoaderFile,
}

// Metafile is the subset of the esbuild metafile the write hook reads.
type Metafile struct {
	Outputs map[string]MetafileOutput `json:"outputs"`
}

// MetafileOutput is one emitted file.
type MetafileOutput struct {
	Bytes      int    `json:"bytes"`
	EntryPoint string `json:"entryPoint,omitempty"`
}

// BundleResult summarises one bundle run.
type BundleResult struct {
	Entries    int
	Outputs    []string
	Reconciled int
	Warnings   map[string]int
}

// Bundler coordinates esbuild for the resources a build collected.
type Bundler struct {
	comp     *compilation.Compilation
	pipeline *pipeline.Pipeline
	plugins  []plugins.Instance
	recorder metrics.Recorder
	logger   logging.Logger

	mu           sync.Mutex
	hookWarnings []api.Message
}

// NewBundler creates a bundler. pipe serves files esbuild cannot load itself;
// bundlerPlugins contribute extra esbuild plugins.
func NewBundler(comp *compilation.Compilation, pipe *pipeline.Pipeline, bundlerPlugins []plugins.Instance,
	recorder metrics.Recorder, logger logging.Logger,
) *Bundler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bundler{
		comp:     comp,
		pipeline: pipe,
		plugins:  bundlerPlugins,
		recorder: metrics.OrNoop(recorder),
		logger:   logger.WithComponent("bundler"),
	}
}

// Entries returns the records that become esbuild entry points: scripts not
// removed by the static mode, and every stylesheet.
func (b *Bundler) Entries() []compilation.ResourceRecord {
	return b.comp.Resources.Filter(func(r compilation.ResourceRecord) bool {
		switch r.Type {
		case compilation.ResourceScript:
			return r.Optimization != config.OptimizationStatic
		case compilation.ResourceStyle:
			return true
		}
		return false
	})
}

// Bundle runs esbuild over the entry records and reconciles the output.
func (b *Bundler) Bundle(ctx context.Context) (*BundleResult, error) {
	entries := b.Entries()
	result := &BundleResult{Entries: len(entries), Warnings: make(map[string]int)}
	if len(entries) == 0 {
		b.logger.Debug(ctx, "Nothing to bundle")
		return result, nil
	}

	entryPoints := make([]string, 0, len(entries))
	for _, record := range entries {
		entryPoints = append(entryPoints, filepath.FromSlash(record.Key()))
	}

	b.mu.Lock()
	b.hookWarnings = nil
	b.mu.Unlock()
	var (
		written  []string
		writeErr error
	)
	esPlugins := []api.Plugin{b.loaderPlugin(ctx)}
	esPlugins = append(esPlugins, b.userPlugins()...)
	esPlugins = append(esPlugins, api.Plugin{
		Name: WritePluginName,
		Setup: func(build api.PluginBuild) {
			build.OnEnd(func(res *api.BuildResult) (api.OnEndResult, error) {
				// A build that fails or escalates a warning writes nothing.
				if len(res.Errors) > 0 || b.escalates(res.Warnings) {
					return api.OnEndResult{}, nil
				}
				written, writeErr = b.WriteBundle(res.Metafile, res.OutputFiles)
				return api.OnEndResult{}, nil
			})
		},
	})

	minify := b.comp.Config.Optimization != config.OptimizationNone
	res := api.Build(api.BuildOptions{
		EntryPoints:       entryPoints,
		Bundle:            true,
		Format:            api.FormatESModule,
		Platform:          api.PlatformBrowser,
		Splitting:         false,
		EntryNames:        "[name].[hash]",
		AssetNames:        "assets/[name].[hash]",
		Outdir:            b.comp.Context.OutputDir,
		Metafile:          true,
		Write:             false,
		AbsWorkingDir:     b.comp.Context.ProjectDirectory,
		Loader:            fileLoaders,
		MinifyWhitespace:  minify,
		MinifySyntax:      minify,
		MinifyIdentifiers: minify,
		LogLevel:          api.LogLevelSilent,
		Plugins:           esPlugins,
	})

	if len(res.Errors) > 0 {
		return result, canopyerrors.NewBuildError(canopyerrors.ErrCodeBundleFailed,
			"bundler failed", formatMessages(res.Errors)).WithComponent("bundler")
	}
	if writeErr != nil {
		return result, writeErr
	}

	b.mu.Lock()
	warnings := append(append([]api.Message(nil), res.Warnings...), b.hookWarnings...)
	b.mu.Unlock()
	for _, msg := range warnings {
		action := b.classify(msg)
		result.Warnings[action]++
		b.recorder.IncBundleWarning(action)

		switch action {
		case ActionEscalated:
			return result, canopyerrors.NewBuildError(canopyerrors.ErrCodeBundleUnresolved,
				msg.Text, nil).WithComponent("bundler").
				WithSuggestion("Install the missing package or disable strict_bundle")
		case ActionLogged:
			b.logger.Warn(ctx, nil, msg.Text, "warning", msg.ID)
		}
	}

	result.Outputs = written
	for _, record := range entries {
		if r, ok := b.comp.Resources.Get(record.Key()); ok && r.Reconciled() {
			result.Reconciled++
		}
	}

	b.logger.Info(ctx, "Bundled resources",
		"entries", result.Entries,
		"outputs", len(result.Outputs),
		"reconciled", result.Reconciled,
	)
	return result, nil
}

// escalates reports whether any bundler or hook warning fails the build.
func (b *Bundler) escalates(warnings []api.Message) bool {
	b.mu.Lock()
	all := append(append([]api.Message(nil), warnings...), b.hookWarnings...)
	b.mu.Unlock()
	for _, msg := range all {
		if b.classify(msg) == ActionEscalated {
			return true
		}
	}
	return false
}

// classify decides what happens to a bundler warning.
func (b *Bundler) classify(msg api.Message) string {
	switch msg.ID {
	case WarningEmptyBundle:
		return ActionSuppressed
	case WarningUnresolved:
		if b.comp.Config.StrictBundle {
			return ActionEscalated
		}
		return ActionLogged
	}
	return ActionLogged
}

// WriteBundle is the write hook. It writes every output file and stores the
// hashed name and contents of each entry output on the record whose source
// path matches the output's entry point. Records without a matching output
// are left untouched.
func (b *Bundler) WriteBundle(rawMetafile string, outputFiles []api.OutputFile) ([]string, error) {
	var meta Metafile
	if err := json.Unmarshal([]byte(rawMetafile), &meta); err != nil {
		return nil, canopyerrors.NewBuildError(canopyerrors.ErrCodeBundleFailed, "invalid bundler metafile", err)
	}

	contents := make(map[string][]byte, len(outputFiles))
	for _, f := range outputFiles {
		contents[filepath.Clean(f.Path)] = f.Contents
	}

	index := b.recordIndex()
	outputDir := b.comp.Context.OutputDir

	keys := make([]string, 0, len(meta.Outputs))
	for k := range meta.Outputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := make([]string, 0, len(keys))
	for _, key := range keys {
		out := meta.Outputs[key]
		abs := b.absolute(key)
		data := contents[abs]

		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return written, canopyerrors.WrapIO(err, canopyerrors.ErrCodeBundleFailed, "failed to create bundle directory")
		}
		if err := os.WriteFile(abs, data, 0o644); err != nil {
			return written, canopyerrors.WrapIO(err, canopyerrors.ErrCodeBundleFailed, "failed to write bundle").WithFile(abs)
		}

		rel, err := filepath.Rel(outputDir, abs)
		if err != nil {
			rel = filepath.Base(abs)
		}
		rel = filepath.ToSlash(rel)
		written = append(written, rel)

		if out.EntryPoint == "" {
			continue
		}
		recordKey, ok := index[b.normalize(out.EntryPoint)]
		if !ok {
			continue
		}
		record, _ := b.comp.Resources.Get(recordKey)
		if !outputMatches(record.Type, rel) {
			continue
		}
		if strings.TrimSpace(string(data)) == "" {
			b.warn(api.Message{
				ID:         WarningEmptyBundle,
				PluginName: WritePluginName,
				Text:       "Generated an empty chunk: " + rel,
			})
		}
		b.comp.Resources.Reconcile(recordKey, rel, string(data))
	}
	return written, nil
}

// recordIndex maps normalised source paths to record keys.
func (b *Bundler) recordIndex() map[string]string {
	index := make(map[string]string)
	for _, record := range b.comp.Resources.All() {
		index[b.normalize(record.Key())] = record.Key()
	}
	return index
}

// normalize turns a metafile path or record key into a comparable absolute
// path. Symlinks are resolved on both sides: in a linked monorepo esbuild
// reports the real path of a package while pages reference it through the
// node_modules link.
func (b *Bundler) normalize(p string) string {
	p = strings.TrimPrefix(p, "file:")
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.comp.Context.ProjectDirectory, p)
	}
	if real, err := filepath.EvalSymlinks(p); err == nil {
		p = real
	}
	return filepath.ToSlash(filepath.Clean(p))
}

func (b *Bundler) absolute(p string) string {
	p = filepath.FromSlash(p)
	if !filepath.IsAbs(p) {
		p = filepath.Join(b.comp.Context.ProjectDirectory, p)
	}
	return filepath.Clean(p)
}

func outputMatches(typ compilation.ResourceType, rel string) bool {
	ext := path.Ext(rel)
	switch typ {
	case compilation.ResourceStyle:
		return ext == ".css"
	case compilation.ResourceScript:
		return ext == ".js"
	}
	return true
}

func (b *Bundler) userPlugins() []api.Plugin {
	var out []api.Plugin
	for _, inst := range b.plugins {
		if provider, ok := inst.Provider.(plugins.BundlerProvider); ok {
			out = append(out, provider.EsbuildPlugin())
		}
	}
	return out
}

// loaderPlugin maps site absolute imports onto the workspace, externalises
// bare imports missing from node_modules and proxies files esbuild cannot
// load through the resource providers.
func (b *Bundler) loaderPlugin(ctx context.Context) api.Plugin {
	return api.Plugin{
		Name: LoaderPluginName,
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^/`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if isFile(args.Path) {
					return api.OnResolveResult{}, nil
				}
				for _, candidate := range []string{b.comp.SourcePath(args.Path), b.comp.SourcePath(args.Path + ".js")} {
					if isFile(candidate) {
						return api.OnResolveResult{Path: candidate}, nil
					}
				}
				return b.unresolved(args), nil
			})

			build.OnResolve(api.OnResolveOptions{Filter: `^[^./]`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
				if args.Kind == api.ResolveEntryPoint || strings.Contains(args.Path, ":") {
					return api.OnResolveResult{}, nil
				}
				modules := filepath.Join(b.comp.Context.ProjectDirectory, "node_modules", packageName(args.Path))
				if _, err := os.Stat(modules); err == nil {
					return api.OnResolveResult{}, nil
				}
				return b.unresolved(args), nil
			})

			build.OnLoad(api.OnLoadOptions{Filter: `\.[^./\\]+$`, Namespace: "file"}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
				ext := strings.ToLower(filepath.Ext(args.Path))
				if nativeExtensions[ext] {
					return api.OnLoadResult{}, nil
				}
				if _, ok := fileLoaders[ext]; ok {
					return api.OnLoadResult{}, nil
				}
				return b.proxyLoad(ctx, args.Path)
			})
		},
	}
}

// unresolved marks an import external. The warning is kept on the bundler
// rather than handed to esbuild, which drops plugin message IDs.
func (b *Bundler) unresolved(args api.OnResolveArgs) api.OnResolveResult {
	b.warn(api.Message{
		ID:         WarningUnresolved,
		PluginName: LoaderPluginName,
		Text:       fmt.Sprintf("Could not resolve %q imported by %s; treating it as external", args.Path, args.Importer),
	})
	return api.OnResolveResult{Path: args.Path, External: true}
}

func (b *Bundler) warn(msg api.Message) {
	b.mu.Lock()
	b.hookWarnings = append(b.hookWarnings, msg)
	b.mu.Unlock()
}

// proxyLoad serves file through the providers' serve and intercept stages.
func (b *Bundler) proxyLoad(ctx context.Context, file string) (api.OnLoadResult, error) {
	rel, err := filepath.Rel(b.comp.Context.UserWorkspace, file)
	if err != nil || strings.HasPrefix(rel, "..") {
		return api.OnLoadResult{}, nil
	}
	u := &url.URL{Path: b.comp.Config.BasePath + "/" + filepath.ToSlash(rel)}
	ex := plugins.NewExchange(nil)

	resp, err := b.pipeline.Serve(ctx, u, ex, plugins.Response{})
	if err != nil {
		return api.OnLoadResult{}, err
	}
	resp, err = b.pipeline.Intercept(ctx, u, ex, resp)
	if err != nil {
		return api.OnLoadResult{}, err
	}
	if resp.Empty() {
		return api.OnLoadResult{}, nil
	}

	contents := string(resp.Body)
	return api.OnLoadResult{
		Contents:   &contents,
		ResolveDir: filepath.Dir(file),
		Loader:     loaderFor(resp),
	}, nil
}

func loaderFor(resp plugins.Response) api.Loader {
	if resp.Binary {
		return api.LoaderFile
	}
	ct := resp.ContentType
	switch {
	case strings.Contains(ct, "javascript"):
		return api.LoaderJS
	case strings.Contains(ct, "css"):
		return api.LoaderCSS
	case strings.Contains(ct, "json"):
		return api.LoaderJSON
	default:
		return api.LoaderText
	}
}

// BundleAPIs bundles every API handler to output/api/<name>.js without a
// content hash so hosting adapters can find them.
func (b *Bundler) BundleAPIs(ctx context.Context) error {
	if len(b.comp.Manifest.APIs) == 0 {
		return nil
	}

	routes := make([]string, 0, len(b.comp.Manifest.APIs))
	for route := range b.comp.Manifest.APIs {
		routes = append(routes, route)
	}
	sort.Strings(routes)

	entries := make([]api.EntryPoint, 0, len(routes))
	for _, route := range routes {
		handler := b.comp.Manifest.APIs[route]
		entries = append(entries, api.EntryPoint{
			InputPath:  handler.Filename,
			OutputPath: strings.TrimSuffix(handler.OutputPath, ".js"),
		})
	}

	res := api.Build(api.BuildOptions{
		EntryPointsAdvanced: entries,
		Bundle:              true,
		Format:              api.FormatESModule,
		Platform:            api.PlatformNode,
		Outdir:              b.comp.Context.OutputDir,
		Write:               true,
		AbsWorkingDir:       b.comp.Context.ProjectDirectory,
		LogLevel:            api.LogLevelSilent,
		Plugins:             []api.Plugin{b.loaderPlugin(ctx)},
	})
	if len(res.Errors) > 0 {
		return canopyerrors.NewBuildError(canopyerrors.ErrCodeBundleFailed,
			"api bundle failed", formatMessages(res.Errors)).WithComponent("bundler")
	}
	for _, msg := range res.Warnings {
		b.logger.Warn(ctx, nil, msg.Text, "warning", msg.ID)
	}

	b.logger.Info(ctx, "Bundled API handlers", "count", len(entries))
	return nil
}

func formatMessages(msgs []api.Message) error {
	lines := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage})
	return fmt.Errorf("%s", strings.TrimSpace(strings.Join(lines, "\n")))
}

// packageName returns the npm package of a bare import, keeping the scope.
func packageName(importPath string) string {
	parts := strings.Split(importPath, "/")
	if strings.HasPrefix(importPath, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
