// Package resources implements the built-in resource providers: URL
// resolution, page, script, style, data and asset serving, the HTML
// optimizer, live reload injection and production output serving.
package resources

import (
	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/plugins"
)

// Built-in plugin names.
const (
	NameResolver    = "standard-resolver"
	NameHTML        = "standard-html"
	NameJavaScript  = "standard-javascript"
	NameCSS         = "standard-css"
	NameJSON        = "standard-json"
	NameAssets      = "standard-assets"
	NameNodeModules = "node-modules"
	NameLiveReload  = "live-reload"
	NameOutput      = "standard-output"
	NameCopyAssets  = "standard-copy-assets"
)

// LiveReloadPath is the websocket endpoint the live reload client dials.
const LiveReloadPath = "/__canopy/livereload"

// OptimizationAttr overrides the global optimization mode on a single tag.
const OptimizationAttr = "data-canopy-opt"

// Mode selects which built-ins a command runs with.
type Mode int

const (
	ModeBuild Mode = iota
	ModeDevelop
	ModeServe
)

func (m Mode) String() string {
	switch m {
	case ModeDevelop:
		return "develop"
	case ModeServe:
		return "serve"
	default:
		return "build"
	}
}

// Defaults configures the built-in plugin set.
type Defaults struct {
	Mode Mode
	// Renderer renders SSR page bodies when a renderer plugin is configured.
	Renderer plugins.RendererProvider
}

// Plugins returns the built-in plugins for d.Mode in fold order.
func (d Defaults) Plugins() []plugins.Plugin {
	html := plugins.Plugin{
		Type: plugins.TypeResource,
		Name: NameHTML,
		Provider: func(comp *compilation.Compilation, _ plugins.Options) (interface{}, error) {
			return NewHTMLProvider(comp, d.Renderer, d.Mode == ModeServe), nil
		},
	}

	if d.Mode == ModeServe {
		return []plugins.Plugin{
			{Type: plugins.TypeResource, Name: NameOutput, Provider: provider(NewOutputProvider)},
			html,
		}
	}

	list := []plugins.Plugin{
		{Type: plugins.TypeResource, Name: NameResolver, Provider: provider(NewResolver)},
		html,
		{Type: plugins.TypeResource, Name: NameJavaScript, Provider: provider(NewJavaScriptProvider)},
		{Type: plugins.TypeResource, Name: NameCSS, Provider: provider(NewCSSProvider)},
		{Type: plugins.TypeResource, Name: NameJSON, Provider: provider(NewJSONProvider)},
		{Type: plugins.TypeResource, Name: NameAssets, Provider: provider(NewAssetProvider)},
		{Type: plugins.TypeResource, Name: NameNodeModules, Provider: provider(NewNodeModulesProvider)},
	}

	switch d.Mode {
	case ModeDevelop:
		list = append(list, plugins.Plugin{
			Type: plugins.TypeResource, Name: NameLiveReload, Provider: provider(NewLiveReloadInterceptor),
		})
	case ModeBuild:
		list = append(list, plugins.Plugin{
			Type: plugins.TypeCopy, Name: NameCopyAssets, Provider: provider(NewAssetCopier),
		})
	}

	return list
}

func provider[T any](ctor func(*compilation.Compilation) T) plugins.Factory {
	return func(comp *compilation.Compilation, _ plugins.Options) (interface{}, error) {
		return ctor(comp), nil
	}
}
