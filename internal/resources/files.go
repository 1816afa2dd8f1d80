package resources

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/plugins"
)

// fileProvider serves workspace files with one of a fixed set of extensions.
type fileProvider struct {
	comp   *compilation.Compilation
	exts   []string
	binary bool
}

func (f *fileProvider) ShouldServe(_ context.Context, u *url.URL, _ *plugins.Exchange) bool {
	if isNodeModule(u.Path) || !hasExt(u.Path, f.exts...) {
		return false
	}
	return isFile(f.comp.SourcePath(u.Path))
}

func (f *fileProvider) Serve(_ context.Context, u *url.URL, _ *plugins.Exchange) (plugins.Response, error) {
	return readFile(f.comp.SourcePath(u.Path), f.binary)
}

func readFile(p string, binary bool) (plugins.Response, error) {
	body, err := os.ReadFile(p)
	if err != nil {
		return plugins.Response{}, canopyerrors.WrapIO(err, canopyerrors.ErrCodeFileNotFound, "cannot read resource").WithFile(p)
	}
	return plugins.Response{
		Body:        body,
		ContentType: ContentType(filepath.Ext(p)),
		Binary:      binary,
	}, nil
}

// JavaScriptProvider serves .js and .mjs files from the workspace.
type JavaScriptProvider struct{ fileProvider }

// NewJavaScriptProvider creates the standard JavaScript provider.
func NewJavaScriptProvider(comp *compilation.Compilation) *JavaScriptProvider {
	return &JavaScriptProvider{fileProvider{comp: comp, exts: []string{".js", ".mjs"}}}
}

// CSSProvider serves .css files from the workspace.
type CSSProvider struct{ fileProvider }

// NewCSSProvider creates the standard CSS provider.
func NewCSSProvider(comp *compilation.Compilation) *CSSProvider {
	return &CSSProvider{fileProvider{comp: comp, exts: []string{".css"}}}
}

// AssetProvider serves images and fonts as binary responses.
type AssetProvider struct{ fileProvider }

// NewAssetProvider creates the standard image and font provider.
func NewAssetProvider(comp *compilation.Compilation) *AssetProvider {
	return &AssetProvider{fileProvider{
		comp:   comp,
		exts:   []string{".png", ".jpg", ".jpeg", ".gif", ".svg", ".webp", ".ico", ".woff", ".woff2", ".ttf"},
		binary: true,
	}}
}

// JSONProvider serves .json files and the page graph at /graph.json.
type JSONProvider struct {
	fileProvider
}

// NewJSONProvider creates the standard JSON provider.
func NewJSONProvider(comp *compilation.Compilation) *JSONProvider {
	return &JSONProvider{fileProvider{comp: comp, exts: []string{".json"}}}
}

func (j *JSONProvider) ShouldServe(ctx context.Context, u *url.URL, ex *plugins.Exchange) bool {
	if j.isGraph(u) {
		return true
	}
	return j.fileProvider.ShouldServe(ctx, u, ex)
}

func (j *JSONProvider) Serve(ctx context.Context, u *url.URL, ex *plugins.Exchange) (plugins.Response, error) {
	if !j.isGraph(u) {
		return j.fileProvider.Serve(ctx, u, ex)
	}
	body, err := json.Marshal(j.comp.Graph)
	if err != nil {
		return plugins.Response{}, err
	}
	return plugins.Response{Body: body, ContentType: "application/json"}, nil
}

func (j *JSONProvider) isGraph(u *url.URL) bool {
	return j.comp.StripBasePath(u.Path) == "/"+compilation.GraphFile &&
		!isFile(j.comp.SourcePath(u.Path))
}

// NodeModulesProvider serves /node_modules/ paths from the project directory.
type NodeModulesProvider struct {
	comp *compilation.Compilation
}

// NewNodeModulesProvider creates the node_modules provider.
func NewNodeModulesProvider(comp *compilation.Compilation) *NodeModulesProvider {
	return &NodeModulesProvider{comp: comp}
}

func (n *NodeModulesProvider) ShouldServe(_ context.Context, u *url.URL, _ *plugins.Exchange) bool {
	return isNodeModule(u.Path) && n.locate(u.Path) != ""
}

func (n *NodeModulesProvider) Serve(_ context.Context, u *url.URL, _ *plugins.Exchange) (plugins.Response, error) {
	p := n.locate(u.Path)
	if p == "" {
		return plugins.Response{}, canopyerrors.NewIOError(canopyerrors.ErrCodeFileNotFound, "module not found", nil).WithFile(u.Path)
	}
	return readFile(p, !IsText(filepath.Ext(p)))
}

// locate finds the file for a module path, trying the path itself, then
// path.js and path/index.js.
func (n *NodeModulesProvider) locate(urlPath string) string {
	base := n.comp.SourcePath(urlPath)
	candidates := []string{base}
	if path.Ext(urlPath) == "" {
		candidates = append(candidates, base+".js", filepath.Join(base, "index.js"))
	}
	for _, c := range candidates {
		if isFile(c) {
			return c
		}
	}
	return ""
}

// OutputProvider serves the build output directory in production.
type OutputProvider struct {
	comp *compilation.Compilation
}

// NewOutputProvider creates the production output provider.
func NewOutputProvider(comp *compilation.Compilation) *OutputProvider {
	return &OutputProvider{comp: comp}
}

func (o *OutputProvider) ShouldServe(_ context.Context, u *url.URL, _ *plugins.Exchange) bool {
	return o.locate(u.Path) != ""
}

func (o *OutputProvider) Serve(_ context.Context, u *url.URL, _ *plugins.Exchange) (plugins.Response, error) {
	p := o.locate(u.Path)
	if p == "" {
		return plugins.Response{}, canopyerrors.NewIOError(canopyerrors.ErrCodeFileNotFound, "output file not found", nil).WithFile(u.Path)
	}
	return readFile(p, !IsText(filepath.Ext(p)))
}

func (o *OutputProvider) locate(urlPath string) string {
	clean := path.Clean("/" + o.comp.StripBasePath(urlPath))
	base := filepath.Join(o.comp.Context.OutputDir, filepath.FromSlash(clean))
	if !strings.HasPrefix(base, o.comp.Context.OutputDir) {
		return ""
	}
	candidates := []string{base}
	if path.Ext(clean) == "" {
		candidates = append(candidates, filepath.Join(base, "index.html"))
	}
	for _, c := range candidates {
		if isFile(c) {
			return c
		}
	}
	return ""
}
