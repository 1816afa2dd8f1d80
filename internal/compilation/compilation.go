// Package compilation holds the build context shared by every pipeline
// stage: resolved configuration, filesystem roots, the page graph, tracked
// resources and the manifest of extra entry points.
package compilation

import (
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
)

// Context holds the absolute filesystem roots of a compilation.
type Context struct {
	ProjectDirectory string
	UserWorkspace    string
	PagesDir         string
	LayoutsDir       string
	OutputDir        string
	ScratchDir       string
}

// API is a server handler bundled to output/api/<name>.js.
type API struct {
	Name       string `json:"name"`
	Route      string `json:"route"`
	Filename   string `json:"filename"`
	OutputPath string `json:"outputPath"`
}

// Manifest lists generated entry points that are not pages.
type Manifest struct {
	APIs map[string]API
}

// Compilation is created once per command and handed to every plugin.
type Compilation struct {
	Config    *config.Config
	Context   Context
	Graph     []Page
	Manifest  Manifest
	Resources *ResourceStore
	BuildID   string
}

// New resolves the filesystem context for cfg and loads the page graph.
func New(cfg *config.Config, logger logging.Logger) (*Compilation, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	ctx, err := resolveContext(cfg)
	if err != nil {
		return nil, err
	}

	comp := &Compilation{
		Config:    cfg,
		Context:   ctx,
		Resources: NewResourceStore(),
		Manifest:  Manifest{APIs: make(map[string]API)},
	}

	graph, err := LoadGraph(ctx, logger)
	if err != nil {
		return nil, err
	}
	comp.Graph = graph

	apis, err := discoverAPIs(ctx)
	if err != nil {
		return nil, err
	}
	for _, api := range apis {
		comp.Manifest.APIs[api.Route] = api
	}

	return comp, nil
}

func resolveContext(cfg *config.Config) (Context, error) {
	project := cfg.ProjectDirectory
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Context{}, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "cannot determine working directory")
		}
		project = wd
	}

	project, err := filepath.Abs(project)
	if err != nil {
		return Context{}, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "cannot resolve project directory")
	}

	workspace := filepath.Join(project, cfg.Workspace)
	return Context{
		ProjectDirectory: project,
		UserWorkspace:    workspace,
		PagesDir:         filepath.Join(workspace, "pages"),
		LayoutsDir:       filepath.Join(workspace, "layouts"),
		OutputDir:        filepath.Join(project, cfg.OutputDir),
		ScratchDir:       filepath.Join(project, cfg.ScratchDir),
	}, nil
}

// WithGraph returns a shallow copy of the compilation viewing pages instead
// of the full graph. The receiver is never modified.
func (c *Compilation) WithGraph(pages []Page) *Compilation {
	view := *c
	view.Graph = pages
	return &view
}

// Filter returns a new slice of the pages matching pred.
func (c *Compilation) Filter(pred func(Page) bool) []Page {
	out := make([]Page, 0, len(c.Graph))
	for _, page := range c.Graph {
		if pred(page) {
			out = append(out, page)
		}
	}
	return out
}

// AddPages appends pages contributed by source plugins. Routes already in
// the graph win.
func (c *Compilation) AddPages(pages []Page) {
	seen := make(map[string]bool, len(c.Graph))
	for _, page := range c.Graph {
		seen[page.Route] = true
	}
	for _, page := range pages {
		if page.Route == "" || seen[page.Route] {
			continue
		}
		if page.OutputPath == "" {
			page.OutputPath = RouteToOutputPath(page.Route)
		}
		if page.ID == "" {
			page.ID = page.Route
		}
		seen[page.Route] = true
		c.Graph = append(c.Graph, page)
	}
}

// PageByRoute finds the page for a request path. The configured base path
// is stripped first and a missing trailing slash is tolerated.
func (c *Compilation) PageByRoute(requestPath string) (Page, bool) {
	route := c.StripBasePath(requestPath)
	if !strings.HasSuffix(route, "/") && path.Ext(route) == "" {
		route += "/"
	}
	if strings.HasSuffix(route, "/index.html") {
		route = strings.TrimSuffix(route, "index.html")
	}
	for _, page := range c.Graph {
		if page.Route == route {
			return page, true
		}
	}
	return Page{}, false
}

// StripBasePath removes the configured base path prefix from a URL path.
func (c *Compilation) StripBasePath(urlPath string) string {
	base := c.Config.BasePath
	if base == "" || !strings.HasPrefix(urlPath, base) {
		return urlPath
	}
	stripped := strings.TrimPrefix(urlPath, base)
	if !strings.HasPrefix(stripped, "/") {
		stripped = "/" + stripped
	}
	return stripped
}

// SourcePath maps a URL path referenced from a page to the absolute file it
// names. Paths under /node_modules/ resolve against the project directory,
// everything else against the workspace.
func (c *Compilation) SourcePath(urlPath string) string {
	clean := path.Clean("/" + c.StripBasePath(urlPath))
	if strings.HasPrefix(clean, "/node_modules/") {
		return filepath.Join(c.Context.ProjectDirectory, filepath.FromSlash(clean))
	}
	return filepath.Join(c.Context.UserWorkspace, filepath.FromSlash(clean))
}

// SourceURL returns the file URL used as a resource record key.
func SourceURL(absPath string) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}
}

// OutputFile returns the absolute path a page is written to.
func (c *Compilation) OutputFile(page Page) string {
	outputPath := page.OutputPath
	if outputPath == "" {
		outputPath = RouteToOutputPath(page.Route)
	}
	return filepath.Join(c.Context.OutputDir, filepath.FromSlash(outputPath))
}

// URL builds the address of route on the development server.
func (c *Compilation) URL(host string, port int, route string) string {
	return fmt.Sprintf("http://%s:%d%s%s", host, port, c.Config.BasePath, route)
}
