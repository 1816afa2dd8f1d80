package compilation

import (
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// NotFoundRoute is the reserved route whose page is written to 404.html at
// the output root instead of a route directory.
const NotFoundRoute = "/404/"

// Page is one routable unit of output.
type Page struct {
	ID         string         `yaml:"id" json:"id"`
	Route      string         `yaml:"route" json:"route"`
	OutputPath string         `yaml:"outputPath" json:"outputPath"`
	Filename   string         `yaml:"filename" json:"filename"`
	Title      string         `yaml:"title" json:"title"`
	Data       map[string]any `yaml:"data" json:"data"`
	IsSSR      bool           `yaml:"isSSR" json:"isSSR"`
	Template   string         `yaml:"template" json:"template"`
	Imports    []string       `yaml:"imports" json:"imports"`
}

// Prerender reports whether the page asks for browser prerendering through
// its frontmatter or, for page modules, an `export const prerender`.
func (p Page) Prerender() bool {
	if p.Data == nil {
		return false
	}
	switch v := p.Data["prerender"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true")
	default:
		return false
	}
}

// RouteToOutputPath maps a route to the file it is written to, relative to
// the output directory.
func RouteToOutputPath(route string) string {
	if route == NotFoundRoute {
		return "404.html"
	}
	trimmed := strings.Trim(route, "/")
	if trimmed == "" {
		return "index.html"
	}
	return path.Join(trimmed, "index.html")
}

// DefaultTitle derives a human title from a route, "/blog/first-post/"
// becoming "First Post".
func DefaultTitle(route string) string {
	trimmed := strings.Trim(route, "/")
	if trimmed == "" {
		return "Home"
	}
	segment := path.Base(trimmed)
	segment = strings.NewReplacer("-", " ", "_", " ").Replace(segment)
	return cases.Title(language.English).String(segment)
}

// RouteFromFile maps a path relative to the pages directory to its route.
func RouteFromFile(rel string) string {
	rel = strings.TrimSuffix(filepathToSlash(rel), path.Ext(rel))
	if rel == "index" {
		return "/"
	}
	rel = strings.TrimSuffix(rel, "/index")
	return "/" + rel + "/"
}

func filepathToSlash(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}
