package compilation

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"gopkg.in/yaml.v3"
)

// GraphFile is the precomputed graph read from the scratch directory when
// present.
const GraphFile = "graph.json"

var frontmatterDelim = []byte("---")

// Frontmatter is the yaml header an HTML page may start with.
type Frontmatter struct {
	Title    string         `yaml:"title"`
	Template string         `yaml:"template"`
	Layout   string         `yaml:"layout"`
	Imports  []string       `yaml:"imports"`
	SSR      bool           `yaml:"ssr"`
	Data     map[string]any `yaml:",inline"`
}

// LoadGraph returns the page graph for ctx, preferring a graph file in the
// scratch directory over discovering pages on disk.
func LoadGraph(ctx Context, logger logging.Logger) ([]Page, error) {
	graphPath := filepath.Join(ctx.ScratchDir, GraphFile)
	if data, err := os.ReadFile(graphPath); err == nil {
		var pages []Page
		if err := yaml.Unmarshal(data, &pages); err != nil {
			return nil, canopyerrors.NewBuildError(canopyerrors.ErrCodeGraphInvalid, "cannot parse page graph", err).WithFile(graphPath)
		}
		for i := range pages {
			if pages[i].OutputPath == "" {
				pages[i].OutputPath = RouteToOutputPath(pages[i].Route)
			}
			if pages[i].ID == "" {
				pages[i].ID = pages[i].Route
			}
		}
		if logger != nil {
			logger.Debug(context.Background(), "Loaded page graph", "file", graphPath, "pages", len(pages))
		}
		return pages, nil
	}

	return DiscoverPages(ctx.PagesDir)
}

// DiscoverPages walks pagesDir: every .html file is a static page, every .js
// file outside api/ is a server rendered page.
func DiscoverPages(pagesDir string) ([]Page, error) {
	var pages []Page

	if _, err := os.Stat(pagesDir); os.IsNotExist(err) {
		return pages, nil
	}

	err := filepath.WalkDir(pagesDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(pagesDir, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel == "api" {
				return filepath.SkipDir
			}
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".html" && ext != ".js" {
			return nil
		}

		page, pageErr := pageFromFile(path, filepath.ToSlash(rel), ext == ".js")
		if pageErr != nil {
			return pageErr
		}
		pages = append(pages, page)
		return nil
	})
	if err != nil {
		return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeGraphInvalid, "failed to discover pages")
	}

	sort.Slice(pages, func(i, j int) bool { return pages[i].Route < pages[j].Route })
	return pages, nil
}

func pageFromFile(path, rel string, ssr bool) (Page, error) {
	route := RouteFromFile(rel)
	page := Page{
		ID:         rel,
		Route:      route,
		OutputPath: RouteToOutputPath(route),
		Filename:   rel,
		Title:      DefaultTitle(route),
		Data:       map[string]any{},
		IsSSR:      ssr,
		Template:   "page",
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return Page{}, err
	}
	if ssr {
		applyModuleExports(&page, content)
		return page, nil
	}

	fm, _, err := ParseFrontmatter(content)
	if err != nil {
		return Page{}, canopyerrors.NewBuildError(canopyerrors.ErrCodeGraphInvalid, "invalid frontmatter", err).WithFile(path)
	}
	if fm == nil {
		return page, nil
	}

	if fm.Title != "" {
		page.Title = fm.Title
	}
	if fm.Template != "" {
		page.Template = fm.Template
	} else if fm.Layout != "" {
		page.Template = fm.Layout
	}
	page.Imports = fm.Imports
	page.IsSSR = fm.SSR
	for k, v := range fm.Data {
		page.Data[k] = v
	}
	return page, nil
}

// moduleExportPattern matches top-level `export const name = value`
// declarations of page metadata with a literal value.
var moduleExportPattern = regexp.MustCompile(`(?m)^[ \t]*export[ \t]+const[ \t]+(prerender|title|template)[ \t]*=[ \t]*(true|false|"[^"\n]*"|'[^'\n]*')`)

// applyModuleExports reads page metadata declared by a server rendered page
// module.
func applyModuleExports(page *Page, content []byte) {
	for _, m := range moduleExportPattern.FindAllSubmatch(content, -1) {
		name, value := string(m[1]), string(m[2])
		switch name {
		case "prerender":
			page.Data["prerender"] = value == "true"
		case "title", "template":
			if value == "true" || value == "false" {
				continue
			}
			value = value[1 : len(value)-1]
			if name == "title" {
				page.Title = value
			} else {
				page.Template = value
			}
		}
	}
}

// ParseFrontmatter splits a leading "---" delimited yaml block from content.
// It returns a nil header when the file has none.
func ParseFrontmatter(content []byte) (*Frontmatter, []byte, error) {
	trimmed := bytes.TrimLeft(content, "\ufeff \t\r\n")
	if !bytes.HasPrefix(trimmed, frontmatterDelim) {
		return nil, content, nil
	}

	rest := trimmed[len(frontmatterDelim):]
	end := bytes.Index(rest, append([]byte("\n"), frontmatterDelim...))
	if end < 0 {
		return nil, content, nil
	}

	var fm Frontmatter
	if err := yaml.Unmarshal(rest[:end], &fm); err != nil {
		return nil, content, err
	}

	body := rest[end+1+len(frontmatterDelim):]
	return &fm, bytes.TrimLeft(body, "\r\n"), nil
}

func discoverAPIs(ctx Context) ([]API, error) {
	apiDir := filepath.Join(ctx.PagesDir, "api")
	entries, err := os.ReadDir(apiDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeGraphInvalid, "failed to read api directory")
	}

	var apis []API
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".js" {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".js")
		apis = append(apis, API{
			Name:       name,
			Route:      "/api/" + name,
			Filename:   filepath.Join(apiDir, entry.Name()),
			OutputPath: filepath.ToSlash(filepath.Join("api", name+".js")),
		})
	}
	return apis, nil
}
