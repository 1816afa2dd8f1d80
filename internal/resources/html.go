package resources

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/a-h/templ"
	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/plugins"
)

// ContentOutlet marks where a layout receives the page body.
const ContentOutlet = "<content-outlet></content-outlet>"

var documentPattern = regexp.MustCompile(`(?i)^\s*(<!doctype[^>]*>\s*)?<html[\s>]`)

// HTMLProvider serves pages and optimizes the HTML written by builds.
type HTMLProvider struct {
	comp     *compilation.Compilation
	renderer plugins.RendererProvider
	ssrOnly  bool
}

// NewHTMLProvider creates the standard HTML provider. With ssrOnly set it
// only serves server rendered pages, leaving static pages to the build
// output.
func NewHTMLProvider(comp *compilation.Compilation, renderer plugins.RendererProvider, ssrOnly bool) *HTMLProvider {
	return &HTMLProvider{comp: comp, renderer: renderer, ssrOnly: ssrOnly}
}

func (h *HTMLProvider) ShouldServe(_ context.Context, u *url.URL, _ *plugins.Exchange) bool {
	page, ok := h.comp.PageByRoute(u.Path)
	if !ok {
		return false
	}
	return !h.ssrOnly || page.IsSSR
}

func (h *HTMLProvider) Serve(ctx context.Context, u *url.URL, _ *plugins.Exchange) (plugins.Response, error) {
	page, ok := h.comp.PageByRoute(u.Path)
	if !ok {
		return plugins.Response{}, canopyerrors.NewValidationError(canopyerrors.ErrCodePageNotFound,
			fmt.Sprintf("no page for %s", u.Path))
	}

	body, err := h.RenderPage(ctx, page)
	if err != nil {
		return plugins.Response{}, err
	}
	return plugins.Response{Body: []byte(body), ContentType: "text/html"}, nil
}

// RenderPage produces the full HTML document for page.
func (h *HTMLProvider) RenderPage(ctx context.Context, page compilation.Page) (string, error) {
	body, err := h.pageBody(ctx, page)
	if err != nil {
		return "", err
	}

	doc := body
	if !documentPattern.MatchString(body) {
		doc, err = h.wrapLayout(ctx, page, body)
		if err != nil {
			return "", err
		}
	}

	if !strings.Contains(strings.ToLower(doc), "<title") && page.Title != "" {
		doc = insertBefore(doc, "</head>", "<title>"+templ.EscapeString(page.Title)+"</title>")
	}

	var scripts strings.Builder
	for _, src := range page.Imports {
		src = h.withBasePath(src)
		if strings.Contains(doc, `src="`+src+`"`) {
			continue
		}
		fmt.Fprintf(&scripts, `<script type="module" src="%s"></script>`, templ.EscapeString(src))
	}
	if scripts.Len() > 0 {
		doc = insertBefore(doc, "</head>", scripts.String())
	}

	return doc, nil
}

func (h *HTMLProvider) pageBody(ctx context.Context, page compilation.Page) (string, error) {
	if page.IsSSR {
		if h.renderer != nil {
			body, err := h.renderer.RenderPage(ctx, page)
			if err != nil {
				return "", canopyerrors.WrapProvider(err, "renderer", "render").WithFile(page.Route)
			}
			return body, nil
		}
		// Without a renderer a page module renders itself in the browser.
		// HTML pages marked ssr fall through to their file contents.
		if filepath.Ext(page.Filename) == ".js" {
			src := h.withBasePath("/pages/" + filepath.ToSlash(page.Filename))
			return fmt.Sprintf(`<script type="module" src="%s"></script>`, templ.EscapeString(src)), nil
		}
	}

	if page.Filename == "" {
		if body, ok := page.Data["body"].(string); ok {
			return body, nil
		}
		return "", nil
	}

	file := page.Filename
	if !filepath.IsAbs(file) {
		file = filepath.Join(h.comp.Context.PagesDir, filepath.FromSlash(file))
	}
	content, err := os.ReadFile(file)
	if err != nil {
		return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeFileNotFound, "cannot read page").WithFile(file)
	}

	_, body, err := compilation.ParseFrontmatter(content)
	if err != nil {
		return "", canopyerrors.NewBuildError(canopyerrors.ErrCodeGraphInvalid, "invalid frontmatter", err).WithFile(file)
	}
	return string(body), nil
}

func (h *HTMLProvider) wrapLayout(ctx context.Context, page compilation.Page, body string) (string, error) {
	layout, err := h.loadLayout(page)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := layoutComponent(layout).Render(templ.WithChildren(ctx, templ.Raw(body)), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (h *HTMLProvider) loadLayout(page compilation.Page) (string, error) {
	template := page.Template
	if template == "" {
		template = "page"
	}
	for _, name := range []string{template, "app"} {
		file := filepath.Join(h.comp.Context.LayoutsDir, name+".html")
		content, err := os.ReadFile(file)
		if err == nil {
			return string(content), nil
		}
		if !os.IsNotExist(err) {
			return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeFileNotFound, "cannot read layout").WithFile(file)
		}
	}
	return documentShell(page.Title), nil
}

// layoutComponent renders layout with the children in ctx placed at the
// content outlet, or before </body> when the layout has none.
func layoutComponent(layout string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		before, after, found := strings.Cut(layout, ContentOutlet)
		if !found {
			idx := strings.LastIndex(strings.ToLower(layout), "</body>")
			if idx < 0 {
				idx = len(layout)
			}
			before, after = layout[:idx], layout[idx:]
		}
		if _, err := io.WriteString(w, before); err != nil {
			return err
		}
		if err := templ.GetChildren(ctx).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, after)
		return err
	})
}

// documentShell is the layout used when the workspace defines none.
func documentShell(title string) string {
	return "<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n" +
		"<meta charset=\"utf-8\">\n" +
		"<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n" +
		"<title>" + templ.EscapeString(title) + "</title>\n" +
		"</head>\n<body>\n" + ContentOutlet + "\n</body>\n</html>\n"
}

func (h *HTMLProvider) withBasePath(src string) string {
	if strings.HasPrefix(src, "/") && !strings.HasPrefix(src, "//") {
		return h.comp.Config.BasePath + src
	}
	return src
}

// insertBefore inserts snippet before the last occurrence of closing tag,
// matched case-insensitively. Without the tag the snippet is appended.
func insertBefore(doc, tag, snippet string) string {
	idx := strings.LastIndex(strings.ToLower(doc), strings.ToLower(tag))
	if idx < 0 {
		return doc + snippet
	}
	return doc[:idx] + snippet + doc[idx:]
}
