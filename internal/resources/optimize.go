package resources

import (
	"context"
	"path"
	"strings"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func (h *HTMLProvider) ShouldOptimize(_ context.Context, outputPath, _ string) bool {
	return strings.HasSuffix(outputPath, ".html")
}

// Optimize points script and stylesheet tags at their bundled output
// according to the optimization mode of each tag.
func (h *HTMLProvider) Optimize(_ context.Context, outputPath, body string) (string, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", canopyerrors.NewBuildError(canopyerrors.ErrCodeInternalError, "cannot parse html", err).WithFile(outputPath)
	}

	var (
		head     *html.Node
		elements []*html.Node
	)
	walk(doc, func(n *html.Node) {
		if n.Type != html.ElementNode {
			return
		}
		switch n.DataAtom {
		case atom.Head:
			if head == nil {
				head = n
			}
		case atom.Script, atom.Link:
			elements = append(elements, n)
		}
	})

	var preloads []*html.Node
	seen := make(map[string]bool)
	addPreload := func(rel, href, as string) {
		if seen[href] {
			return
		}
		seen[href] = true
		link := &html.Node{Type: html.ElementNode, Data: "link", DataAtom: atom.Link}
		link.Attr = append(link.Attr, html.Attribute{Key: "rel", Val: rel}, html.Attribute{Key: "href", Val: href})
		if as != "" {
			link.Attr = append(link.Attr, html.Attribute{Key: "as", Val: as})
		}
		preloads = append(preloads, link)
	}

	for _, n := range elements {
		mode := h.tagMode(n)
		removeAttr(n, OptimizationAttr)

		if n.DataAtom == atom.Script {
			h.optimizeScript(n, mode, addPreload)
		} else if isStylesheet(n) {
			h.optimizeStyle(n, mode, addPreload)
		}
	}

	if head != nil {
		for _, link := range preloads {
			head.AppendChild(link)
		}
	}

	var out strings.Builder
	if err := html.Render(&out, doc); err != nil {
		return "", canopyerrors.NewBuildError(canopyerrors.ErrCodeInternalError, "cannot render html", err).WithFile(outputPath)
	}
	return out.String(), nil
}

func (h *HTMLProvider) optimizeScript(n *html.Node, mode string, addPreload func(rel, href, as string)) {
	typ, _ := attr(n, "type")
	if typ == "application/ld+json" || typ == "application/json" {
		return
	}
	if mode == config.OptimizationStatic {
		n.Parent.RemoveChild(n)
		return
	}

	src, ok := attr(n, "src")
	if !ok {
		return
	}
	record, found := LookupResource(h.comp, src)
	if !found || !record.Reconciled() {
		return
	}

	switch mode {
	case config.OptimizationInline:
		removeAttr(n, "src")
		setAttr(n, "type", "module")
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: record.OptimizedFileContents})
	case config.OptimizationNone:
		setAttr(n, "src", h.outputURL(record))
	default:
		href := h.outputURL(record)
		setAttr(n, "src", href)
		addPreload("modulepreload", href, "")
	}
}

func (h *HTMLProvider) optimizeStyle(n *html.Node, mode string, addPreload func(rel, href, as string)) {
	href, ok := attr(n, "href")
	if !ok {
		return
	}
	record, found := LookupResource(h.comp, href)
	if !found || !record.Reconciled() {
		return
	}

	switch mode {
	case config.OptimizationInline:
		style := &html.Node{Type: html.ElementNode, Data: "style", DataAtom: atom.Style}
		style.AppendChild(&html.Node{Type: html.TextNode, Data: record.OptimizedFileContents})
		n.Parent.InsertBefore(style, n)
		n.Parent.RemoveChild(n)
	case config.OptimizationNone:
		setAttr(n, "href", h.outputURL(record))
	default:
		out := h.outputURL(record)
		setAttr(n, "href", out)
		addPreload("preload", out, "style")
	}
}

func (h *HTMLProvider) tagMode(n *html.Node) string {
	if mode, ok := attr(n, OptimizationAttr); ok && mode != "" {
		return strings.ToLower(mode)
	}
	return h.comp.Config.Optimization
}

func (h *HTMLProvider) outputURL(record compilation.ResourceRecord) string {
	return h.comp.Config.BasePath + "/" + strings.TrimPrefix(record.OptimizedFileName, "/")
}

// LookupResource finds the record for a src or href referenced from a page,
// trying the path as written and then with a .js extension.
func LookupResource(comp *compilation.Compilation, ref string) (compilation.ResourceRecord, bool) {
	if !IsLocalRef(ref) {
		return compilation.ResourceRecord{}, false
	}
	refPath := stripQuery(ref)

	candidates := []string{comp.SourcePath(refPath)}
	if path.Ext(refPath) == "" {
		candidates = append(candidates, comp.SourcePath(refPath+".js"))
	}
	for _, c := range candidates {
		if record, ok := comp.Resources.Get(compilation.SourceURL(c).Path); ok {
			return record, true
		}
	}
	return compilation.ResourceRecord{}, false
}

// IsLocalRef reports whether ref names a file on this site.
func IsLocalRef(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "data:") {
		return false
	}
	return !strings.Contains(ref, "://")
}

func stripQuery(ref string) string {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return ref
}

func isStylesheet(n *html.Node) bool {
	rel, _ := attr(n, "rel")
	return n.DataAtom == atom.Link && strings.EqualFold(strings.TrimSpace(rel), "stylesheet")
}

func walk(n *html.Node, fn func(*html.Node)) {
	fn(n)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}
