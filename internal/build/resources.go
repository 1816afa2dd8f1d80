package build

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
)

// ResourceScanner records every local script and stylesheet referenced by
// the pages of a compilation so the bundler knows its entry points.
type ResourceScanner struct {
	comp     *compilation.Compilation
	pipeline *pipeline.Pipeline
	logger   logging.Logger
}

// NewResourceScanner creates a scanner serving pages through pipe.
func NewResourceScanner(comp *compilation.Compilation, pipe *pipeline.Pipeline, logger logging.Logger) *ResourceScanner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &ResourceScanner{comp: comp, pipeline: pipe, logger: logger.WithComponent("scanner")}
}

// Scan serves every page in pages and records the resources it references.
// It returns the number of new records.
func (s *ResourceScanner) Scan(ctx context.Context, pages []compilation.Page) (int, error) {
	docs := make([]string, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	for i, page := range pages {
		g.Go(func() error {
			u := &url.URL{Path: s.comp.Config.BasePath + page.Route}
			_, resp, err := s.pipeline.Handle(gctx, u, plugins.NewExchange(nil))
			if err != nil {
				return err
			}
			docs[i] = string(resp.Body)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	// Pages are visited in graph order so the first page to reference an
	// asset decides its optimization mode.
	added := 0
	for i, doc := range docs {
		if doc == "" {
			continue
		}
		n, err := s.ScanDocument(doc)
		if err != nil {
			return added, canopyerrors.WrapBuild(err, canopyerrors.ErrCodeInternalError,
				"failed to scan page", "scanner").WithFile(pages[i].Route)
		}
		added += n
	}

	s.logger.Debug(ctx, "Scanned page resources", "pages", len(pages), "records", added)
	return added, nil
}

// ScanDocument records the resources referenced by one HTML document.
func (s *ResourceScanner) ScanDocument(doc string) (int, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return 0, err
	}

	added := 0
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if record, ok := s.recordFor(n); ok && s.comp.Resources.Put(record) {
				added++
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(root)
	return added, nil
}

func (s *ResourceScanner) recordFor(n *html.Node) (compilation.ResourceRecord, bool) {
	var (
		ref string
		typ compilation.ResourceType
	)
	switch {
	case n.DataAtom == atom.Script:
		ref = attrValue(n, "src")
		typ = compilation.ResourceScript
	case n.DataAtom == atom.Link && strings.EqualFold(strings.TrimSpace(attrValue(n, "rel")), "stylesheet"):
		ref = attrValue(n, "href")
		typ = compilation.ResourceStyle
	default:
		return compilation.ResourceRecord{}, false
	}
	if !resources.IsLocalRef(ref) {
		return compilation.ResourceRecord{}, false
	}

	file, ok := s.locate(ref)
	if !ok {
		return compilation.ResourceRecord{}, false
	}
	contents, err := os.ReadFile(file)
	if err != nil {
		return compilation.ResourceRecord{}, false
	}

	mode := strings.ToLower(attrValue(n, resources.OptimizationAttr))
	if mode == "" {
		mode = s.comp.Config.Optimization
	}

	return compilation.ResourceRecord{
		SourcePathURL: compilation.SourceURL(file),
		Type:          typ,
		Contents:      string(contents),
		RawAttributes: renderAttributes(n),
		Optimization:  mode,
	}, true
}

// locate maps a src or href to an existing file, trying a .js suffix for
// extensionless module paths.
func (s *ResourceScanner) locate(ref string) (string, bool) {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	candidates := []string{s.comp.SourcePath(ref)}
	if path.Ext(ref) == "" {
		candidates = append(candidates, s.comp.SourcePath(ref+".js"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, true
		}
	}
	return "", false
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func renderAttributes(n *html.Node) string {
	var buf bytes.Buffer
	for i, a := range n.Attr {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(a.Key)
		if a.Val != "" {
			buf.WriteString(`="`)
			buf.WriteString(html.EscapeString(a.Val))
			buf.WriteByte('"')
		}
	}
	return buf.String()
}
