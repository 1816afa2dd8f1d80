package resources

import (
	"context"
	"net/url"
	"path"

	"github.com/conneroisu/canopy/internal/compilation"
)

// Resolver appends a missing .js extension to bare module imports.
type Resolver struct {
	comp *compilation.Compilation
}

// NewResolver creates the standard resolver.
func NewResolver(comp *compilation.Compilation) *Resolver {
	return &Resolver{comp: comp}
}

func (r *Resolver) ShouldResolve(_ context.Context, u *url.URL) bool {
	if path.Ext(u.Path) != "" || isNodeModule(u.Path) || u.Path == "" || u.Path[len(u.Path)-1] == '/' {
		return false
	}
	if _, ok := r.comp.PageByRoute(u.Path); ok {
		return false
	}
	return isFile(r.comp.SourcePath(u.Path + ".js"))
}

func (r *Resolver) Resolve(_ context.Context, u *url.URL) (*url.URL, error) {
	next := *u
	next.Path = u.Path + ".js"
	next.RawPath = ""
	return &next, nil
}
