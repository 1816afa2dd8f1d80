// Package plugins defines the contracts canopy plugins implement and the
// registry that orders and instantiates them for a compilation.
//
// A plugin is a named factory of a given Type. What the factory returns is
// inspected by type assertion: a resource provider may implement any subset
// of Resolver, Server, Interceptor and Optimizer, and absence of a capability
// means the provider never applies at that stage.
package plugins

import (
	"context"
	"net/http"
	"net/url"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/evanw/esbuild/pkg/api"
)

// Type identifies the category of plugin.
type Type string

const (
	TypeResource Type = "resource"
	TypeServer   Type = "server"
	TypeBundler  Type = "bundler"
	TypeCopy     Type = "copy"
	TypeRenderer Type = "renderer"
	TypeAdapter  Type = "adapter"
	TypeSource   Type = "source"

	// TypeRollup is accepted as an alias of TypeBundler.
	TypeRollup Type = "rollup"
)

// IsValid returns true if the plugin type is recognized.
func (t Type) IsValid() bool {
	switch t.Canonical() {
	case TypeResource, TypeServer, TypeBundler, TypeCopy, TypeRenderer, TypeAdapter, TypeSource:
		return true
	default:
		return false
	}
}

// Canonical folds aliases onto their primary type.
func (t Type) Canonical() Type {
	if t == TypeRollup {
		return TypeBundler
	}
	return t
}

func (t Type) String() string {
	return string(t)
}

// Options is the free-form configuration handed to a plugin factory.
type Options map[string]interface{}

// Factory builds a provider bound to a compilation.
type Factory func(comp *compilation.Compilation, opts Options) (interface{}, error)

// Plugin is a configured plugin: its type, unique name and provider factory.
type Plugin struct {
	Type     Type
	Name     string
	Provider Factory
	Options  Options
}

// Exchange carries the request headers a provider sees and the response
// headers it may add to.
type Exchange struct {
	Request  http.Header
	Response http.Header
}

// NewExchange creates an exchange with empty header maps.
func NewExchange(request http.Header) *Exchange {
	if request == nil {
		request = http.Header{}
	}
	return &Exchange{Request: request, Response: http.Header{}}
}

// Response is the accumulator threaded through the serve and intercept
// stages. A nil Body means the provider did not set one.
type Response struct {
	Body        []byte
	ContentType string
	Binary      bool
}

// Merge shallow merges next over r: next's body (with its binary flag) wins
// when set, and next's content type wins when non-empty.
func (r Response) Merge(next Response) Response {
	out := r
	if next.Body != nil {
		out.Body = next.Body
		out.Binary = next.Binary
	}
	if next.ContentType != "" {
		out.ContentType = next.ContentType
	}
	return out
}

// Empty reports whether no provider produced a body.
func (r Response) Empty() bool {
	return r.Body == nil
}

// Resolver rewrites a request URL before it is served.
type Resolver interface {
	ShouldResolve(ctx context.Context, u *url.URL) bool
	Resolve(ctx context.Context, u *url.URL) (*url.URL, error)
}

// Server produces the body and content type for a URL.
type Server interface {
	ShouldServe(ctx context.Context, u *url.URL, ex *Exchange) bool
	Serve(ctx context.Context, u *url.URL, ex *Exchange) (Response, error)
}

// Interceptor post-processes a response after serving.
type Interceptor interface {
	ShouldIntercept(ctx context.Context, u *url.URL, resp Response, ex *Exchange) bool
	Intercept(ctx context.Context, u *url.URL, resp Response, ex *Exchange) (Response, error)
}

// Optimizer rewrites final HTML before it is written during a build.
type Optimizer interface {
	ShouldOptimize(ctx context.Context, outputPath string, body string) bool
	Optimize(ctx context.Context, outputPath string, body string) (string, error)
}

// ServerProvider is returned by server plugins. Start is called once the
// HTTP listener is bound and must return promptly.
type ServerProvider interface {
	Start(ctx context.Context) error
}

// RendererProvider replaces the default page rendering. When Prerender
// reports true it also replaces the browser prerender pass.
type RendererProvider interface {
	Prerender() bool
	RenderPage(ctx context.Context, page compilation.Page) (string, error)
}

// BundlerProvider contributes an esbuild plugin to the bundle step.
type BundlerProvider interface {
	EsbuildPlugin() api.Plugin
}

// CopyAsset is a file or directory copied verbatim into the output.
type CopyAsset struct {
	From string
	To   string
}

// CopyProvider lists assets to copy after rendering.
type CopyProvider interface {
	Assets(ctx context.Context) ([]CopyAsset, error)
}

// AdapterProvider reshapes the finished output for a hosting platform.
type AdapterProvider interface {
	Adapt(ctx context.Context) error
}

// SourceProvider contributes pages to the graph.
type SourceProvider interface {
	Pages(ctx context.Context) ([]compilation.Page, error)
}

// Capabilities lists the resource capabilities provider implements.
func Capabilities(provider interface{}) []string {
	var caps []string
	if _, ok := provider.(Resolver); ok {
		caps = append(caps, "resolve")
	}
	if _, ok := provider.(Server); ok {
		caps = append(caps, "serve")
	}
	if _, ok := provider.(Interceptor); ok {
		caps = append(caps, "intercept")
	}
	if _, ok := provider.(Optimizer); ok {
		caps = append(caps, "optimize")
	}
	return caps
}
