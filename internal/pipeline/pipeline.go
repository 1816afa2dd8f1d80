// Package pipeline folds a request or a rendered page through the ordered
// resource providers. Every stage visits providers strictly left to right
// and each provider sees the output of the previous one.
package pipeline

import (
	"context"
	"net/url"

	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/plugins"
)

// Stage names used in errors and logs.
const (
	StageResolve   = "resolve"
	StageServe     = "serve"
	StageIntercept = "intercept"
	StageOptimize  = "optimize"
)

// Pipeline holds the instantiated resource providers in registry order.
type Pipeline struct {
	providers []plugins.Instance
	logger    logging.Logger
}

// New creates a pipeline over providers. The slice is copied.
func New(providers []plugins.Instance, logger logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pipeline{
		providers: append([]plugins.Instance(nil), providers...),
		logger:    logger.WithComponent("pipeline"),
	}
}

// Providers returns the providers in fold order.
func (p *Pipeline) Providers() []plugins.Instance {
	return append([]plugins.Instance(nil), p.providers...)
}

// Only returns a pipeline restricted to the providers keep accepts.
func (p *Pipeline) Only(keep func(plugins.Instance) bool) *Pipeline {
	var out []plugins.Instance
	for _, inst := range p.providers {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	return &Pipeline{providers: out, logger: p.logger}
}

// Find returns the provider registered under name.
func (p *Pipeline) Find(name string) (plugins.Instance, bool) {
	for _, inst := range p.providers {
		if inst.Name == name {
			return inst, true
		}
	}
	return plugins.Instance{}, false
}

// NonDefault keeps user supplied providers.
func NonDefault(inst plugins.Instance) bool {
	return !inst.Default
}

// Resolve lets each resolver in turn rewrite the URL.
func (p *Pipeline) Resolve(ctx context.Context, u *url.URL) (*url.URL, error) {
	current := u
	for _, inst := range p.providers {
		resolver, ok := inst.Provider.(plugins.Resolver)
		if !ok || !resolver.ShouldResolve(ctx, current) {
			continue
		}
		next, err := resolver.Resolve(ctx, current)
		if err != nil {
			return nil, canopyerrors.WrapProvider(err, inst.Name, StageResolve)
		}
		if next != nil {
			current = next
		}
	}
	return current, nil
}

// Serve merges the response of every provider that claims the URL into
// initial. Later providers win on conflicting fields.
func (p *Pipeline) Serve(ctx context.Context, u *url.URL, ex *plugins.Exchange, initial plugins.Response) (plugins.Response, error) {
	acc := initial
	for _, inst := range p.providers {
		server, ok := inst.Provider.(plugins.Server)
		if !ok || !server.ShouldServe(ctx, u, ex) {
			continue
		}
		resp, err := server.Serve(ctx, u, ex)
		if err != nil {
			return plugins.Response{}, canopyerrors.WrapProvider(err, inst.Name, StageServe)
		}
		acc = acc.Merge(resp)
	}
	return acc, nil
}

// Intercept folds the accumulated response through every interceptor.
func (p *Pipeline) Intercept(ctx context.Context, u *url.URL, ex *plugins.Exchange, acc plugins.Response) (plugins.Response, error) {
	for _, inst := range p.providers {
		interceptor, ok := inst.Provider.(plugins.Interceptor)
		if !ok || !interceptor.ShouldIntercept(ctx, u, acc, ex) {
			continue
		}
		resp, err := interceptor.Intercept(ctx, u, acc, ex)
		if err != nil {
			return plugins.Response{}, canopyerrors.WrapProvider(err, inst.Name, StageIntercept)
		}
		acc = acc.Merge(resp)
	}
	return acc, nil
}

// Optimize folds final HTML through every optimizer.
func (p *Pipeline) Optimize(ctx context.Context, outputPath, body string) (string, error) {
	for _, inst := range p.providers {
		optimizer, ok := inst.Provider.(plugins.Optimizer)
		if !ok || !optimizer.ShouldOptimize(ctx, outputPath, body) {
			continue
		}
		next, err := optimizer.Optimize(ctx, outputPath, body)
		if err != nil {
			return "", canopyerrors.WrapProvider(err, inst.Name, StageOptimize)
		}
		body = next
	}
	return body, nil
}

// Handle runs resolve, serve and intercept for one request and returns the
// resolved URL with the final accumulator.
func (p *Pipeline) Handle(ctx context.Context, u *url.URL, ex *plugins.Exchange) (*url.URL, plugins.Response, error) {
	resolved, err := p.Resolve(ctx, u)
	if err != nil {
		return nil, plugins.Response{}, err
	}

	resp, err := p.Serve(ctx, resolved, ex, plugins.Response{})
	if err != nil {
		return resolved, plugins.Response{}, err
	}

	resp, err = p.Intercept(ctx, resolved, ex, resp)
	if err != nil {
		return resolved, plugins.Response{}, err
	}

	p.logger.Debug(ctx, "Request handled",
		"url", resolved.String(),
		"content_type", resp.ContentType,
		"bytes", len(resp.Body),
	)
	return resolved, resp, nil
}
