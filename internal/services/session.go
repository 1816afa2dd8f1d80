// Package services wires the compilation, plugin registry and pipeline
// together for the build, develop and serve commands.
package services

import (
	"context"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
)

// session is the state every command starts from: a loaded compilation and
// the resource pipeline bound to it.
type session struct {
	comp     *compilation.Compilation
	registry *plugins.Registry
	renderer plugins.RendererProvider
	pipeline *pipeline.Pipeline
}

// openSession loads the compilation for cfg and instantiates the plugins of
// mode. Renderer plugins are instantiated first because the built-in HTML
// provider needs the renderer.
func openSession(ctx context.Context, cfg *config.Config, mode resources.Mode, user []plugins.Plugin, logger logging.Logger) (*session, error) {
	comp, err := compilation.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	renderer, err := findRenderer(ctx, comp, user, logger)
	if err != nil {
		return nil, err
	}

	registry, err := plugins.NewRegistry(resources.Defaults{Mode: mode, Renderer: renderer}.Plugins(), user, logger)
	if err != nil {
		return nil, err
	}
	registry.Disable(cfg.Plugins.Disabled...)

	sources, err := registry.Instantiate(ctx, comp, plugins.TypeSource)
	if err != nil {
		return nil, err
	}
	for _, inst := range sources {
		provider, ok := inst.Provider.(plugins.SourceProvider)
		if !ok {
			continue
		}
		pages, err := provider.Pages(ctx)
		if err != nil {
			return nil, err
		}
		comp.AddPages(pages)
		logger.Debug(ctx, "Added pages from source plugin", "plugin", inst.Name, "pages", len(pages))
	}

	instances, err := registry.Resources(ctx, comp)
	if err != nil {
		return nil, err
	}

	return &session{
		comp:     comp,
		registry: registry,
		renderer: renderer,
		pipeline: pipeline.New(instances, logger),
	}, nil
}

func findRenderer(ctx context.Context, comp *compilation.Compilation, user []plugins.Plugin, logger logging.Logger) (plugins.RendererProvider, error) {
	registry, err := plugins.NewRegistry(nil, user, logger)
	if err != nil {
		return nil, err
	}
	registry.Disable(comp.Config.Plugins.Disabled...)

	instances, err := registry.Instantiate(ctx, comp, plugins.TypeRenderer)
	if err != nil {
		return nil, err
	}

	var renderer plugins.RendererProvider
	for _, inst := range instances {
		provider, ok := inst.Provider.(plugins.RendererProvider)
		if !ok {
			logger.Warn(ctx, nil, "Renderer plugin does not implement RenderPage", "plugin", inst.Name)
			continue
		}
		if renderer != nil {
			logger.Warn(ctx, nil, "Ignoring additional renderer plugin", "plugin", inst.Name)
			continue
		}
		renderer = provider
	}
	return renderer, nil
}

// providers instantiates the plugins of type t.
func (s *session) providers(ctx context.Context, t plugins.Type) ([]plugins.Instance, error) {
	return s.registry.Instantiate(ctx, s.comp, t)
}
