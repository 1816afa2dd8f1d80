package plugins

import (
	"context"
	"fmt"
	"strings"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
)

// Instance is an instantiated provider.
type Instance struct {
	Name     string
	Type     Type
	Default  bool
	Provider interface{}
}

// Registry orders the built-in and user plugins of every type. Built-in
// plugins come first, user plugins after, each group in configuration order.
type Registry struct {
	defaults []Plugin
	user     []Plugin
	disabled map[string]bool
	logger   logging.Logger
}

// NewRegistry validates and stores the plugin lists.
func NewRegistry(defaults, user []Plugin, logger logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	seen := make(map[string]bool, len(defaults)+len(user))
	for _, list := range [][]Plugin{defaults, user} {
		for _, p := range list {
			if err := validatePlugin(p); err != nil {
				return nil, err
			}
			if seen[p.Name] {
				return nil, canopyerrors.NewConfigError(canopyerrors.ErrCodeConfigInvalid,
					fmt.Sprintf("plugin %q registered twice", p.Name))
			}
			seen[p.Name] = true
		}
	}

	return &Registry{
		defaults: defaults,
		user:     user,
		disabled: make(map[string]bool),
		logger:   logger.WithComponent("plugins"),
	}, nil
}

func validatePlugin(p Plugin) error {
	if strings.TrimSpace(p.Name) == "" {
		return canopyerrors.NewConfigError(canopyerrors.ErrCodeConfigInvalid, "plugin name is required")
	}
	if !p.Type.IsValid() {
		return canopyerrors.NewConfigError(canopyerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("plugin %q has invalid type %q", p.Name, p.Type))
	}
	if p.Provider == nil {
		return canopyerrors.NewConfigError(canopyerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("plugin %q has no provider", p.Name))
	}
	return nil
}

// Disable excludes plugins by name from every later lookup.
func (r *Registry) Disable(names ...string) {
	for _, name := range names {
		r.disabled[name] = true
	}
}

// OfType returns the enabled plugins of type t, built-ins first.
func (r *Registry) OfType(t Type) []Plugin {
	t = t.Canonical()
	var out []Plugin
	for _, list := range [][]Plugin{r.defaults, r.user} {
		for _, p := range list {
			if p.Type.Canonical() == t && !r.disabled[p.Name] {
				out = append(out, p)
			}
		}
	}
	return out
}

// Has reports whether any enabled plugin of type t is configured.
func (r *Registry) Has(t Type) bool {
	return len(r.OfType(t)) > 0
}

// IsDefault reports whether name is a built-in plugin.
func (r *Registry) IsDefault(name string) bool {
	for _, p := range r.defaults {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Instantiate calls the factory of every enabled plugin of type t once.
// Options from the compilation config override the plugin's own options.
func (r *Registry) Instantiate(ctx context.Context, comp *compilation.Compilation, t Type) ([]Instance, error) {
	plugins := r.OfType(t)
	instances := make([]Instance, 0, len(plugins))

	for _, p := range plugins {
		opts := Options{}
		for k, v := range p.Options {
			opts[k] = v
		}
		if comp != nil && comp.Config != nil {
			for k, v := range comp.Config.OptionsFor(p.Name) {
				opts[k] = v
			}
		}

		provider, err := p.Provider(comp, opts)
		if err != nil {
			return nil, canopyerrors.NewPluginError(canopyerrors.ErrCodePluginFactory, p.Name,
				"failed to instantiate plugin", err)
		}
		if provider == nil {
			r.logger.Warn(ctx, nil, "Plugin factory returned no provider", "plugin", p.Name, "type", t)
			continue
		}

		instances = append(instances, Instance{
			Name:     p.Name,
			Type:     t.Canonical(),
			Default:  r.IsDefault(p.Name),
			Provider: provider,
		})
	}

	return instances, nil
}

// Resources instantiates the resource providers. A user provider that
// implements none of the resource capabilities is kept but reported.
func (r *Registry) Resources(ctx context.Context, comp *compilation.Compilation) ([]Instance, error) {
	instances, err := r.Instantiate(ctx, comp, TypeResource)
	if err != nil {
		return nil, err
	}

	for _, inst := range instances {
		if inst.Default || len(Capabilities(inst.Provider)) > 0 {
			continue
		}
		warning := canopyerrors.NewPluginError(canopyerrors.ErrCodePluginContract, inst.Name,
			"resource provider implements none of resolve, serve, intercept, optimize", nil).
			WithSuggestion("implement ShouldServe/Serve or another capability pair")
		r.logger.Warn(ctx, warning, "Resource plugin does not satisfy the provider contract", "plugin", inst.Name)
	}

	return instances, nil
}
