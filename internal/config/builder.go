package config

import (
	"fmt"
	"time"
)

// ConfigBuilder provides a fluent interface for building configurations in
// code, for embedders calling cmd.Execute and for tests.
//
// Usage:
//
//	cfg, err := NewConfigBuilder().
//	    WithWorkspace("site").
//	    WithOptimization(OptimizationInline).
//	    Build()
type ConfigBuilder struct {
	config     *Config
	validators []ValidatorFunc
}

// ValidatorFunc represents a configuration validation function
type ValidatorFunc func(*Config) error

// NewConfigBuilder creates a new configuration builder seeded with defaults.
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		config: Default(),
	}
}

// WithProjectDirectory sets the directory every relative path resolves against.
func (cb *ConfigBuilder) WithProjectDirectory(dir string) *ConfigBuilder {
	cb.config.ProjectDirectory = dir
	return cb
}

// WithWorkspace sets the user workspace directory.
func (cb *ConfigBuilder) WithWorkspace(dir string) *ConfigBuilder {
	cb.config.Workspace = dir
	return cb
}

// WithOutputDir sets the build output directory.
func (cb *ConfigBuilder) WithOutputDir(dir string) *ConfigBuilder {
	cb.config.OutputDir = dir
	return cb
}

// WithBasePath sets the URL prefix pages are served under.
func (cb *ConfigBuilder) WithBasePath(basePath string) *ConfigBuilder {
	cb.config.BasePath = NormalizeBasePath(basePath)
	return cb
}

// WithDevServer sets the development server address.
func (cb *ConfigBuilder) WithDevServer(host string, port int) *ConfigBuilder {
	cb.config.DevServer.Host = host
	cb.config.DevServer.Port = port
	return cb
}

// WithPort sets the port `canopy serve` binds.
func (cb *ConfigBuilder) WithPort(port int) *ConfigBuilder {
	cb.config.Port = port
	return cb
}

// WithOptimization sets the global optimization mode.
func (cb *ConfigBuilder) WithOptimization(mode string) *ConfigBuilder {
	cb.config.Optimization = mode
	return cb
}

// WithPrerender enables prerendering of every page.
func (cb *ConfigBuilder) WithPrerender(enabled bool, timeout time.Duration) *ConfigBuilder {
	cb.config.Prerender = enabled
	if timeout > 0 {
		cb.config.PrerenderTimeout = timeout
	}
	return cb
}

// WithStrictBundle escalates unresolved import warnings to failures.
func (cb *ConfigBuilder) WithStrictBundle(strict bool) *ConfigBuilder {
	cb.config.StrictBundle = strict
	return cb
}

// WithPluginOptions sets the options passed to the named plugin.
func (cb *ConfigBuilder) WithPluginOptions(name string, opts PluginOptions) *ConfigBuilder {
	cb.config.Plugins.Options[name] = opts
	return cb
}

// WithDisabledPlugins disables plugins by name.
func (cb *ConfigBuilder) WithDisabledPlugins(names ...string) *ConfigBuilder {
	cb.config.Plugins.Disabled = append(cb.config.Plugins.Disabled, names...)
	return cb
}

// AddValidator adds a custom validation function
func (cb *ConfigBuilder) AddValidator(validator ValidatorFunc) *ConfigBuilder {
	cb.validators = append(cb.validators, validator)
	return cb
}

// Build validates and returns the configuration.
func (cb *ConfigBuilder) Build() (*Config, error) {
	if err := validateConfig(cb.config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	for _, validator := range cb.validators {
		if err := validator(cb.config); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
	}

	return cb.config, nil
}
