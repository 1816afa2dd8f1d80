// Package config provides configuration management for canopy using Viper
// for loading from files, environment variables, and command-line flags.
//
// Values come from canopy.config.yml (or .canopy.yml), CANOPY_ prefixed
// environment variables and flags bound by the cmd package. Load applies
// defaults for anything left unset and validates the result.
package config

import (
	"fmt"
	"strings"
	"time"

	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/spf13/viper"
)

// Optimization modes control how bundled script and style references are
// written into the final HTML.
const (
	OptimizationDefault = "default"
	OptimizationNone    = "none"
	OptimizationInline  = "inline"
	OptimizationStatic  = "static"
)

// Default values applied by Load.
const (
	DefaultWorkspace            = "src"
	DefaultOutputDir            = "public"
	DefaultScratchDir           = ".canopy"
	DefaultDevPort              = 1984
	DefaultDevHost              = "localhost"
	DefaultServePort            = 8080
	DefaultPrerenderTimeout     = 10 * time.Second
	DefaultPrerenderConcurrency = 4
)

type Config struct {
	Workspace            string          `yaml:"workspace" mapstructure:"workspace"`
	OutputDir            string          `yaml:"output_dir" mapstructure:"output_dir"`
	ScratchDir           string          `yaml:"scratch_dir" mapstructure:"scratch_dir"`
	BasePath             string          `yaml:"base_path" mapstructure:"base_path"`
	DevServer            DevServerConfig `yaml:"dev_server" mapstructure:"dev_server"`
	Port                 int             `yaml:"port" mapstructure:"port"`
	Optimization         string          `yaml:"optimization" mapstructure:"optimization"`
	Prerender            bool            `yaml:"prerender" mapstructure:"prerender"`
	PrerenderTimeout     time.Duration   `yaml:"prerender_timeout" mapstructure:"prerender_timeout"`
	PrerenderConcurrency int             `yaml:"prerender_concurrency" mapstructure:"prerender_concurrency"`
	BrowserPath          string          `yaml:"browser_path" mapstructure:"browser_path"`
	StrictBundle         bool            `yaml:"strict_bundle" mapstructure:"strict_bundle"`
	Plugins              PluginsConfig   `yaml:"plugins" mapstructure:"plugins"`
	ProjectDirectory     string          `yaml:"-" mapstructure:"-"` // resolved at runtime, not from config file
}

type DevServerConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	Host      string `yaml:"host" mapstructure:"host"`
	HotReload bool   `yaml:"hot_reload" mapstructure:"hot_reload"`
}

type PluginsConfig struct {
	Disabled []string                  `yaml:"disabled" mapstructure:"disabled"`
	Options  map[string]PluginOptions `yaml:"options" mapstructure:"options"`
}

// PluginOptions is the free-form option map handed to a plugin factory.
type PluginOptions map[string]interface{}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, func(string) bool { return false })
	return cfg
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, canopyerrors.WrapConfig(err, canopyerrors.ErrCodeConfigInvalid, "failed to decode configuration")
	}

	// Booleans default to true only when absent, so ask viper rather than
	// trusting the zero value.
	applyDefaults(&config, viper.IsSet)

	if viper.IsSet("plugins.disabled") {
		config.Plugins.Disabled = viper.GetStringSlice("plugins.disabled")
	}

	if err := validateConfig(&config); err != nil {
		return nil, canopyerrors.WrapConfig(err, canopyerrors.ErrCodeConfigInvalid, "invalid configuration")
	}

	return &config, nil
}

func applyDefaults(config *Config, isSet func(string) bool) {
	if config.Workspace == "" {
		config.Workspace = DefaultWorkspace
	}
	if config.OutputDir == "" {
		config.OutputDir = DefaultOutputDir
	}
	if config.ScratchDir == "" {
		config.ScratchDir = DefaultScratchDir
	}
	config.BasePath = NormalizeBasePath(config.BasePath)

	if config.DevServer.Port == 0 && !isSet("dev_server.port") {
		config.DevServer.Port = DefaultDevPort
	}
	if config.DevServer.Host == "" {
		config.DevServer.Host = DefaultDevHost
	}
	if !isSet("dev_server.hot_reload") {
		config.DevServer.HotReload = true
	}
	if config.Port == 0 && !isSet("port") {
		config.Port = DefaultServePort
	}

	if config.Optimization == "" {
		config.Optimization = OptimizationDefault
	}
	config.Optimization = strings.ToLower(config.Optimization)

	if config.PrerenderTimeout <= 0 {
		config.PrerenderTimeout = DefaultPrerenderTimeout
	}
	if config.PrerenderConcurrency <= 0 {
		config.PrerenderConcurrency = DefaultPrerenderConcurrency
	}

	if config.Plugins.Options == nil {
		config.Plugins.Options = make(map[string]PluginOptions)
	}
}

// NormalizeBasePath turns "blog/", "/blog" and "blog" into "/blog". The root
// base path is the empty string.
func NormalizeBasePath(basePath string) string {
	trimmed := strings.Trim(strings.TrimSpace(basePath), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

// PluginEnabled reports whether name is absent from plugins.disabled.
func (c *Config) PluginEnabled(name string) bool {
	for _, disabled := range c.Plugins.Disabled {
		if disabled == name {
			return false
		}
	}
	return true
}

// OptionsFor returns the configured options for a plugin, never nil.
func (c *Config) OptionsFor(name string) PluginOptions {
	if opts, ok := c.Plugins.Options[name]; ok && opts != nil {
		return opts
	}
	return PluginOptions{}
}

// DevServerAddr is the host:port the development server binds.
func (c *Config) DevServerAddr() string {
	return fmt.Sprintf("%s:%d", c.DevServer.Host, c.DevServer.Port)
}
