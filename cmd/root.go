// Package cmd provides the command-line interface for canopy with
// configuration loaded from flags, CANOPY_ environment variables, a .env
// file and canopy.config.yml.
//
// Configuration precedence, highest first:
//
//  1. Command-line flags
//  2. CANOPY_ environment variables (CANOPY_DEV_SERVER_PORT, ...)
//  3. The config file named by --config or CANOPY_CONFIG_FILE, else
//     canopy.config.yml or .canopy.yml in the working directory
//  4. Defaults
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/plugins"
)

var (
	cfgFile string
	// configErr is set when an explicitly requested config file cannot be
	// read.
	configErr error

	userPlugins []plugins.Plugin
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Build, develop and serve sites from a plugin driven resource pipeline",
	Long: `canopy builds static, server rendered and prerendered sites.

Pages live in <workspace>/pages. Every request, in development and at
build time, flows through the same chain of resource plugins.

Quick Start:
  canopy init my-site          Scaffold a project
  canopy develop               Start the dev server with live reload
  canopy build                 Write the production site to the output dir
  canopy serve                 Serve the last build`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Option configures Execute.
type Option func(*executeOptions)

type executeOptions struct {
	plugins []plugins.Plugin
}

// WithPlugins registers Go plugins for every command, for programs that
// embed canopy in their own main package.
func WithPlugins(p ...plugins.Plugin) Option {
	return func(o *executeOptions) {
		o.plugins = append(o.plugins, p...)
	}
}

// Execute runs the root command. Errors are printed with their suggestions
// before being returned.
func Execute(opts ...Option) error {
	var o executeOptions
	for _, opt := range opts {
		opt(&o)
	}
	userPlugins = o.plugins

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", canopyerrors.FormatError(err))
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is canopy.config.yml, can also use CANOPY_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	cobra.CheckErr(bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log-level":  "log_level",
		"log-format": "log_format",
	}))
}

// initConfig loads .env, then the config file, then enables CANOPY_
// environment variables.
func initConfig() {
	configErr = nil

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Warning: failed to load .env:", err)
	}

	explicit := cfgFile
	if explicit == "" {
		explicit = os.Getenv("CANOPY_CONFIG_FILE")
	}
	if explicit != "" {
		viper.SetConfigFile(explicit)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("canopy.config")
	}

	viper.SetEnvPrefix("CANOPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err := viper.ReadInConfig()
	if err != nil && explicit == "" {
		viper.SetConfigName(".canopy")
		err = viper.ReadInConfig()
	}
	if err == nil {
		return
	}

	var notFound viper.ConfigFileNotFoundError
	switch {
	case explicit != "":
		configErr = canopyerrors.WrapConfig(err, canopyerrors.ErrCodeConfigInvalid, "failed to read config file").WithFile(explicit)
	case !errors.As(err, &notFound):
		configErr = canopyerrors.WrapConfig(err, canopyerrors.ErrCodeConfigInvalid, "failed to read config file")
	}
}

// loadConfig decodes the configuration. The project directory is the
// directory of the config file when one was read, else the working
// directory.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if used := viper.ConfigFileUsed(); used != "" {
		if _, statErr := os.Stat(used); statErr == nil {
			cfg.ProjectDirectory = filepath.Dir(used)
		}
	}
	return cfg, nil
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		return nil, canopyerrors.NewValidationError(canopyerrors.ErrCodeConfigInvalid, err.Error())
	}
	format := viper.GetString("log_format")
	if format != "text" && format != "json" {
		return nil, canopyerrors.NewValidationError(canopyerrors.ErrCodeConfigInvalid,
			fmt.Sprintf("unknown log format %q", format))
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	}), nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
