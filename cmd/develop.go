package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/services"
)

var developCmd = &cobra.Command{
	Use:     "develop",
	Aliases: []string{"dev", "d"},
	Short:   "Start the development server with live reload",
	Long: `Serve the workspace through the resource pipeline. Pages are rendered
on request and connected browsers reload when a workspace file changes.
Metrics are exposed at /__canopy/metrics.

Examples:
  canopy develop                    # Serve on localhost:1984
  canopy develop --port 3000        # Serve on a different port
  canopy develop --hot-reload=false # Disable live reload`,
	RunE: runDevelop,
}

func init() {
	rootCmd.AddCommand(developCmd)

	developCmd.Flags().IntP("port", "p", 0, "Port to serve on (default 1984)")
	developCmd.Flags().String("host", "", "Host to bind to (default localhost)")
	developCmd.Flags().Bool("hot-reload", true, "Reload browsers when files change")
	cobra.CheckErr(bindFlags(developCmd.Flags(), map[string]string{
		"port":       "dev_server.port",
		"host":       "dev_server.host",
		"hot-reload": "dev_server.hot_reload",
	}))
}

func runDevelop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	return services.NewDevelopService(cfg,
		services.WithPlugins(userPlugins...),
		services.WithLogger(logger),
		services.WithRecorder(metrics.NewPrometheusRecorder(nil)),
	).Run(ctx)
}
