package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve the last build",
	Long: `Serve the output directory of the last build. Server plugins are
started alongside the file server. Fails if there is no build output.

Examples:
  canopy build && canopy serve     # Build, then serve on port 8080
  canopy serve --port 9000         # Serve on a different port`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 0, "Port to serve on (default 8080)")
	cobra.CheckErr(bindFlags(serveCmd.Flags(), map[string]string{
		"port": "port",
	}))
}

func runServe(cmd *cobra.Command, args []string) error {
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

	return services.NewServeService(cfg,
		services.WithPlugins(userPlugins...),
		services.WithLogger(logger),
		services.WithRecorder(metrics.NewPrometheusRecorder(nil)),
	).Run(ctx)
}
