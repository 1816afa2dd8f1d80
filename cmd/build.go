package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/canopy/internal/services"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the site into the output directory",
	Long: `Build every page of the workspace into the output directory.

Static pages are rendered through the resource pipeline, scripts and styles
are bundled and fingerprinted, prerendered pages are serialized by a
headless browser and server rendered pages are listed in manifest.json.

Examples:
  canopy build                        # Build with canopy.config.yml
  canopy build --clean                # Remove the output directory first
  canopy build --prerender            # Prerender every page
  canopy build --optimization inline  # Inline bundled scripts and styles
  canopy build --output dist          # Build to a specific directory`,
	RunE: runBuild,
}

var buildClean bool

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().BoolVar(&buildClean, "clean", false, "Remove the output directory before building")
	buildCmd.Flags().StringP("output", "o", "", "Output directory")
	buildCmd.Flags().String("base-path", "", "URL prefix the site is served under")
	buildCmd.Flags().String("optimization", "", "Optimization mode (default, none, inline, static)")
	buildCmd.Flags().Bool("prerender", false, "Prerender every page with a headless browser")
	buildCmd.Flags().Bool("strict", false, "Fail the build on unresolved imports")
	cobra.CheckErr(bindFlags(buildCmd.Flags(), map[string]string{
		"output":       "output_dir",
		"base-path":    "base_path",
		"optimization": "optimization",
		"prerender":    "prerender",
		"strict":       "strict_bundle",
	}))
}

func runBuild(cmd *cobra.Command, args []string) error {
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

	service := services.NewBuildService(cfg,
		services.WithBuildPlugins(userPlugins...),
		services.WithBuildLogger(logger),
	)
	result, err := service.Build(ctx, services.BuildOptions{Clean: buildClean})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Built %d pages in %s (build %s)\n", result.Pages, result.Duration.Round(time.Millisecond), result.BuildID)
	if result.Prerendered > 0 {
		fmt.Fprintf(out, "  prerendered: %d\n", result.Prerendered)
	}
	if result.SSR > 0 {
		fmt.Fprintf(out, "  server rendered: %d (see %s)\n", result.SSR, result.Manifest)
	}
	if result.Bundle != nil && result.Bundle.Entries > 0 {
		fmt.Fprintf(out, "  bundled: %d entries\n", result.Bundle.Entries)
	}
	if len(result.Failed) > 0 {
		fmt.Fprintf(out, "  failed: %d\n", len(result.Failed))
		for _, page := range result.Failed {
			fmt.Fprintf(out, "    %s: %v\n", page.Route, page.Err)
		}
	}
	return nil
}
