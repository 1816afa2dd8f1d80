package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/canopy/internal/scaffolding"
)

var initCmd = &cobra.Command{
	Use:     "init [dir]",
	Aliases: []string{"i"},
	Short:   "Scaffold a new canopy project",
	Long: `Write a starter workspace and canopy.config.yml. Without a directory the
project is created in the current directory.

Examples:
  canopy init                  # Minimal project in the current directory
  canopy init my-site          # Create my-site/
  canopy init blog -t site     # Several pages, a 404 page and assets
  canopy init app -t ssr       # A server rendered page with prerendering
  canopy init --list           # List templates`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

var (
	initTemplate string
	initName     string
	initForce    bool
	initList     bool
)

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().StringVarP(&initTemplate, "template", "t", "minimal", "Project template to use")
	initCmd.Flags().StringVar(&initName, "name", "", "Project name (default is the directory name)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")
	initCmd.Flags().BoolVar(&initList, "list", false, "List available templates")
}

func runInit(cmd *cobra.Command, args []string) error {
	generator := scaffolding.NewProjectGenerator()
	out := cmd.OutOrStdout()

	if initList {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, info := range generator.ListTemplates() {
			fmt.Fprintf(w, "%s\t%s\t%d files\n", info.Name, info.Description, info.Files)
		}
		return w.Flush()
	}

	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve project directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create project directory: %w", err)
	}

	written, err := generator.Generate(scaffolding.GenerateOptions{
		Dir:         dir,
		ProjectName: initName,
		Template:    initTemplate,
		Force:       initForce,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Initialized %s project in %s\n", initTemplate, dir)
	for _, name := range written {
		fmt.Fprintf(out, "  %s\n", name)
	}
	fmt.Fprintln(out, "\nNext: cd into the project and run `canopy develop`")
	return nil
}
