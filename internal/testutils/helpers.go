// Package testutils builds throwaway canopy projects for package tests.
package testutils

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/config"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
)

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// CreateTempProject writes files (slash separated, relative to the project
// root) into a fresh temporary directory and returns it.
func CreateTempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		WriteFile(t, filepath.Join(dir, filepath.FromSlash(name)), content)
	}
	return dir
}

// NewConfig returns a validated config rooted at projectDir.
func NewConfig(t *testing.T, projectDir string, configure func(*config.ConfigBuilder)) *config.Config {
	t.Helper()
	builder := config.NewConfigBuilder().WithProjectDirectory(projectDir)
	if configure != nil {
		configure(builder)
	}
	cfg, err := builder.Build()
	require.NoError(t, err)
	return cfg
}

// NewCompilation creates a project from files and loads its compilation.
func NewCompilation(t *testing.T, files map[string]string, configure func(*config.ConfigBuilder)) *compilation.Compilation {
	t.Helper()
	dir := CreateTempProject(t, files)
	comp, err := compilation.New(NewConfig(t, dir, configure), logging.NewNopLogger())
	require.NoError(t, err)
	return comp
}

// NewPipeline instantiates the built-in providers for mode followed by user
// and returns the resulting pipeline.
func NewPipeline(t *testing.T, comp *compilation.Compilation, mode resources.Mode, user ...plugins.Plugin) *pipeline.Pipeline {
	t.Helper()
	registry, err := plugins.NewRegistry(resources.Defaults{Mode: mode}.Plugins(), user, logging.NewNopLogger())
	require.NoError(t, err)
	instances, err := registry.Resources(context.Background(), comp)
	require.NoError(t, err)
	return pipeline.New(instances, logging.NewNopLogger())
}

// ReadOutput returns the contents of a file in the output directory.
func ReadOutput(t *testing.T, comp *compilation.Compilation, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(comp.Context.OutputDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}
