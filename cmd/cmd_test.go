package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/scaffolding"
	"github.com/conneroisu/canopy/internal/version"
)

// execute runs the root command with args and returns everything it wrote.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfgFile = ""
	buildClean = false
	initTemplate, initName, initForce, initList = "minimal", "", false, false
	versionFormat, versionShort = "text", false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := Execute()
	return out.String(), err
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "version", "--format", "json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.Platform)
}

func TestVersionRejectsUnknownFormat(t *testing.T) {
	out, err := execute(t, "version", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, out, "unsupported format")
}

func TestInitListsTemplates(t *testing.T) {
	out, err := execute(t, "init", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "minimal")
	assert.Contains(t, out, "site")
	assert.Contains(t, out, "ssr")
}

func TestInitThenBuild(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "demo")

	out, err := execute(t, "init", dir, "--template", "site")
	require.NoError(t, err)
	assert.Contains(t, out, "src/pages/index.html")
	assert.FileExists(t, filepath.Join(dir, scaffolding.ConfigFileName))

	out, err = execute(t, "build", "--config", filepath.Join(dir, scaffolding.ConfigFileName), "--log-level", "error")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Built 3 pages")
	assert.FileExists(t, filepath.Join(dir, "public", "index.html"))
	assert.FileExists(t, filepath.Join(dir, "public", "manifest.json"))
}

func TestBuildWithMissingConfigFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yml")

	out, err := execute(t, "build", "--config", missing)
	require.Error(t, err)
	assert.True(t, canopyerrors.HasErrorCode(err, canopyerrors.ErrCodeConfigInvalid))
	assert.Contains(t, out, "Error:")
}

func TestBindFlagsRejectsUnknownFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("port", 0, "")

	require.NoError(t, bindFlags(fs, map[string]string{"port": "test.port"}))
	assert.Error(t, bindFlags(fs, map[string]string{"missing": "test.missing"}))
}
