package build

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/testutils"
)

func TestFileHashCachesByMetadata(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.js")
	testutils.WriteFile(t, file, "one")

	hp := NewHashProvider()
	first, err := hp.FileHash(file)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%08x", crc32.Checksum([]byte("one"), crc32.MakeTable(crc32.Castagnoli))), first)

	again, err := hp.FileHash(file)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, 1, hp.CacheSize())

	testutils.WriteFile(t, file, "two!")
	later := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(file, later, later))

	changed, err := hp.FileHash(file)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
	assert.Equal(t, 2, hp.CacheSize())
}

func TestFileHashMissingFile(t *testing.T) {
	_, err := NewHashProvider().FileHash(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestHashDir(t *testing.T) {
	dir := testutils.CreateTempProject(t, map[string]string{
		"index.html":      "<p>home</p>",
		"assets/logo.svg": "<svg/>",
	})

	hashes, err := NewHashProvider().HashDir(dir)
	require.NoError(t, err)
	assert.Len(t, hashes, 2)
	assert.Contains(t, hashes, "index.html")
	assert.Contains(t, hashes, "assets/logo.svg")
}

func TestSiteManifestRoundTrip(t *testing.T) {
	comp := testutils.NewCompilation(t, map[string]string{
		"src/pages/index.html":    "<p>home</p>",
		"src/pages/dashboard.js":  "export default () => '<p>dash</p>'",
		"src/pages/api/health.js": "export default () => new Response('ok')",
	}, nil)
	comp.BuildID = "build-1"
	testutils.WriteFile(t, filepath.Join(comp.Context.OutputDir, "index.html"), "<p>home</p>")

	ssr := comp.Filter(func(p compilation.Page) bool { return p.IsSSR })
	require.Len(t, ssr, 1)

	target, err := NewSiteManifest(comp, ssr).Write(comp.Context.OutputDir, nil)
	require.NoError(t, err)
	assert.FileExists(t, target)

	m, err := ReadSiteManifest(comp.Context.OutputDir)
	require.NoError(t, err)
	assert.Equal(t, "build-1", m.BuildID)
	require.Len(t, m.SSR, 1)
	assert.Equal(t, "/dashboard/", m.SSR[0].Route)
	require.Len(t, m.APIs, 1)
	assert.Equal(t, "/api/health", m.APIs[0].Route)
	assert.Equal(t, []string{"index.html"}, keys(m.Files))
	assert.NotEmpty(t, m.Canopy.Version)
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
