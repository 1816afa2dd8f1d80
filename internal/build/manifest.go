package build

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/version"
)

// ManifestFile is the name of the build manifest in the output directory.
const ManifestFile = "manifest.json"

// SiteManifest describes a finished build for hosting adapters: the server
// rendered routes that still need a runtime, the API handlers and a content
// hash of every emitted file.
type SiteManifest struct {
	BuildID     string            `json:"buildId"`
	GeneratedAt time.Time         `json:"generatedAt"`
	BasePath    string            `json:"basePath"`
	Canopy      version.BuildInfo `json:"canopy"`
	SSR         []ManifestPage    `json:"ssr"`
	APIs        []compilation.API `json:"apis"`
	Files       map[string]string `json:"files"`
}

// ManifestPage is a server rendered route.
type ManifestPage struct {
	Route    string `json:"route"`
	Filename string `json:"filename"`
}

// NewSiteManifest collects the manifest for comp. ssr lists the server
// rendered pages that were not prerendered. Files is filled by Write.
func NewSiteManifest(comp *compilation.Compilation, ssr []compilation.Page) *SiteManifest {
	m := &SiteManifest{
		BuildID:     comp.BuildID,
		GeneratedAt: time.Now().UTC(),
		BasePath:    comp.Config.BasePath,
		Canopy:      version.Get(),
		SSR:         make([]ManifestPage, 0, len(ssr)),
		APIs:        make([]compilation.API, 0, len(comp.Manifest.APIs)),
	}
	for _, page := range ssr {
		m.SSR = append(m.SSR, ManifestPage{Route: page.Route, Filename: filepath.ToSlash(page.Filename)})
	}
	sort.Slice(m.SSR, func(i, j int) bool { return m.SSR[i].Route < m.SSR[j].Route })

	for _, handler := range comp.Manifest.APIs {
		m.APIs = append(m.APIs, handler)
	}
	sort.Slice(m.APIs, func(i, j int) bool { return m.APIs[i].Route < m.APIs[j].Route })
	return m
}

// Write hashes the output directory and writes the manifest into it.
func (m *SiteManifest) Write(outputDir string, hashes *HashProvider) (string, error) {
	if hashes == nil {
		hashes = NewHashProvider()
	}
	files, err := hashes.HashDir(outputDir)
	if err != nil {
		return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to hash build output")
	}
	delete(files, ManifestFile)
	m.Files = files

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError, "failed to encode manifest", err)
	}
	target := filepath.Join(outputDir, ManifestFile)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to write manifest").WithFile(target)
	}
	return target, nil
}

// ReadSiteManifest loads the manifest of a previous build.
func ReadSiteManifest(outputDir string) (*SiteManifest, error) {
	data, err := os.ReadFile(filepath.Join(outputDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m SiteManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
