package resources

import (
	"context"
	"os"
	"path/filepath"

	"github.com/conneroisu/canopy/internal/compilation"
	"github.com/conneroisu/canopy/internal/plugins"
)

// AssetCopier copies the workspace assets directory into the output.
type AssetCopier struct {
	comp *compilation.Compilation
}

// NewAssetCopier creates the default copy plugin.
func NewAssetCopier(comp *compilation.Compilation) *AssetCopier {
	return &AssetCopier{comp: comp}
}

func (a *AssetCopier) Assets(context.Context) ([]plugins.CopyAsset, error) {
	from := filepath.Join(a.comp.Context.UserWorkspace, "assets")
	if info, err := os.Stat(from); err != nil || !info.IsDir() {
		return nil, nil
	}
	return []plugins.CopyAsset{{
		From: from,
		To:   filepath.Join(a.comp.Context.OutputDir, "assets"),
	}}, nil
}
