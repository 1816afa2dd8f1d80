package testutils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conneroisu/canopy/internal/resources"
)

func TestNewCompilationDiscoversPages(t *testing.T) {
	comp := NewCompilation(t, map[string]string{
		"src/pages/index.html": "<h1>Home</h1>",
		"src/pages/about.html": "<h1>About</h1>",
	}, nil)

	assert.Len(t, comp.Graph, 2)
	pipe := NewPipeline(t, comp, resources.ModeBuild)
	_, ok := pipe.Find(resources.NameHTML)
	assert.True(t, ok)
}
