package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{"release", BuildInfo{Version: "v1.2.0", GitCommit: "abcdef0123"}, "v1.2.0 (abcdef0)"},
		{"dev", BuildInfo{Version: "dev", GitCommit: "abcdef0123"}, "dev-abcdef0"},
		{"unknown commit", BuildInfo{Version: "v1.2.0", GitCommit: "unknown"}, "v1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestParseTime(t *testing.T) {
	assert.True(t, parseTime("unknown").IsZero())
	assert.True(t, parseTime("yesterday").IsZero())
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), parseTime("2024-05-01T10:00:00Z"))
}

func TestStringIncludesPlatform(t *testing.T) {
	info := BuildInfo{Version: "v1.0.0", GitCommit: "unknown", GoVersion: "go1.24", Platform: "linux/amd64"}
	out := info.String()
	assert.Contains(t, out, "Version: v1.0.0")
	assert.Contains(t, out, "Platform: linux/amd64")
	assert.NotContains(t, out, "Commit:")
}
