package pipeline

import (
	"fmt"
	"hash/crc32"
	"net/url"
	"path"
	"strings"

	"github.com/conneroisu/canopy/internal/plugins"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// ETag returns the 8 hex character content hash of body.
func ETag(body []byte) string {
	return fmt.Sprintf("%08x", crc32.Checksum(body, crcTable))
}

// ShouldETag reports whether a response to u gets an ETag: the path must
// carry a file extension, must not name a remote http resource, and the body
// must not be binary.
func ShouldETag(u *url.URL, resp plugins.Response) bool {
	if u == nil || resp.Binary || resp.Body == nil {
		return false
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return false
	}
	// Proxied remote resources arrive as "/https://host/..." paths.
	rest := strings.TrimPrefix(u.Path, "/")
	if strings.HasPrefix(rest, "http:") || strings.HasPrefix(rest, "https:") {
		return false
	}
	return path.Ext(u.Path) != ""
}
