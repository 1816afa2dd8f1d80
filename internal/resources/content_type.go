package resources

import (
	"mime"
	"os"
	"path"
	"strings"
)

var contentTypes = map[string]string{
	".html":        "text/html",
	".js":          "text/javascript",
	".mjs":         "text/javascript",
	".css":         "text/css",
	".json":        "application/json",
	".map":         "application/json",
	".txt":         "text/plain",
	".xml":         "application/xml",
	".webmanifest": "application/manifest+json",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".gif":         "image/gif",
	".svg":         "image/svg+xml",
	".webp":        "image/webp",
	".ico":         "image/x-icon",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
	".ttf":         "font/ttf",
}

var textExtensions = map[string]bool{
	".html": true, ".js": true, ".mjs": true, ".css": true, ".json": true,
	".map": true, ".txt": true, ".xml": true, ".webmanifest": true,
}

// ContentType returns the media type served for a file extension.
func ContentType(ext string) string {
	ext = strings.ToLower(ext)
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// IsText reports whether files with ext are served as text.
func IsText(ext string) bool {
	return textExtensions[strings.ToLower(ext)]
}

func hasExt(urlPath string, exts ...string) bool {
	ext := strings.ToLower(path.Ext(urlPath))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func isNodeModule(urlPath string) bool {
	return strings.HasPrefix(urlPath, "/node_modules/")
}
