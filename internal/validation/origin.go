// Package validation checks values that arrive from outside the process:
// websocket origins, prerender navigation targets and browser executables.
package validation

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

var loopbackHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
}

// ValidateOrigin checks a websocket Origin header against the allowed hosts.
// Loopback origins are always accepted.
func ValidateOrigin(origin string, allowedHosts []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}

	hostname := originURL.Hostname()
	if loopbackHosts[hostname] {
		return nil
	}
	for _, allowed := range allowedHosts {
		if allowed == "" {
			continue
		}
		if origin == allowed || originURL.Host == allowed || hostname == allowed {
			return nil
		}
	}

	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateLocalURL validates a URL the prerender browser is about to open.
// Only http URLs pointing at a loopback or listed host are allowed.
func ValidateLocalURL(rawURL string, allowedHosts ...string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" {
		return fmt.Errorf("invalid URL scheme: %s (only http allowed)", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL must have a valid hostname")
	}
	if strings.ContainsAny(rawURL, " \n\r") {
		return fmt.Errorf("URL contains whitespace")
	}

	hostname := parsed.Hostname()
	if loopbackHosts[hostname] {
		return nil
	}
	if ip := net.ParseIP(hostname); ip != nil && ip.IsLoopback() {
		return nil
	}
	for _, allowed := range allowedHosts {
		if hostname == allowed {
			return nil
		}
	}
	return fmt.Errorf("URL host %q is not local", hostname)
}

// ValidateExecutablePath checks a user supplied browser executable path.
func ValidateExecutablePath(p string) error {
	if p == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !filepath.IsAbs(p) {
		return fmt.Errorf("executable path must be absolute: %s", p)
	}
	dangerous := []string{";", "&", "|", "$", "`", "<", ">", "\n", "\r"}
	for _, char := range dangerous {
		if strings.Contains(p, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	if filepath.Clean(p) != p {
		return fmt.Errorf("path is not clean: %s", p)
	}
	return nil
}
