package errors

import (
	"fmt"
	"strings"
)

// ErrorSuggestion represents a suggestion for fixing an error
type ErrorSuggestion struct {
	Title       string
	Description string
	Command     string
}

// BrowserLaunchSuggestions is shown when the prerender browser cannot start.
func BrowserLaunchSuggestions() []ErrorSuggestion {
	return []ErrorSuggestion{
		{
			Title:       "Install a Chromium based browser",
			Description: "Prerendering drives a headless Chrome/Chromium. Make sure one is installed and on PATH.",
			Command:     "which chromium google-chrome chromium-browser",
		},
		{
			Title:       "Point canopy at the browser binary",
			Description: "Set CANOPY_BROWSER_PATH when the executable lives somewhere non-standard.",
		},
		{
			Title:       "Missing shared libraries in containers",
			Description: "Slim container images often lack the libraries Chrome needs (libnss3, libatk, fonts).",
		},
		{
			Title:       "Disable prerendering",
			Description: "Set prerender: false in canopy.config.yml to build without a browser.",
		},
	}
}

// NoBuildOutputSuggestions is shown when serve finds no build output.
func NoBuildOutputSuggestions(outputDir string) []ErrorSuggestion {
	return []ErrorSuggestion{
		{
			Title:       "Run a build first",
			Description: fmt.Sprintf("serve hosts the contents of %s, which does not exist or is empty.", outputDir),
			Command:     "canopy build",
		},
	}
}

// ServerStartSuggestions generates suggestions for server startup failures
func ServerStartSuggestions(err error, port int) []ErrorSuggestion {
	var suggestions []ErrorSuggestion

	errStr := err.Error()
	if strings.Contains(errStr, "address already in use") || strings.Contains(errStr, "bind") {
		suggestions = append(suggestions, ErrorSuggestion{
			Title:       "Port already in use",
			Description: fmt.Sprintf("Port %d is already being used by another process", port),
			Command:     fmt.Sprintf("lsof -i :%d", port),
		})
	}

	return suggestions
}

// FormatSuggestions formats suggestions into a user-friendly string
func FormatSuggestions(title string, suggestions []ErrorSuggestion) string {
	if len(suggestions) == 0 {
		return title
	}

	var output strings.Builder
	if title != "" {
		output.WriteString(title + "\n\n")
	}
	output.WriteString("Suggestions:\n")

	for i, suggestion := range suggestions {
		output.WriteString(fmt.Sprintf("  %d. %s\n", i+1, suggestion.Title))
		if suggestion.Description != "" {
			output.WriteString(fmt.Sprintf("     %s\n", suggestion.Description))
		}
		if suggestion.Command != "" {
			output.WriteString(fmt.Sprintf("     Run: %s\n", suggestion.Command))
		}
	}

	return strings.TrimRight(output.String(), "\n")
}
