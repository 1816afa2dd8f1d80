package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

var dangerousChars = []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validatePort("port", config.Port); err != nil {
		return err
	}
	if err := validatePort("dev_server.port", config.DevServer.Port); err != nil {
		return err
	}
	for _, char := range append(dangerousChars, "\\") {
		if strings.Contains(config.DevServer.Host, char) {
			return fmt.Errorf("dev_server.host contains dangerous character: %s", char)
		}
	}

	for field, path := range map[string]string{
		"workspace":   config.Workspace,
		"output_dir":  config.OutputDir,
		"scratch_dir": config.ScratchDir,
	} {
		if err := validatePath(path); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}

	if err := validateBasePath(config.BasePath); err != nil {
		return fmt.Errorf("base_path: %w", err)
	}

	switch config.Optimization {
	case OptimizationDefault, OptimizationNone, OptimizationInline, OptimizationStatic:
	default:
		return fmt.Errorf("optimization %q must be one of default, none, inline, static", config.Optimization)
	}

	if err := validatePluginsConfig(&config.Plugins); err != nil {
		return fmt.Errorf("plugins config: %w", err)
	}

	return nil
}

func validatePort(field string, port int) error {
	// 0 lets the system assign a port, which tests rely on
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s %d is not in valid range 0-65535", field, port)
	}
	return nil
}

// validatePath validates a file path for security
func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}

	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}

	return nil
}

func validateBasePath(basePath string) error {
	if basePath == "" {
		return nil
	}
	for _, char := range basePath {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '/' || char == '.') {
			return fmt.Errorf("invalid character %q in %s", char, basePath)
		}
	}
	if strings.Contains(basePath, "..") {
		return fmt.Errorf("path contains traversal: %s", basePath)
	}
	return nil
}

// validatePluginsConfig validates plugins configuration values
func validatePluginsConfig(config *PluginsConfig) error {
	names := append([]string{}, config.Disabled...)
	for name := range config.Options {
		names = append(names, name)
	}

	for _, name := range names {
		if name == "" {
			return fmt.Errorf("plugin name cannot be empty")
		}

		// Plugin names should be alphanumeric with dashes/underscores
		for _, char := range name {
			if !((char >= 'a' && char <= 'z') ||
				(char >= 'A' && char <= 'Z') ||
				(char >= '0' && char <= '9') ||
				char == '-' || char == '_') {
				return fmt.Errorf("plugin name contains invalid character: %s", name)
			}
		}
	}

	return nil
}
