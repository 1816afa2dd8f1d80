// Package scaffolding writes starter canopy projects.
package scaffolding

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/canopy/internal/config"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
)

// ConfigFileName is the config file written by the generator.
const ConfigFileName = "canopy.config.yml"

// ProjectGenerator handles project scaffolding
type ProjectGenerator struct {
	templates map[string]ProjectTemplate
	workspace string
	now       func() time.Time
}

// GenerateOptions holds options for project generation
type GenerateOptions struct {
	Dir         string
	ProjectName string
	Template    string
	// Force overwrites existing files.
	Force bool
}

// projectConfig is the subset of config.Config written to a new project.
type projectConfig struct {
	Workspace    string          `yaml:"workspace"`
	OutputDir    string          `yaml:"output_dir"`
	Optimization string          `yaml:"optimization"`
	Prerender    bool            `yaml:"prerender"`
	DevServer    devServerConfig `yaml:"dev_server"`
}

type devServerConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	HotReload bool   `yaml:"hot_reload"`
}

// NewProjectGenerator creates a generator with the built-in templates.
func NewProjectGenerator() *ProjectGenerator {
	return &ProjectGenerator{
		templates: GetBuiltinTemplates(),
		workspace: config.DefaultWorkspace,
		now:       time.Now,
	}
}

// AddTemplate registers a custom template, replacing any of the same name.
func (g *ProjectGenerator) AddTemplate(tmpl ProjectTemplate) {
	g.templates[tmpl.Name] = tmpl
}

// ListTemplates returns the available templates sorted by name.
func (g *ProjectGenerator) ListTemplates() []TemplateInfo {
	infos := make([]TemplateInfo, 0, len(g.templates))
	for _, tmpl := range g.templates {
		infos = append(infos, TemplateInfo{Name: tmpl.Name, Description: tmpl.Description, Files: len(tmpl.Files)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Generate writes the template and a config file into opts.Dir and returns
// the written paths relative to it. Existing files are kept unless Force is
// set; nothing is written if any would be overwritten.
func (g *ProjectGenerator) Generate(opts GenerateOptions) ([]string, error) {
	if opts.Template == "" {
		opts.Template = "minimal"
	}
	tmpl, ok := g.templates[opts.Template]
	if !ok {
		names := make([]string, 0, len(g.templates))
		for name := range g.templates {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, canopyerrors.NewValidationError(canopyerrors.ErrCodeTemplateNotFound, fmt.Sprintf("template %q not found", opts.Template)).
			WithSuggestion("Available templates: " + strings.Join(names, ", "))
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "invalid project directory")
	}
	if opts.ProjectName == "" {
		opts.ProjectName = filepath.Base(dir)
	}
	if err := ValidateProjectName(opts.ProjectName); err != nil {
		return nil, err
	}

	ctx := TemplateContext{
		ProjectName: opts.ProjectName,
		Title:       cases.Title(language.English).String(strings.NewReplacer("-", " ", "_", " ").Replace(opts.ProjectName)),
		Workspace:   g.workspace,
		Date:        g.now().Format("2006-01-02"),
	}

	files := make(map[string][]byte, len(tmpl.Files)+1)
	for name, source := range tmpl.Files {
		content, err := render(name, source, ctx)
		if err != nil {
			return nil, err
		}
		files[filepath.ToSlash(filepath.Join(g.workspace, name))] = content
	}
	cfg, err := g.configFile(tmpl)
	if err != nil {
		return nil, err
	}
	files[ConfigFileName] = cfg

	written := make([]string, 0, len(files))
	for name := range files {
		written = append(written, name)
	}
	sort.Strings(written)

	if !opts.Force {
		for _, name := range written {
			if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(name))); err == nil {
				return nil, canopyerrors.NewValidationError(canopyerrors.ErrCodeFileExists, fmt.Sprintf("%s already exists", name)).
					WithFile(filepath.Join(dir, filepath.FromSlash(name))).
					WithSuggestion("Use --force to overwrite existing files")
			}
		}
	}

	for _, name := range written {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to create directory").WithFile(target)
		}
		if err := os.WriteFile(target, files[name], 0o644); err != nil {
			return nil, canopyerrors.WrapIO(err, canopyerrors.ErrCodeInvalidPath, "failed to write file").WithFile(target)
		}
	}
	return written, nil
}

func (g *ProjectGenerator) configFile(tmpl ProjectTemplate) ([]byte, error) {
	defaults := config.Default()
	data, err := yaml.Marshal(projectConfig{
		Workspace:    g.workspace,
		OutputDir:    defaults.OutputDir,
		Optimization: defaults.Optimization,
		Prerender:    tmpl.Prerender,
		DevServer: devServerConfig{
			Host:      defaults.DevServer.Host,
			Port:      defaults.DevServer.Port,
			HotReload: defaults.DevServer.HotReload,
		},
	})
	if err != nil {
		return nil, canopyerrors.WrapConfig(err, canopyerrors.ErrCodeConfigInvalid, "failed to encode config")
	}
	return data, nil
}

func render(name, source string, ctx TemplateContext) ([]byte, error) {
	tmpl, err := template.New(name).Parse(source)
	if err != nil {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			fmt.Sprintf("failed to parse template %s", name), err)
	}
	var out strings.Builder
	if err := tmpl.Execute(&out, ctx); err != nil {
		return nil, canopyerrors.NewInternalError(canopyerrors.ErrCodeInternalError,
			fmt.Sprintf("failed to execute template %s", name), err)
	}
	return []byte(out.String()), nil
}

// ValidateProjectName accepts letters, digits, dashes, underscores and dots.
func ValidateProjectName(name string) error {
	if name == "" || name == "." || name == ".." {
		return canopyerrors.NewValidationError(canopyerrors.ErrCodeInvalidName, "project name cannot be empty")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return canopyerrors.NewValidationError(canopyerrors.ErrCodeInvalidName, fmt.Sprintf("project name %q contains %q", name, r))
		}
	}
	return nil
}
