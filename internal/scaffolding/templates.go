package scaffolding

// ProjectTemplate is a starter project written by `canopy init`.
type ProjectTemplate struct {
	Name        string
	Description string
	// Files maps slash separated paths, relative to the project, to
	// text/template sources.
	Files map[string]string
	// Prerender turns on prerendering in the generated config.
	Prerender bool
}

// TemplateContext is the data every template file is executed with.
type TemplateContext struct {
	ProjectName string
	Title       string
	Workspace   string
	Date        string
}

// TemplateInfo describes a template for listings.
type TemplateInfo struct {
	Name        string
	Description string
	Files       int
}

const layoutHead = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{.Title}}</title>
  <link rel="stylesheet" href="/style.css">
  <script type="module" src="/main.js"></script>
</head>`

const styleCSS = `:root {
  font-family: system-ui, sans-serif;
  color: #1f2933;
}

body {
  margin: 0 auto;
  max-width: 48rem;
  padding: 2rem;
}

nav a {
  margin-right: 1rem;
}
`

const mainJS = `const stamp = document.querySelector("[data-year]");
if (stamp) {
  stamp.textContent = String(new Date().getFullYear());
}
`

// GetBuiltinTemplates returns the built-in project templates.
func GetBuiltinTemplates() map[string]ProjectTemplate {
	return map[string]ProjectTemplate{
		"minimal": {
			Name:        "minimal",
			Description: "A single page with a script and a stylesheet",
			Files: map[string]string{
				"pages/index.html": layoutHead + `
<body>
  <h1>{{.Title}}</h1>
  <p>Edit {{.Workspace}}/pages/index.html and save to reload.</p>
  <footer>&copy; <span data-year></span></footer>
</body>
</html>
`,
				"main.js":   mainJS,
				"style.css": styleCSS,
			},
		},
		"site": {
			Name:        "site",
			Description: "Several static pages, a 404 page and copied assets",
			Files: map[string]string{
				"pages/index.html": `---
title: {{.Title}}
---
` + layoutHead + `
<body>
  <nav><a href="/">Home</a><a href="/about/">About</a></nav>
  <h1>{{.Title}}</h1>
  <img src="/assets/logo.svg" alt="logo" width="64">
  <footer>&copy; <span data-year></span></footer>
</body>
</html>
`,
				"pages/about.html": layoutHead + `
<body>
  <nav><a href="/">Home</a><a href="/about/">About</a></nav>
  <h1>About {{.ProjectName}}</h1>
  <p>Created {{.Date}}.</p>
</body>
</html>
`,
				"pages/404.html": layoutHead + `
<body>
  <h1>Not found</h1>
  <p><a href="/">Back home</a></p>
</body>
</html>
`,
				"assets/logo.svg": `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 32 32"><circle cx="16" cy="16" r="14" fill="#2f855a"/></svg>
`,
				"main.js":   mainJS,
				"style.css": styleCSS,
			},
		},
		"ssr": {
			Name:        "ssr",
			Description: "A server rendered page prerendered by a headless browser",
			Prerender:   true,
			Files: map[string]string{
				"pages/index.html": layoutHead + `
<body>
  <h1>{{.Title}}</h1>
  <p><a href="/clock/">Clock</a></p>
</body>
</html>
`,
				"pages/clock.js": `const root = document.createElement("main");
root.textContent = "Rendered at " + new Date().toISOString();
document.body.append(root);
`,
				"pages/api/health.js": `export default function handler() {
  return new Response(JSON.stringify({ ok: true }), {
    headers: { "content-type": "application/json" },
  });
}
`,
				"main.js":   mainJS,
				"style.css": styleCSS,
			},
		},
	}
}
