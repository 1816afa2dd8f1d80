// Package internal contains the implementation packages of canopy.
//
// # Package Organization
//
//   - compilation: the page graph, resource store and path resolution
//   - plugins: plugin contracts, capability interfaces and the registry
//   - pipeline: the ordered resource pipeline (resolve, serve, intercept, optimize)
//   - resources: the built-in resource providers
//   - build: resource scanning, bundling, static rendering and the site manifest
//   - prerender: the headless browser pass
//   - server: the develop and serve HTTP servers
//   - services: the build, develop and serve entry points used by cmd
//   - scaffolding: starter projects for `canopy init`
//   - watcher, websocket: file watching and live reload
//   - config, logging, errors, metrics, middleware, validation, version:
//     shared infrastructure
//
// Every request, whether from the dev server, the static renderer or the
// prerender browser, flows through the same plugin pipeline, so a page
// renders the same way in every mode.
package internal
