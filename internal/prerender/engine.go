// Package prerender produces static HTML for pages that need a real browser:
// custom elements, client rendered SSR modules and anything else whose final
// DOM only exists after scripts run.
package prerender

import "context"

// Outcome classifies a serialized page.
type Outcome int

const (
	// OutcomeOK means the page loaded before the timeout.
	OutcomeOK Outcome = iota
	// OutcomePartial means the page timed out and the first document
	// response was used instead of the live DOM.
	OutcomePartial
)

func (o Outcome) String() string {
	if o == OutcomePartial {
		return "partial"
	}
	return "ok"
}

// Result is the serialized HTML of one page.
type Result struct {
	HTML    string
	Outcome Outcome
}

// Engine loads pages in a browser and serializes their DOM.
type Engine interface {
	Serialize(ctx context.Context, url string) (Result, error)
	Close() error
}

// Launcher starts an Engine. A launch error aborts the whole prerender pass.
type Launcher func(ctx context.Context) (Engine, error)
