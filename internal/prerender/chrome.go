package prerender

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/conneroisu/canopy/internal/config"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/validation"
)

// ChromeEngine serializes pages with a headless Chrome driven over the
// DevTools protocol. Every page gets its own tab.
type ChromeEngine struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	timeout       time.Duration
	logger        logging.Logger
	closeOnce     sync.Once
}

// ChromeLauncher returns a Launcher starting Chrome with the browser path and
// per page timeout from cfg.
func ChromeLauncher(cfg *config.Config, logger logging.Logger) Launcher {
	return func(ctx context.Context) (Engine, error) {
		return NewChromeEngine(ctx, cfg.BrowserPath, cfg.PrerenderTimeout, logger)
	}
}

// NewChromeEngine launches the browser. An empty browserPath lets chromedp
// search the usual install locations.
func NewChromeEngine(ctx context.Context, browserPath string, timeout time.Duration, logger logging.Logger) (*ChromeEngine, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if timeout <= 0 {
		timeout = config.DefaultPrerenderTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.DisableGPU)
	if browserPath != "" {
		if err := validation.ValidateExecutablePath(browserPath); err != nil {
			return nil, err
		}
		opts = append(opts, chromedp.ExecPath(browserPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	return &ChromeEngine{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		timeout:       timeout,
		logger:        logger.WithComponent("chrome"),
	}, nil
}

// Serialize navigates a fresh tab to pageURL and returns the DOM once the
// body is ready. When the page does not settle within the timeout the body
// of the first document response is returned as a partial result.
func (e *ChromeEngine) Serialize(ctx context.Context, pageURL string) (Result, error) {
	if err := validation.ValidateLocalURL(pageURL); err != nil {
		return Result{}, err
	}

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	// Open the tab first so the timeout below does not close it.
	if err := chromedp.Run(tabCtx); err != nil {
		return Result{}, err
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, e.timeout)
	defer cancelTimeout()

	first := &firstResponse{}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if ev.Type == network.ResourceTypeDocument {
				first.claim(ev.RequestID)
			}
		case *network.EventLoadingFinished:
			if first.is(ev.RequestID) {
				go first.fetch(tabCtx, ev.RequestID)
			}
		}
	})

	var html string
	err := chromedp.Run(timeoutCtx,
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err == nil {
		return Result{HTML: "<!DOCTYPE html>\n" + html, Outcome: OutcomeOK}, nil
	}

	if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if body, ok := first.wait(time.Second); ok {
			e.logger.Warn(ctx, err, "Page timed out, using first response", "url", pageURL)
			return Result{HTML: body, Outcome: OutcomePartial}, nil
		}
	}
	return Result{}, err
}

// Close shuts the browser down. It is safe to call more than once.
func (e *ChromeEngine) Close() error {
	e.closeOnce.Do(func() {
		e.browserCancel()
		e.allocCancel()
	})
	return nil
}

// firstResponse holds the body of the first document response of a tab.
type firstResponse struct {
	mu        sync.Mutex
	requestID network.RequestID
	body      string
	done      chan struct{}
}

func (f *firstResponse) claim(id network.RequestID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requestID == "" {
		f.requestID = id
		f.done = make(chan struct{})
	}
}

func (f *firstResponse) is(id network.RequestID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requestID != "" && f.requestID == id
}

func (f *firstResponse) fetch(tabCtx context.Context, id network.RequestID) {
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(tabCtx, c.Target))

	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		f.body = string(body)
	}
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

func (f *firstResponse) wait(d time.Duration) (string, bool) {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()
	if done == nil {
		return "", false
	}

	select {
	case <-done:
	case <-time.After(d):
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.body, f.body != ""
}
