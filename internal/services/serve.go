package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/conneroisu/canopy/internal/build"
	"github.com/conneroisu/canopy/internal/config"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
	"github.com/conneroisu/canopy/internal/server"
	"github.com/conneroisu/canopy/internal/watcher"
	"github.com/conneroisu/canopy/internal/websocket"
)

const shutdownTimeout = 10 * time.Second

// ServerOption configures the develop and serve services.
type ServerOption func(*serverOptions)

type serverOptions struct {
	plugins  []plugins.Plugin
	recorder metrics.Recorder
	logger   logging.Logger
}

// WithPlugins registers user plugins.
func WithPlugins(p ...plugins.Plugin) ServerOption {
	return func(o *serverOptions) {
		o.plugins = append(o.plugins, p...)
	}
}

// WithRecorder sets the metrics recorder. A Prometheus recorder is also
// exposed by the server.
func WithRecorder(recorder metrics.Recorder) ServerOption {
	return func(o *serverOptions) {
		o.recorder = metrics.OrNoop(recorder)
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) ServerOption {
	return func(o *serverOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newServerOptions(opts []ServerOption) serverOptions {
	o := serverOptions{recorder: metrics.NoopRecorder{}, logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// DevelopService runs the development server with live reload.
type DevelopService struct {
	config *config.Config
	opts   serverOptions
}

// NewDevelopService creates a develop service.
func NewDevelopService(cfg *config.Config, opts ...ServerOption) *DevelopService {
	o := newServerOptions(opts)
	o.logger = o.logger.WithComponent("develop")
	return &DevelopService{config: cfg, opts: o}
}

// DevServer is a running develop server.
type DevServer struct {
	Server  *server.Server
	Hub     *websocket.Hub
	watcher *watcher.FileWatcher
	logger  logging.Logger
	once    sync.Once
}

// Start binds the dev server, starts its server plugins and, with hot
// reload enabled, watches the workspace and reloads connected browsers on
// every change.
func (s *DevelopService) Start(ctx context.Context) (*DevServer, error) {
	cfg := s.config
	if !cfg.DevServer.HotReload {
		withoutReload := *cfg
		withoutReload.Plugins.Disabled = append(slices.Clone(cfg.Plugins.Disabled), resources.NameLiveReload)
		cfg = &withoutReload
	}

	sess, err := openSession(ctx, cfg, resources.ModeDevelop, s.opts.plugins, s.opts.logger)
	if err != nil {
		return nil, err
	}
	servers, err := sess.providers(ctx, plugins.TypeServer)
	if err != nil {
		return nil, err
	}

	dev := &DevServer{logger: s.opts.logger}
	serverOpts := []server.Option{
		server.WithLogger(s.opts.logger),
		server.WithRecorder(s.opts.recorder),
		server.WithServerPlugins(servers),
	}

	if s.config.DevServer.HotReload {
		dev.Hub = websocket.NewHub(websocket.HostOrigins{s.config.DevServer.Host}, s.opts.logger)
		serverOpts = append(serverOpts, server.WithLiveReload(dev.Hub))

		dev.watcher, err = s.watch(ctx, sess, dev.Hub)
		if err != nil {
			_ = dev.Hub.Shutdown(context.Background())
			return nil, err
		}
	}

	dev.Server = server.NewDevServer(sess.comp, sess.pipeline, serverOpts...)
	if err := dev.Server.Start(ctx); err != nil {
		_ = dev.Close(context.Background())
		return nil, err
	}

	s.opts.logger.Info(ctx, "Development server ready",
		"url", dev.Server.URL(s.config.BasePath+"/"),
		"pages", len(sess.comp.Graph),
		"hot_reload", s.config.DevServer.HotReload,
	)
	return dev, nil
}

// Run starts the dev server and blocks until ctx is cancelled.
func (s *DevelopService) Run(ctx context.Context) error {
	dev, err := s.Start(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return dev.Close(shutdownCtx)
}

func (s *DevelopService) watch(ctx context.Context, sess *session, hub *websocket.Hub) (*watcher.FileWatcher, error) {
	fw, err := watcher.NewFileWatcher(watcher.DefaultDebounce, s.opts.logger)
	if err != nil {
		return nil, err
	}
	fw.AddFilter(watcher.IgnoreDirs(sess.comp.Context.OutputDir, sess.comp.Context.ScratchDir))
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoNodeModulesFilter)
	fw.AddFilter(watcher.NoEditorTempFilter)

	changes := newChangeDetector()
	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		var changed []string
		for _, event := range events {
			if changes.changed(event) {
				changed = append(changed, event.Path)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		s.opts.logger.Info(ctx, "Workspace changed, reloading", "files", len(changed), "first", changed[0])
		hub.Reload(changed[0])
		return nil
	})

	if err := fw.AddRecursive(sess.comp.Context.UserWorkspace); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, err
	}
	return fw, nil
}

// Close stops the watcher, the live reload hub and the server.
func (d *DevServer) Close(ctx context.Context) error {
	var err error
	d.once.Do(func() {
		if d.watcher != nil {
			if werr := d.watcher.Stop(); werr != nil {
				d.logger.Warn(ctx, werr, "Failed to stop watcher")
			}
		}
		if d.Hub != nil {
			if herr := d.Hub.Shutdown(ctx); herr != nil {
				d.logger.Warn(ctx, herr, "Failed to stop live reload hub")
			}
		}
		if d.Server != nil {
			err = d.Server.Shutdown(ctx)
		}
	})
	return err
}

// changeDetector drops events for files whose content did not change, as
// happens when editors rewrite a file on save without modifying it.
type changeDetector struct {
	hashes *build.HashProvider
	mu     sync.Mutex
	last   map[string]string
}

func newChangeDetector() *changeDetector {
	return &changeDetector{hashes: build.NewHashProvider(), last: make(map[string]string)}
}

func (c *changeDetector) changed(event watcher.ChangeEvent) bool {
	if event.Type == watcher.EventTypeDeleted || event.Type == watcher.EventTypeRenamed {
		c.mu.Lock()
		delete(c.last, event.Path)
		c.mu.Unlock()
		return true
	}

	hash, err := c.hashes.FileHash(event.Path)
	if err != nil {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.last[event.Path]; ok && prev == hash {
		return false
	}
	c.last[event.Path] = hash
	return true
}

// ServeService serves a finished build.
type ServeService struct {
	config *config.Config
	opts   serverOptions
}

// NewServeService creates a serve service.
func NewServeService(cfg *config.Config, opts ...ServerOption) *ServeService {
	o := newServerOptions(opts)
	o.logger = o.logger.WithComponent("serve")
	return &ServeService{config: cfg, opts: o}
}

// Start binds the production server over the output directory. It fails
// with ERR_NO_BUILD_OUTPUT when there is nothing to serve.
func (s *ServeService) Start(ctx context.Context) (*server.Server, error) {
	sess, err := openSession(ctx, s.config, resources.ModeServe, s.opts.plugins, s.opts.logger)
	if err != nil {
		return nil, err
	}
	servers, err := sess.providers(ctx, plugins.TypeServer)
	if err != nil {
		return nil, err
	}

	if manifest, err := build.ReadSiteManifest(sess.comp.Context.OutputDir); err == nil {
		s.opts.logger.Info(ctx, "Serving build", "build_id", manifest.BuildID, "ssr", len(manifest.SSR))
	}

	srv, err := server.NewProdServer(sess.comp, sess.pipeline,
		server.WithLogger(s.opts.logger),
		server.WithRecorder(s.opts.recorder),
		server.WithServerPlugins(servers),
	)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

// Run serves until ctx is cancelled.
func (s *ServeService) Run(ctx context.Context) error {
	srv, err := s.Start(ctx)
	if err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
