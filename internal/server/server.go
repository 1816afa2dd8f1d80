// Package server exposes the resource pipeline over HTTP. The develop server,
// the temporary prerender server and the production serve command all share
// the same handler; they differ in which providers the pipeline holds.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/conneroisu/canopy/internal/compilation"
	canopyerrors "github.com/conneroisu/canopy/internal/errors"
	"github.com/conneroisu/canopy/internal/logging"
	"github.com/conneroisu/canopy/internal/metrics"
	"github.com/conneroisu/canopy/internal/middleware"
	"github.com/conneroisu/canopy/internal/pipeline"
	"github.com/conneroisu/canopy/internal/plugins"
	"github.com/conneroisu/canopy/internal/resources"
	"github.com/conneroisu/canopy/internal/validation"
)

// MetricsPath serves the prometheus metrics of the running process.
const MetricsPath = "/__canopy/metrics"

const shutdownTimeout = 10 * time.Second

// Server is an HTTP server in front of a resource pipeline.
type Server struct {
	host     string
	port     int
	pipeline *pipeline.Pipeline
	servers  []plugins.Instance
	basePath string

	liveReload http.Handler
	recorder   metrics.Recorder
	logger     logging.Logger
	allowed    []string

	serverMutex  sync.RWMutex
	httpServer   *http.Server
	listener     net.Listener
	shutdownOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder counts requests in recorder. Recorders exposing a Handler
// are mounted at MetricsPath.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(s *Server) {
		s.recorder = metrics.OrNoop(recorder)
	}
}

// WithLiveReload mounts the live reload socket handler.
func WithLiveReload(h http.Handler) Option {
	return func(s *Server) {
		s.liveReload = h
	}
}

// WithBasePath sets the URL prefix the live reload socket is mounted under.
func WithBasePath(basePath string) Option {
	return func(s *Server) {
		s.basePath = basePath
	}
}

// WithServerPlugins sets the server plugins started once the port is bound.
func WithServerPlugins(servers []plugins.Instance) Option {
	return func(s *Server) {
		s.servers = servers
	}
}

// WithAddr overrides the host and port.
func WithAddr(host string, port int) Option {
	return func(s *Server) {
		s.host = host
		s.port = port
	}
}

// NewDevServer creates the develop server bound to the configured dev host
// and port.
func NewDevServer(comp *compilation.Compilation, pipe *pipeline.Pipeline, opts ...Option) *Server {
	cfg := comp.Config.DevServer
	opts = append([]Option{WithBasePath(comp.Config.BasePath)}, opts...)
	return newServer(cfg.Host, cfg.Port, pipe, opts...)
}

// NewProdServer creates the server for `canopy serve`. It refuses to start
// without a previous build.
func NewProdServer(comp *compilation.Compilation, pipe *pipeline.Pipeline, opts ...Option) (*Server, error) {
	outputDir := comp.Context.OutputDir
	entries, err := os.ReadDir(outputDir)
	if err != nil || len(entries) == 0 {
		cause := err
		if cause == nil {
			cause = fmt.Errorf("%s is empty", outputDir)
		}
		suggestions := canopyerrors.NoBuildOutputSuggestions(outputDir)
		return nil, canopyerrors.NewBuildError(canopyerrors.ErrCodeNoBuildOutput,
			"no build output found, run `canopy build` first", cause).
			WithFile(outputDir).
			WithSuggestion(canopyerrors.FormatSuggestions("Try", suggestions))
	}
	opts = append([]Option{WithBasePath(comp.Config.BasePath)}, opts...)
	return newServer("", comp.Config.Port, pipe, opts...), nil
}

func newServer(host string, port int, pipe *pipeline.Pipeline, opts ...Option) *Server {
	s := &Server{
		host:     host,
		port:     port,
		pipeline: pipe,
		recorder: metrics.NoopRecorder{},
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("server")
	if host != "" {
		s.allowed = []string{host}
	}
	return s
}

// Handler returns the full handler: pipeline, live reload, metrics and
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", &pipelineHandler{pipeline: s.pipeline, logger: s.logger})
	if s.liveReload != nil {
		// The injected client dials the socket under the base path.
		mux.Handle(s.basePath+resources.LiveReloadPath, s.liveReload)
	}
	if exposer, ok := s.recorder.(interface{ Handler() http.Handler }); ok {
		mux.Handle(MetricsPath, exposer.Handler())
	}

	chain := middleware.NewChain(
		middleware.Logging(s.logger, s.recorder),
		middleware.Recovery(s.logger),
		middleware.CORS(func(origin string) bool {
			return validation.ValidateOrigin(origin, s.allowed) == nil
		}),
	)
	return chain.Apply(mux)
}

// Start binds the listener, serves in the background and starts the server
// plugins. It returns once the port is bound.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return canopyerrors.NewIOError(canopyerrors.ErrCodeServerStartFailed,
			fmt.Sprintf("failed to listen on %s", addr), err).
			WithSuggestion(canopyerrors.FormatSuggestions("Try",
				canopyerrors.ServerStartSuggestions(err, s.port)))
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.serverMutex.Lock()
	s.httpServer = srv
	s.listener = ln
	s.serverMutex.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(ctx, err, "Server stopped unexpectedly")
		}
	}()

	s.logger.Info(ctx, "Server listening", "url", "http://"+s.Addr())

	for _, inst := range s.servers {
		provider, ok := inst.Provider.(plugins.ServerProvider)
		if !ok {
			continue
		}
		if err := provider.Start(ctx); err != nil {
			_ = s.Shutdown(context.Background())
			return canopyerrors.NewPluginError(canopyerrors.ErrCodeProviderFailed, inst.Name,
				"server plugin failed to start", err)
		}
	}
	return nil
}

// Listen starts the server and blocks until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Listen(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.serverMutex.RLock()
	defer s.serverMutex.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// URL returns the http URL of route on the bound address.
func (s *Server) URL(route string) string {
	return "http://" + s.Addr() + route
}

// Shutdown stops the server. It is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.serverMutex.RLock()
		srv := s.httpServer
		s.serverMutex.RUnlock()

		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
			s.logger.Debug(ctx, "Server shut down", "addr", s.Addr())
		}
	})
	return shutdownErr
}
