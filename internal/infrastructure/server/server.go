// Package server wires the editor's components behind the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/agent"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/api/http"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/api/middleware"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/api/ws"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/bootstrap"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/browser"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/document"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/fetch"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/httpclient"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/proxy"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/session"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	syncer   *syncer.Client
	browser  *browser.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return New(cfg, logger)
}

// New creates a server with an existing logger.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing VisualEdit server",
		zap.String("port", cfg.Server.Port),
		zap.Strings("origins", cfg.Editor.Origins),
		zap.Bool("sync", cfg.Sync.Endpoint != ""),
		zap.Bool("browser", cfg.Browser.Enabled),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(registry)

	s := &Server{logger: logger, config: cfg, metrics: metrics, registry: registry}

	fetcher := fetch.New(FetchConfig(cfg), logger.Component("fetch"), metrics)

	opts := []session.Option{
		session.WithFetcher(fetcher),
		session.WithLogger(logger.Logger),
		session.WithMetrics(metrics),
	}

	if cfg.Sync.Endpoint != "" {
		client, err := syncer.New(SyncConfig(cfg),
			syncer.WithLogger(logger.Logger),
			syncer.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("failed to create sync client: %w", err)
		}
		s.syncer = client
		opts = append(opts, session.WithSyncer(client))
		logger.Info("Sync collaborator configured", zap.String("endpoint", cfg.Sync.Endpoint))
	}

	if cfg.Browser.Enabled {
		bcfg := browser.Config{ControlURL: cfg.Browser.ControlURL, Headless: true}
		if browser.Available(bcfg) {
			s.browser = browser.NewManager(bcfg, logger.Logger)
			opts = append(opts, session.WithBrowser(s.browser))
		} else {
			logger.Warn("Browser hosting enabled but no Chrome found")
		}
	}

	bs := bootstrap.New(bootstrap.Config{
		GracePeriod: cfg.Editor.GracePeriod.D(),
		ProbeDelays: config.Durations(cfg.Editor.ProbeDelays),
	}, bootstrap.WithLogger(logger.Logger), bootstrap.WithMetrics(metrics))

	s.sessions = session.NewManager(SessionConfig(cfg), bs, opts...)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig().WithOrigins(cfg.Server.CORSOrigins)))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	handlers := http.NewHandlers(s.sessions, proxy.New(fetcher, logger.Logger), cfg.Server.PublicURL,
		proxy.Options{Budget: Budget(cfg), Interactive: cfg.Editor.Interactive}, logger.Logger)
	wsHandler := ws.NewHandler(s.sessions, logger.Logger, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(registry)))
	router.POST("/logs", handlers.StreamLogs)
	router.GET("/proxy", handlers.Proxy)

	sessions := router.Group("/sessions")
	sessions.POST("", handlers.CreateSession)
	sessions.GET("", handlers.ListSessions)
	sessions.GET("/:id", handlers.GetSession)
	sessions.DELETE("/:id", handlers.DeleteSession)
	sessions.GET("/:id/elements", handlers.Elements)
	sessions.GET("/:id/edits", handlers.Edits)
	sessions.GET("/:id/document", handlers.Document)
	sessions.POST("/:id/select", handlers.Select)
	sessions.POST("/:id/deselect", handlers.Deselect)
	sessions.PUT("/:id/value", handlers.SetValue)
	sessions.POST("/:id/apply", handlers.Apply)
	sessions.POST("/:id/rescan", handlers.Rescan)
	sessions.POST("/:id/preview", handlers.Preview)
	sessions.POST("/:id/click", handlers.Click)
	sessions.POST("/:id/sync", handlers.Sync)
	sessions.GET("/:id/events", wsHandler.Events)
	sessions.GET("/:id/agent", wsHandler.Agent)

	s.router = router
	logger.Info("Server initialized successfully")
	return s, nil
}

// Router exposes the engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Run serves until ctx is cancelled, then shuts down gracefully. Batches
// left over from a previous run are resent in the background.
func (s *Server) Run(ctx context.Context) error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	srv := &nethttp.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.syncer != nil {
		go func() {
			n, err := s.syncer.Resend(ctx)
			if err != nil {
				s.logger.Warn("Resending cached batches failed", zap.Error(err))
				return
			}
			if n > 0 {
				s.logger.Info("Resent cached batches", zap.Int("batches", n))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.sessions.CloseAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// Close releases the server's external resources.
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Error("Failed to close browser", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if s.syncer != nil {
		if err := s.syncer.Close(); err != nil {
			s.logger.Error("Failed to close sync client", zap.Error(err))
			errs = append(errs, err)
		}
	}

	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// Budget derives the scan budget from the editor settings.
func Budget(cfg *config.Config) agent.Budget {
	b := agent.DefaultBudget()
	b.MaxElements = cfg.Editor.MaxElements
	b.MaxDepth = cfg.Editor.MaxDepth
	b.MaxNodes = cfg.Editor.MaxNodes
	return b
}

// SessionConfig derives the per-session settings.
func SessionConfig(cfg *config.Config) session.Config {
	scripts := document.DefaultScriptConfig()
	scripts.Enabled = cfg.Editor.Scripts
	if t := cfg.Editor.ScriptTimeout.D(); t > 0 {
		scripts.Timeout = t
	}
	controllerOrigin := cfg.Server.PublicURL
	if controllerOrigin == "" {
		controllerOrigin = "http://localhost:" + cfg.Server.Port
	}
	return session.Config{
		Origins:              cfg.Editor.Origins,
		ControllerOrigin:     strings.TrimRight(controllerOrigin, "/"),
		Budget:               Budget(cfg),
		Interactive:          cfg.Editor.Interactive,
		DisambiguateSiblings: cfg.Editor.DisambiguateSiblings,
		Scripts:              scripts,
	}
}

// FetchConfig derives the target fetcher settings.
func FetchConfig(cfg *config.Config) fetch.Config {
	h := httpclient.DefaultConfig("fetch")
	h.Timeout = cfg.Fetch.Timeout.D()
	h.RetryMax = cfg.Fetch.RetryMax
	h.RequestsPerSecond = cfg.Fetch.RequestsPerSecond
	if cfg.Fetch.UserAgent != "" {
		h.UserAgent = cfg.Fetch.UserAgent
	}
	return fetch.Config{HTTP: h, MaxBytes: cfg.Fetch.MaxBytes}
}

// SyncConfig derives the sync collaborator settings.
func SyncConfig(cfg *config.Config) syncer.Config {
	h := httpclient.DefaultConfig("sync")
	h.Timeout = cfg.Sync.Timeout.D()
	h.RetryMax = cfg.Sync.RetryMax
	h.RequestsPerSecond = cfg.Sync.RequestsPerSecond
	if cfg.Sync.BreakerFailures > 0 {
		h.BreakerFailures = cfg.Sync.BreakerFailures
	}
	if t := cfg.Sync.BreakerTimeout.D(); t > 0 {
		h.BreakerTimeout = t
	}
	return syncer.Config{
		Endpoint: cfg.Sync.Endpoint,
		Token:    cfg.Sync.Token,
		HTTP:     h,
		CacheDir: cfg.Cache.Dir,
	}
}
