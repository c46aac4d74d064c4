// Package api exposes the plugin pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goatkit/hotplug/internal/apierrors"
	"github.com/goatkit/hotplug/internal/middleware"
	"github.com/goatkit/hotplug/internal/plugin"
	"github.com/goatkit/hotplug/internal/plugin/loader"
)

// Deps are the collaborators the routes need.
type Deps struct {
	Runner             loader.Runner
	Settings           plugin.Settings
	Logs               *plugin.LogBuffer
	Limiter            *middleware.RateLimiter
	TriggerRatePerHour int
	Logger             *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps) *gin.Engine {
	if deps.Logs == nil {
		deps.Logs = plugin.NewLogBuffer(0)
	}
	if deps.Limiter == nil {
		deps.Limiter = middleware.NewRateLimiter()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.NoRoute(func(c *gin.Context) {
		apierrors.Error(c, apierrors.CodeNotFound)
	})

	r.GET("/api/health", handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := r.Group("/api/server")
	server.Use(middleware.ErrorHandler(deps.Logger))
	server.POST("/check",
		middleware.RateLimitByIP(deps.Limiter, deps.TriggerRatePerHour),
		HandleServerCheck(deps.Runner),
	)
	server.GET("/plugins/logs", HandlePluginLogs(deps.Logs))
	server.GET("/plugins/logs/stream", gin.WrapH(deps.Logs.Stream()))
	server.DELETE("/plugins/logs", HandleClearPluginLogs(deps.Logs))
	server.GET("/plugins/sources", HandleSources(deps.Settings))

	return r
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Server serves the API on one address.
type Server struct {
	addr     string
	handler  http.Handler
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
}

// NewServer creates a server for handler. An empty addr listens on :8080.
func NewServer(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if addr == "" {
		addr = ":8080"
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    addr,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start binds the listener and serves in the background. The listener is
// bound when Start returns.
func (s *Server) Start() error {
	s.server = &http.Server{
		Handler:           s.handler,
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info("http server listening", "addr", listener.Addr().String())

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
