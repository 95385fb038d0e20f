package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// RequestTimeout bounds reading a request.
const RequestTimeout = 5 * time.Second

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 5 * time.Second

// Server serves health, readiness and metrics endpoints.
type Server struct {
	metrics *Metrics
	router  *gin.Engine
	addr    string
}

// NewServer creates a server for metrics listening on addr, for example
// ":8080".
func NewServer(addr string, metrics *Metrics) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{metrics: metrics, addr: addr}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	for _, p := range []string{"/health", "/healthz"} {
		router.GET(p, s.handleHealth)
	}
	for _, p := range []string{"/ready", "/readyz"} {
		router.GET(p, s.handleReady)
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	s.router = router
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	st := s.metrics.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"checks_successful": st.ChecksSuccessful,
		"checks_failed":     st.ChecksFailed,
		"last_check_time":   st.LastCheckTime,
		"last_check_ok":     st.LastCheckOK,
	})
}

func (s *Server) handleReady(c *gin.Context) {
	if s.metrics.Status().Ready() {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"function": "health.requestLogger",
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"elapsed":  time.Since(start).String(),
		}).Debug("Health request")
	}
}

// Run listens on the configured address until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind health server on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       RequestTimeout,
		ReadHeaderTimeout: RequestTimeout,
		WriteTimeout:      RequestTimeout,
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
		"addr":     ln.Addr().String(),
	}).Info("Health server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logrus.WithFields(logrus.Fields{
		"function": "Server.Serve",
	}).Info("Health server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health server shutdown: %w", err)
	}
	return nil
}
