// Package server implements the health, metrics and ingest HTTP servers.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Config contains listen ports and paths. An IngestPort of 0 disables the ingest server.
type Config struct {
	HealthPort    int
	LivenessPath  string
	ReadinessPath string
	MetricsPort   int
	MetricsPath   string
	IngestPort    int
}

// Server runs the HTTP servers.
type Server struct {
	servers map[string]*http.Server
	logger  *zap.Logger

	mu    sync.Mutex
	addrs map[string]net.Addr
}

// NewServer creates the servers. A nil registry disables the metrics server
// and a nil ingest handler the ingest server.
func NewServer(
	config Config,
	healthChecker HealthChecker,
	registry *prometheus.Registry,
	ingest http.Handler,
	logger *zap.Logger,
) *Server {
	logger = logger.Named("server")

	if config.LivenessPath == "" {
		config.LivenessPath = "/health/live"
	}
	if config.ReadinessPath == "" {
		config.ReadinessPath = "/health/ready"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+config.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+config.ReadinessPath, ReadinessHandler(healthChecker, logger))

	servers := map[string]*http.Server{
		"health": newHTTPServer(config.HealthPort, healthMux, 10*time.Second),
	}
	if registry != nil {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(config.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		servers["metrics"] = newHTTPServer(config.MetricsPort, metricsMux, 10*time.Second)
	}
	if ingest != nil {
		// Ingest requests may wait for buffer capacity.
		servers["ingest"] = newHTTPServer(config.IngestPort, ingest, 0)
	}

	return &Server{
		servers: servers,
		logger:  logger,
		addrs:   make(map[string]net.Addr),
	}
}

func newHTTPServer(port int, handler http.Handler, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
	}
}

// Start binds every server and serves in the background.
// It fails if any port cannot be bound.
func (s *Server) Start() error {
	listeners := make(map[string]net.Listener, len(s.servers))
	for name, srv := range s.servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, l := range listeners {
				_ = l.Close()
			}
			return fmt.Errorf("failed to listen for %s server on %s: %w", name, srv.Addr, err)
		}
		listeners[name] = ln
	}

	s.mu.Lock()
	for name, ln := range listeners {
		s.addrs[name] = ln.Addr()
	}
	s.mu.Unlock()

	for name, ln := range listeners {
		go s.serve(name, s.servers[name], ln)
	}
	return nil
}

func (s *Server) serve(name string, srv *http.Server, ln net.Listener) {
	s.logger.Info("Starting HTTP server", zap.String("server", name), zap.String("addr", ln.Addr().String()))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server failed", zap.String("server", name), zap.Error(err))
	}
}

// Addr returns the bound address of the named server ("health", "metrics" or
// "ingest"), or nil before Start.
func (s *Server) Addr(name string) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[name]
}

// Shutdown gracefully shuts down all servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP servers")

	errChan := make(chan error, len(s.servers))
	for name, srv := range s.servers {
		go func(name string, srv *http.Server) {
			if err := srv.Shutdown(ctx); err != nil {
				errChan <- fmt.Errorf("%s server: %w", name, err)
				return
			}
			errChan <- nil
		}(name, srv)
	}

	var lastErr error
	for range s.servers {
		if err := <-errChan; err != nil {
			s.logger.Error("Error shutting down server", zap.Error(err))
			lastErr = err
		}
	}

	return lastErr
}
