// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package server exposes the device's Prometheus metrics and health
// probes over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeremyhahn/go-pnp-device/pkg/correlation"
	"github.com/jeremyhahn/go-pnp-device/pkg/health"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/ratelimit"
)

// Default endpoint paths.
const (
	DefaultMetricsPath = "/metrics"
	DefaultHealthPath  = "/healthz"
	LivenessPath       = "/livez"
)

// ErrNoEndpoints is returned when neither metrics nor health is enabled.
var ErrNoEndpoints = errors.New("server: no endpoints enabled")

// Config configures the listener.
type Config struct {
	Address string

	// TLS, when set, serves HTTPS.
	TLS *tls.Config

	MetricsEnabled bool
	MetricsPath    string
	HealthEnabled  bool
	HealthPath     string

	// RateLimit throttles requests per client address. Nil disables it.
	RateLimit *ratelimit.Config

	Logger *slog.Logger
}

// Server is the metrics and health listener.
type Server struct {
	config  Config
	checker *health.Checker
	limiter *ratelimit.Limiter
	logger  *slog.Logger
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds the server. checker may be nil when health is disabled.
func New(config Config, checker *health.Checker) (*Server, error) {
	if !config.MetricsEnabled && !config.HealthEnabled {
		return nil, ErrNoEndpoints
	}
	if config.MetricsPath == "" {
		config.MetricsPath = DefaultMetricsPath
	}
	if config.HealthPath == "" {
		config.HealthPath = DefaultHealthPath
	}
	if checker == nil {
		checker = health.NewChecker()
	}
	rl := config.RateLimit
	if rl == nil {
		rl = &ratelimit.Config{}
	}

	s := &Server{
		config:  config,
		checker: checker,
		limiter: ratelimit.New(rl),
		logger:  logging.OrDefault(config.Logger),
	}
	s.server = &http.Server{
		Addr:              config.Address,
		Handler:           s.routes(),
		TLSConfig:         config.TLS,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(s.recoveryMiddleware)
	r.Use(correlation.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(ratelimit.Middleware(s.limiter))

	if s.config.HealthEnabled {
		r.Get(s.config.HealthPath, s.readinessHandler)
		r.Get(LivenessPath, s.livenessHandler)
	}
	if s.config.MetricsEnabled {
		r.Handle(s.config.MetricsPath, promhttp.Handler())
	}
	return r
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	if s.config.TLS != nil {
		ln = tls.NewListener(ln, s.config.TLS)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting observability server",
		"address", ln.Addr().String(),
		"tls", s.config.TLS != nil,
		"metrics", s.config.MetricsEnabled,
		"health", s.config.HealthEnabled,
		"rate_limit", s.limiter.IsEnabled())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Observability server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	defer s.limiter.Stop()
	err := s.server.Shutdown(ctx)
	s.wg.Wait()
	return err
}
