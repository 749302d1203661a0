// Copyright (c) 2025 The go-passkey Authors
//
// This file is part of go-passkey.
//
// go-passkey is licensed under the MIT License.
// See the LICENSE file for details.

// Package server assembles the passkeyd HTTP server: ceremony routes, health
// probes, Prometheus metrics and graceful shutdown.
package server

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/passkeyhq/go-passkey/internal/config"
	"github.com/passkeyhq/go-passkey/pkg/passkey"
	passkeyhttp "github.com/passkeyhq/go-passkey/pkg/passkey/http"
	"github.com/passkeyhq/go-passkey/pkg/passkey/sqlite"
	"github.com/passkeyhq/go-passkey/pkg/ratelimit"
)

// Server runs the passkey ceremony engine behind an HTTP listener.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	service *passkey.Service
	limiter *ratelimit.Limiter
	store   *sqlite.Store // nil with the memory backend

	httpServer    *http.Server
	metricsServer *http.Server

	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

// New creates a server from the loaded configuration.
func New(cfg *config.Config) (*Server, error) {
	logger := setupLogger(cfg.Logging)

	s := &Server{
		config:     cfg,
		logger:     logger,
		shutdownCh: make(chan struct{}),
	}

	params := passkey.ServiceParams{
		Config: cfg.PasskeyConfig(),
		Logger: logger,
	}

	if cfg.Storage.Backend == "sqlite" {
		store, err := sqlite.Open(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		s.store = store
		params.Users = store
		params.Challenges = store
		params.Credentials = store
		logger.Info("Using sqlite storage", "path", cfg.Storage.Path)
	} else {
		logger.Info("Using in-memory storage")
	}

	key, err := loadTokenKey(cfg.Token, logger)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to load token signing key: %w", err)
	}
	tokens, err := passkey.NewJWTGenerator(&passkey.JWTGeneratorConfig{
		PrivateKey: key,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
		ExpiresIn:  time.Duration(cfg.Token.TTLSecs) * time.Second,
	})
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to create token generator: %w", err)
	}
	params.Tokens = tokens

	if cfg.Metrics.Enabled {
		params.Metrics = passkey.NewMetrics(prometheus.DefaultRegisterer)
	}

	service, err := passkey.NewService(params)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to create passkey service: %w", err)
	}
	s.service = service

	s.limiter = ratelimit.New(&ratelimit.Config{
		Enabled:           cfg.RateLimit.Enabled,
		RequestsPerMinute: cfg.RateLimit.RequestsPerMin,
		Burst:             cfg.RateLimit.Burst,
	})

	router := s.setupRouter()

	tlsConfig, err := s.buildTLSConfig()
	if err != nil {
		s.limiter.Stop()
		s.closeStore()
		return nil, err
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  timeoutOr(cfg.Server.ReadTimeoutSecs, 15*time.Second),
		WriteTimeout: timeoutOr(cfg.Server.WriteTimeoutSecs, 15*time.Second),
		IdleTimeout:  timeoutOr(cfg.Server.IdleTimeoutSecs, 60*time.Second),
		TLSConfig:    tlsConfig,
	}

	return s, nil
}

func timeoutOr(secs int, fallback time.Duration) time.Duration {
	if secs <= 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// setupLogger configures the logger based on config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadTokenKey loads the PEM token signing key, or generates an ephemeral
// ECDSA P-256 key when no key file is configured.
func loadTokenKey(cfg config.TokenConfig, logger *slog.Logger) (crypto.PrivateKey, error) {
	if cfg.KeyFile == "" {
		logger.Warn("No token key file configured, generating an ephemeral signing key; issued tokens will not survive a restart")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	// #nosec G304 - key file path is provided by the operator
	data, err := os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", cfg.KeyFile)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format in %s", cfg.KeyFile)
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(s.recoveryMiddleware())
	r.Use(s.loggingMiddleware())
	if s.limiter.IsEnabled() {
		r.Use(ratelimit.Middleware(s.limiter))
	}

	// Health probes, no rate limit concerns worth special-casing here.
	r.Get("/healthz", s.healthHandler)
	r.Head("/healthz", s.healthHandler)

	handler := passkeyhttp.NewHandler(s.service).WithLogger(s.logger)
	r.Route("/api/v1/passkey", func(r chi.Router) {
		passkeyhttp.MountChi(r, handler)
	})

	// Serve metrics on the main listener when no dedicated port is set.
	if s.config.Metrics.Enabled && s.config.Metrics.Port == s.config.Server.Port {
		r.Get(s.config.Metrics.Path, promhttp.Handler().ServeHTTP)
	}

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) buildTLSConfig() (*tls.Config, error) {
	if !s.config.TLS.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(s.config.TLS.CertFile, s.config.TLS.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// Start starts the HTTP listener and, when configured on its own port, the
// metrics listener. It returns once the listeners are launched.
func (s *Server) Start() error {
	s.logger.Info("Starting passkeyd",
		"address", s.httpServer.Addr,
		"rp_id", s.config.RelyingParty.ID,
		"storage", s.config.Storage.Backend)

	s.wg.Add(1)
	go s.startHTTP()

	if s.config.Metrics.Enabled && s.config.Metrics.Port != s.config.Server.Port {
		s.wg.Add(1)
		go s.startMetrics()
	}

	return nil
}

func (s *Server) startHTTP() {
	defer s.wg.Done()

	var err error
	if s.httpServer.TLSConfig != nil {
		s.logger.Info("Listening for HTTPS", "address", s.httpServer.Addr)
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("Listening for HTTP", "address", s.httpServer.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		s.logger.Error("HTTP server error", slog.Any("error", err))
	}
}

func (s *Server) startMetrics() {
	defer s.wg.Done()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Metrics.Port)

	mux := http.NewServeMux()
	mux.Handle(s.config.Metrics.Path, promhttp.Handler())

	s.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting metrics server", "address", addr, "path", s.config.Metrics.Path)

	if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Metrics server error", slog.Any("error", err))
	}
}

// Shutdown gracefully stops the listeners, waits for in-flight requests and
// closes the store.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down passkeyd...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Error shutting down HTTP server", slog.Any("error", err))
	}

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Error shutting down metrics server", slog.Any("error", err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("All listeners stopped")
	case <-shutdownCtx.Done():
		s.logger.Warn("Shutdown timeout exceeded, forcing stop")
	}

	s.limiter.Stop()
	s.closeStore()

	close(s.shutdownCh)
	s.logger.Info("Shutdown complete")

	return nil
}

func (s *Server) closeStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("Error closing store", slog.Any("error", err))
	}
	s.store = nil
}

// WaitForShutdown blocks until Shutdown completes.
func (s *Server) WaitForShutdown() {
	<-s.shutdownCh
}

// Service exposes the ceremony engine, mainly for tests.
func (s *Server) Service() *passkey.Service {
	return s.service
}

// SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM.
func SetupSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalCh
		slog.Info("Received shutdown signal")
		cancel()
	}()

	return ctx
}
