// Package api provides the HTTP REST API server.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/good-yellow-bee/blazealert/internal/alerting"
	"github.com/good-yellow-bee/blazealert/internal/api/auth"
	"github.com/good-yellow-bee/blazealert/internal/api/health"
	"github.com/good-yellow-bee/blazealert/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address string `yaml:"address" env:"API_ADDRESS" env-default:":8080"`
	// JWTSecret enables bearer token auth on /api/v1 when set.
	JWTSecret          string        `yaml:"jwt_secret" env:"API_JWT_SECRET"`
	TokenTTL           time.Duration `yaml:"token_ttl" env:"API_TOKEN_TTL"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute" env:"API_RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int           `yaml:"rate_limit_burst" env:"API_RATE_LIMIT_BURST"`
	RequestTimeout     time.Duration `yaml:"request_timeout" env:"API_REQUEST_TIMEOUT"`
	TLSEnabled         bool          `yaml:"tls_enabled" env:"API_TLS_ENABLED"`
	TLSCertFile        string        `yaml:"tls_cert_file" env:"API_TLS_CERT_FILE"`
	TLSKeyFile         string        `yaml:"tls_key_file" env:"API_TLS_KEY_FILE"`
	Verbose            bool          `yaml:"verbose" env:"API_VERBOSE"`
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 600
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 50
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 15 * time.Second
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return errors.New("jwt_secret must be at least 32 characters")
	}
	if c.TLSEnabled && (c.TLSCertFile == "" || c.TLSKeyFile == "") {
		return errors.New("tls_cert_file and tls_key_file are required when TLS is enabled")
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		return errors.New("rate limits must not be negative")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	engine        *alerting.Engine
	storage       storage.Storage
	jwt           *auth.JWTService
	logger        zerolog.Logger
	server        *http.Server
	healthHandler *health.Handler
}

// New creates a new API server.
func New(cfg *Config, engine *alerting.Engine, store storage.Storage, logger zerolog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid api config: %w", err)
	}

	s := &Server{
		config:        cfg,
		engine:        engine,
		storage:       store,
		logger:        logger.With().Str("component", "api").Logger(),
		healthHandler: health.NewHandler(),
	}
	if cfg.JWTSecret != "" {
		s.jwt = auth.NewJWTService([]byte(cfg.JWTSecret), cfg.TokenTTL)
	}

	s.server = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.setupRouter(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS13}
	}
	return s, nil
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info().Str("address", s.config.Address).Bool("auth", s.jwt != nil).Msg("HTTP API listening")
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	if s.healthHandler != nil {
		s.healthHandler.RegisterChecker(c)
	}
}
