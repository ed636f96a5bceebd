// Package server is the HTTP surface: craving search, recommendations, menu
// name matching, and the admin re-embed trigger.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/ca-srg/cravings/internal/menu"
	"github.com/ca-srg/cravings/internal/precompute"
)

// Searcher answers craving queries.
type Searcher interface {
	FindCraving(ctx context.Context, raw string) ([]menu.SearchMatch, error)
}

// Recommender suggests menu items for a user.
type Recommender interface {
	Recommend(ctx context.Context, userID string, topN int) ([]menu.MenuItem, error)
}

// Reembedder starts and reports background re-embed runs.
type Reembedder interface {
	Start(ctx context.Context) (string, error)
	Status() precompute.Status
}

// Config holds the listener and middleware settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit      int
	AllowedOrigins []string
	// AdminSecret guards the re-embed endpoints. Empty leaves them open.
	AdminSecret string
	DefaultTopN int
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		RateLimit:       120,
		AllowedOrigins:  []string{"*"},
		DefaultTopN:     3,
	}
}

// Deps are the collaborators the handlers call. Reembedder, Menu and MCP
// may be nil, which leaves the matching routes unmounted.
type Deps struct {
	Searcher    Searcher
	Recommender Recommender
	Reembedder  Reembedder
	Menu        menu.Store
	MCP         http.Handler
}

// Server serves the HTTP API.
type Server struct {
	config     Config
	deps       Deps
	logger     zerolog.Logger
	httpServer *http.Server

	shutdownOnce sync.Once
}

// New validates deps and builds a Server.
func New(cfg Config, deps Deps, logger zerolog.Logger) (*Server, error) {
	if deps.Searcher == nil {
		return nil, fmt.Errorf("searcher cannot be nil")
	}
	if deps.Recommender == nil {
		return nil, fmt.Errorf("recommender cannot be nil")
	}
	if cfg.DefaultTopN <= 0 {
		cfg.DefaultTopN = 3
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	logger = logger.With().Str("component", "http").Logger()
	if cfg.AdminSecret == "" && deps.Reembedder != nil {
		logger.Warn().Msg("ADMIN_REEMBED_SECRET is not set; admin re-embed endpoints are unauthenticated")
	}

	return &Server{config: cfg, deps: deps, logger: logger}, nil
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", adminSecretHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.config.RateLimit > 0 {
			r.Use(httprate.LimitByIP(s.config.RateLimit, time.Minute))
		}

		r.Post("/api/find_craving", s.handleFindCraving)
		r.Get("/recommendations/{user_id}", s.handleRecommendations)
		if s.deps.Menu != nil {
			r.Get("/api/menu/match", s.handleMenuMatch)
		}
	})

	if s.deps.Reembedder != nil {
		r.Route("/api/admin/reembed", func(r chi.Router) {
			r.Use(s.requireAdminSecret)
			r.Post("/", s.handleReembedStart)
			r.Get("/", s.handleReembedStatus)
		})
	}

	if s.deps.MCP != nil {
		r.Handle("/mcp", s.deps.MCP)
		r.Handle("/mcp/*", s.deps.MCP)
	}

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		return err
	}
}

func (s *Server) shutdown() error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.logger.Info().Msg("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	})
	return shutdownErr
}
