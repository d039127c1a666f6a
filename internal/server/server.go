// Package server provides the daemon's HTTP surface: the admin API, the
// consumer WebSocket, and the CLI-facing gateway endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/teng-lin/beamcode/internal/gateway"
	"github.com/teng-lin/beamcode/internal/launcher"
	"github.com/teng-lin/beamcode/internal/metrics"
	"github.com/teng-lin/beamcode/internal/session"
)

// Config holds server configuration.
type Config struct {
	Hostname     string
	Port         int
	ControlToken string
	EnableCORS   bool
	ReadTimeout  time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Hostname:    "127.0.0.1",
		Port:        7433,
		EnableCORS:  true,
		ReadTimeout: 30 * time.Second,
	}
}

// Server is the HTTP server.
type Server struct {
	config   *Config
	router   *chi.Mux
	httpSrv  *http.Server
	bridge   *session.Bridge
	gateway  *gateway.Gateway
	launcher *launcher.Launcher
	metrics  *metrics.Metrics
	auth     Authenticator
}

// New creates a Server instance. launcher and m may be nil in tests.
func New(cfg *Config, bridge *session.Bridge, gw *gateway.Gateway, l *launcher.Launcher, m *metrics.Metrics) *Server {
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		bridge:   bridge,
		gateway:  gw,
		launcher: l,
		metrics:  m,
		auth:     &TokenAuthenticator{Token: cfg.ControlToken},
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// SetAuthenticator swaps the consumer authenticator.
func (s *Server) SetAuthenticator(a Authenticator) { s.auth = a }

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		}))
	}
}

func (s *Server) setupRoutes() {
	r := s.router

	r.Route("/api", func(r chi.Router) {
		r.Use(requireToken(s.config.ControlToken))

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.deleteSession)
				r.Get("/logs", s.getSessionLogs)
				r.Post("/archive", s.archiveSession)
			})
		})
	})

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/ws", s.consumerWS)
	if s.gateway != nil {
		r.Get("/cli/ws", s.gateway.ServeHTTP)
	}
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins listening.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port)
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		// No write timeout: consumer sockets are long-lived.
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.bridge.Sessions()),
		"time":     time.Now().UTC(),
	})
}
