package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/me/computerd/internal/computer"
	"github.com/me/computerd/internal/config"
	"github.com/me/computerd/internal/logging"
	"github.com/me/computerd/internal/manager"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Host is the tick loop the server drives computers through. Mutations run
// inside Call; reads use the manager's published snapshot.
type Host interface {
	Call(ctx context.Context, fn func() error) error
	Manager() *manager.Manager
	Save(ctx context.Context) error
}

// PeripheralFactory builds a fresh peripheral for one attachment.
type PeripheralFactory func() computer.Peripheral

// Server is the computerd operator REST API server.
type Server struct {
	router      chi.Router
	logger      *slog.Logger
	config      config.ServerConfig
	startTime   time.Time
	host        Host
	engineName  string
	callTimeout time.Duration
	peripherals map[string]PeripheralFactory
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithEngineName sets the engine name reported by the health endpoint.
func WithEngineName(name string) Option {
	return func(s *Server) {
		s.engineName = name
	}
}

// WithPeripheral registers a peripheral type operators can attach.
func WithPeripheral(kind string, factory PeripheralFactory) Option {
	return func(s *Server) {
		s.peripherals[kind] = factory
	}
}

// WithCallTimeout bounds how long a request waits for the host tick.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.callTimeout = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.ServerConfig, host Host, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logging.Component(logger, "server"),
		config:      cfg,
		startTime:   time.Now(),
		host:        host,
		engineName:  "unknown",
		callTimeout: 10 * time.Second,
		peripherals: map[string]PeripheralFactory{
			"memory": func() computer.Peripheral { return computer.NewMemoryPeripheral() },
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// call runs fn on the host goroutine, bounded by the request context and
// the call timeout.
func (s *Server) call(r *http.Request, fn func(m *manager.Manager) error) error {
	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()
	return s.host.Call(ctx, func() error { return fn(s.host.Manager()) })
}

func (s *Server) routes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Discovery
		r.Get("/", s.handleDiscovery)

		// Health
		r.Get("/health", s.handleHealth)

		r.Post("/save", s.handleSave)

		r.Route("/computers", func(r chi.Router) {
			r.Get("/", s.handleListComputers)
			r.Post("/", s.handleCreateComputer)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetComputer)
				r.Delete("/", s.handleDeleteComputer)
				r.Post("/on", s.handleTurnOn)
				r.Post("/off", s.handleTurnOff)
				r.Post("/reboot", s.handleReboot)
				r.Post("/keepalive", s.handleKeepAlive)
				r.Post("/events", s.handleQueueEvent)
				r.Put("/label", s.handleSetLabel)
				r.Put("/redstone", s.handleSetRedstone)
				r.Route("/peripherals/{side}", func(r chi.Router) {
					r.Put("/", s.handleAttachPeripheral)
					r.Delete("/", s.handleDetachPeripheral)
				})
			})
		})
	})
}
