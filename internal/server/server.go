// Package server is the companion daemon's HTTP surface. Browser-side
// platform adapters create a session, stream playback and page events over a
// WebSocket, and post the caption payloads they intercept; the daemon runs
// the caption pipeline and sends overlay and control instructions back.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/captionflow/internal/health"
	"github.com/MrWong99/captionflow/internal/observe"
	"github.com/MrWong99/captionflow/internal/session"
)

// maxBodyBytes bounds request bodies. Caption payloads for long videos run
// to a few megabytes.
const maxBodyBytes = 16 << 20

// Option is a functional option for configuring a [Server].
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithHealth serves h on /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithAllowedOrigins restricts CORS and WebSocket origins. Empty allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithAuthSecret enables bearer token checks on the session routes.
func WithAuthSecret(secret string) Option {
	return func(s *Server) {
		s.secret = []byte(secret)
	}
}

// WithMetricsHandler replaces the /metrics handler. Nil disables the route.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metricsHandler = h
	}
}

// Server routes daemon requests to the session registry.
type Server struct {
	registry       *session.Registry
	logger         *slog.Logger
	metrics        *observe.Metrics
	health         *health.Handler
	origins        []string
	secret         []byte
	metricsHandler http.Handler

	router chi.Router
}

// New builds the router for reg.
func New(reg *session.Registry, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		logger:         slog.Default(),
		metrics:        observe.DefaultMetrics(),
		health:         health.New(),
		metricsHandler: promhttp.Handler(),
	}
	for _, o := range opts {
		o(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(observe.Middleware(s.metrics, s.logger))
	r.Use(cors.Handler(corsOptions(s.origins)))

	s.health.Register(r)
	if s.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.metricsHandler)
	}

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.createSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.deleteSession)
			r.Post("/captions", s.postCaptions)
			r.Get("/ws", s.serveWS)
		})
	})
	return r
}

// corsOptions allows the extension origins to call the daemon. A wildcard
// disables credentials.
func corsOptions(allowed []string) cors.Options {
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	allowCreds := true
	for _, o := range allowed {
		if o == "*" {
			allowCreds = false
			break
		}
	}
	return cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: allowCreds,
		MaxAge:           300,
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
