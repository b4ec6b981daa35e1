package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/fursona/pkg/billing"
	"github.com/platinummonkey/fursona/pkg/httputil"
	"github.com/platinummonkey/fursona/pkg/middleware"
	"github.com/platinummonkey/fursona/pkg/observability"
)

// Dependencies are the services the routes are built from. Limiters are
// optional.
type Dependencies struct {
	Auth          AuthService
	Personas      PersonaService
	Subscriptions SubscriptionReader
	Checkout      CheckoutService
	Webhooks      WebhookProcessor
	Catalog       billing.CatalogSource
	AuthMW        *middleware.AuthMiddleware
	Metrics       *observability.Metrics

	LoginLimiter    middleware.Limiter
	GenerateLimiter middleware.Limiter
}

// Server represents our API server
type Server struct {
	router *mux.Router
	deps   Dependencies
}

// NewServer creates a new API server
func NewServer(deps Dependencies) *Server {
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	if s.deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.deps.Metrics))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)

	s.RegisterRoutes(api, NewAuthHandlers(s.deps.Auth, s.deps.Subscriptions, s.deps.AuthMW, s.limit("login", s.deps.LoginLimiter)))
	s.RegisterRoutes(api, NewFursonaHandlers(s.deps.Personas, s.deps.AuthMW, s.limit("generate", s.deps.GenerateLimiter)))
	s.RegisterRoutes(api, NewSubscriptionHandlers(s.deps.Subscriptions, s.deps.Checkout, s.deps.Catalog, s.deps.Auth, s.deps.AuthMW))
	s.RegisterRoutes(api, NewWebhookHandlers(s.deps.Webhooks))

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "Not found")
	})
}

// limit returns the rate limiting middleware for limiter, or a no-op
func (s *Server) limit(name string, limiter middleware.Limiter) func(http.Handler) http.Handler {
	if limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return middleware.RateLimit(name, limiter, s.deps.Metrics)
}

// health handles GET /api/health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]string{
		"status":  "ok",
		"message": "Fursona API is running",
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can add routes
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(router *mux.Router, registrar RouteRegistrar) {
	registrar.RegisterRoutes(router)
}
