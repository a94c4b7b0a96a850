package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/store"
)

// API is the main struct that holds dependencies and the router for the admin plane.
// It follows the Dependency Injection pattern to facilitate testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// packages / ruleRepo / events are the data access layers.
	// Interface types so unit tests can substitute fakes.
	packages store.PackageRepository
	ruleRepo store.RuleRepository
	events   store.EventRepository

	// cache publishes package invalidation events to the unlock plane.
	cache cache.Service

	// apiKeyHash is the SHA-256 hash of the valid API key.
	apiKeyHash string

	// skipAuth disables authentication when true (test/dev environments only).
	skipAuth bool
}

// NewAPI creates a new API instance with authentication enabled.
// The apiKeyHash parameter must be the SHA-256 hash of the API key.
func NewAPI(packages store.PackageRepository, ruleRepo store.RuleRepository, events store.EventRepository, cacheSvc cache.Service, apiKeyHash string) *API {
	return NewAPIWithConfig(packages, ruleRepo, events, cacheSvc, apiKeyHash, false)
}

// NewAPIWithConfig creates a new API instance with explicit control over
// authentication. skipAuth is intended for tests only.
//
// Panics if any repository or the cache service is nil, or if apiKeyHash is
// empty while authentication is enabled.
func NewAPIWithConfig(packages store.PackageRepository, ruleRepo store.RuleRepository, events store.EventRepository, cacheSvc cache.Service, apiKeyHash string, skipAuth bool) *API {
	if packages == nil {
		panic("adminapi: package repository cannot be nil")
	}
	if ruleRepo == nil {
		panic("adminapi: rule repository cannot be nil")
	}
	if events == nil {
		panic("adminapi: event repository cannot be nil")
	}
	if cacheSvc == nil {
		panic("adminapi: cache service cannot be nil")
	}
	if !skipAuth && apiKeyHash == "" {
		panic("adminapi: apiKeyHash cannot be empty when authentication is enabled")
	}

	api := &API{
		Router:     chi.NewRouter(),
		packages:   packages,
		ruleRepo:   ruleRepo,
		events:     events,
		cache:      cacheSvc,
		apiKeyHash: apiKeyHash,
		skipAuth:   skipAuth,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// Global middleware stack. RequestID first so the logger can pick it up.
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(RequestMetrics)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	// Public routes (no authentication required).
	a.Router.Get("/health", a.handleHealthCheck)

	// Protected API V1 routes.
	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Use(a.authenticateAPIKey)

		r.Route("/packages", func(r chi.Router) {
			r.Post("/", a.handleCreatePackage)
			r.Get("/", a.handleListPackages)

			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", a.handleGetPackage)
				r.Patch("/", a.handleUpdatePackage)
				r.Delete("/", a.handleDeletePackage)

				r.Get("/rules", a.handleListRules)
				r.Put("/rules", a.handleReplaceRules)

				r.Get("/events", a.handleListEvents)
			})
		})
	})
}

// handleHealthCheck verifies the service is up and serving HTTP.
// Deep dependency checks live on the dedicated health endpoint.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
