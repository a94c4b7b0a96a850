// Package unlockapi implements the public HTTP surface of the unlock plane:
// the unlock attempt endpoint, the package metadata endpoint backed by the
// two-level snapshot cache, and the waitlist join endpoint.
package unlockapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/store"
	"github.com/keyboxhq/keybox/internal/unlock"
)

// Unlocker runs one unlock attempt. Satisfied by *unlock.Service; an
// interface so handler tests can substitute a fake.
type Unlocker interface {
	Unlock(ctx context.Context, idOrCode string, in unlock.Input) (unlock.Result, error)
}

// SnapshotBuilder resolves a package with its rules from Postgres. Satisfied
// by *store.PostgresStore; the metadata endpoint falls back to it on a full
// cache miss.
type SnapshotBuilder interface {
	BuildSnapshot(ctx context.Context, idOrCode string) (*store.PackageSnapshot, error)
}

// API holds dependencies and the router for the unlock plane.
type API struct {
	Router *chi.Mux

	unlocker  Unlocker
	snapshots SnapshotBuilder
	waitlist  store.WaitlistRepository

	// l1/l2 form the snapshot cache hierarchy for the metadata endpoint.
	// Either may be nil (e.g., in tests); lookups skip absent layers.
	l1 *cache.MemoryCache
	l2 cache.Service

	// l2TTL bounds the staleness of snapshots written back on read-through.
	l2TTL time.Duration
}

// Options carries the optional cache wiring for NewAPI.
type Options struct {
	L1    *cache.MemoryCache
	L2    cache.Service
	L2TTL time.Duration
}

// NewAPI creates the unlock plane API.
// Panics if the unlocker, snapshot source, or waitlist repository is nil.
func NewAPI(unlocker Unlocker, snapshots SnapshotBuilder, waitlist store.WaitlistRepository, opts Options) *API {
	if unlocker == nil {
		panic("unlockapi: unlocker cannot be nil")
	}
	if snapshots == nil {
		panic("unlockapi: snapshot source cannot be nil")
	}
	if waitlist == nil {
		panic("unlockapi: waitlist repository cannot be nil")
	}

	if opts.L2TTL <= 0 {
		opts.L2TTL = 30 * time.Second
	}

	api := &API{
		Router:    chi.NewRouter(),
		unlocker:  unlocker,
		snapshots: snapshots,
		waitlist:  waitlist,
		l1:        opts.L1,
		l2:        opts.L2,
		l2TTL:     opts.L2TTL,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the middleware stack and the public endpoints.
// The unlock plane carries untrusted browser traffic, so there is no
// authentication layer here.
func (a *API) configureRoutes() {
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.RealIP)
	a.Router.Use(RequestLogger)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/v1/packages/{code}", func(r chi.Router) {
		r.Get("/", a.handleGetMetadata)
		r.Post("/unlock", a.handleUnlock)
		r.Post("/waitlist", a.handleJoinWaitlist)
	})
}

func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "ok"})
}
