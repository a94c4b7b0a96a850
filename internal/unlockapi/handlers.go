package unlockapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/cache"
	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/observability"
	"github.com/keyboxhq/keybox/internal/store"
	"github.com/keyboxhq/keybox/internal/unlock"
)

// kindToHTTPStatus maps terminal failure kinds to HTTP status codes.
var kindToHTTPStatus = map[unlock.ErrorKind]int{
	unlock.KindNotFound:           http.StatusNotFound,
	unlock.KindExpired:            http.StatusGone,
	unlock.KindInvalidKeyword:     http.StatusUnprocessableEntity,
	unlock.KindExhausted:          http.StatusForbidden,
	unlock.KindRuleQuotaExhausted: http.StatusForbidden,
	unlock.KindRateLimited:        http.StatusTooManyRequests,
	unlock.KindWriteError:         http.StatusInternalServerError,
}

// handleUnlock processes POST /v1/packages/{code}/unlock.
//
// Form-level validation (email present and well-formed, nickname present when
// the package demands one) happens here; everything downstream of the form is
// the orchestrator's business.
func (a *API) handleUnlock(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")
	start := time.Now()

	var req UnlockRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()

	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "A valid email address is required",
		})
		return
	}

	// The nickname requirement is a form concern, checked against the cached
	// snapshot. An unknown package falls through to the orchestrator, which
	// owns the not-found outcome.
	if snap, err := a.getSnapshot(r.Context(), code); err == nil {
		if snap.Package.RequireNickname && req.Nickname == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INVALID_INPUT",
				Message: "This package requires a nickname",
			})
			return
		}
	}

	result, err := a.unlocker.Unlock(r.Context(), code, unlock.Input{
		Email:    req.Email,
		Keyword:  req.Keyword,
		Nickname: req.Nickname,
	})
	if err != nil {
		log.Error("unlock attempt failed", slog.String("code", code), slog.String("error", err.Error()))
		observability.UnlockOutcomes.WithLabelValues("internal_error").Inc()
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Something went wrong. Please try again.",
		})
		return
	}

	observability.UnlockAttemptDuration.Observe(time.Since(start).Seconds())

	if result.Status == unlock.StatusError {
		observability.UnlockOutcomes.WithLabelValues(string(result.Kind)).Inc()

		status, ok := kindToHTTPStatus[result.Kind]
		if !ok {
			status = http.StatusInternalServerError
		}

		render.Status(r, status)
		render.JSON(w, r, UnlockResponse{
			Status:  string(unlock.StatusError),
			Kind:    string(result.Kind),
			Message: result.Message,
			WaitlistAvailable: result.Kind == unlock.KindExhausted ||
				result.Kind == unlock.KindRuleQuotaExhausted,
		})
		return
	}

	observability.UnlockOutcomes.WithLabelValues(string(result.Status)).Inc()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, UnlockResponse{
		Status:  string(result.Status),
		Content: result.Content,
	})
}

// handleGetMetadata processes GET /v1/packages/{code}: the public,
// pre-unlock view served from the snapshot cache.
func (a *API) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	snap, err := a.getSnapshot(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "This package does not exist.",
			})
			return
		}

		log.Error("failed to load package snapshot", slog.String("code", code), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to load package",
		})
		return
	}

	p := snap.Package
	render.Status(r, http.StatusOK)
	render.JSON(w, r, MetadataResponse{
		ShortCode:       p.ShortCode,
		Name:            p.Name,
		RequireNickname: p.RequireNickname,
		ExpiresAt:       p.ExpiresAt,
		Exhausted:       p.Quota != nil && p.UnlockCount >= int64(*p.Quota),
	})
}

// handleJoinWaitlist processes POST /v1/packages/{code}/waitlist.
// Repeat joins are a silent no-op at the storage level.
func (a *API) handleJoinWaitlist(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	var req WaitlistRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if err := validate.Struct(&req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_INPUT",
			Message: "A valid email address is required",
		})
		return
	}

	snap, err := a.getSnapshot(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_NOT_FOUND",
				Message: "This package does not exist.",
			})
			return
		}

		log.Error("failed to load package for waitlist", slog.String("code", code), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to join the waitlist",
		})
		return
	}

	if err := a.waitlist.JoinWaitlist(r.Context(), snap.Package.ID, req.Email); err != nil {
		log.Error("failed to join waitlist", slog.String("code", code), slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to join the waitlist",
		})
		return
	}

	observability.WaitlistJoins.Inc()

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]string{"status": "joined"})
}

// getSnapshot resolves a package snapshot through the cache hierarchy:
// L1 (in-process) -> L2 (Redis) -> Postgres, writing back on the way up.
//
// Snapshots are keyed by short code. Lookups by numeric id skip the cache
// layers so a stale alias can never shadow an invalidation.
func (a *API) getSnapshot(ctx context.Context, code string) (*store.PackageSnapshot, error) {
	log := logger.FromContext(ctx)

	if a.l1 != nil {
		if snap, ok := a.l1.Get(code); ok {
			observability.UnlockCacheHits.WithLabelValues("l1").Inc()
			return snap, nil
		}
	}

	if a.l2 != nil {
		snap, err := a.l2.GetSnapshot(ctx, code)
		switch {
		case err == nil:
			observability.UnlockCacheHits.WithLabelValues("l2").Inc()
			if a.l1 != nil && snap.Package.ShortCode == code {
				a.l1.Set(code, snap)
			}
			return snap, nil
		case !errors.Is(err, cache.ErrMiss):
			// Fail open: a broken cache must not take the read path down.
			log.Warn("l2 snapshot lookup failed, falling back to database",
				slog.String("code", code),
				slog.String("error", err.Error()))
		}
	}

	observability.UnlockCacheMisses.Inc()

	snap, err := a.snapshots.BuildSnapshot(ctx, code)
	if err != nil {
		return nil, err
	}

	if snap.Package.ShortCode == code {
		if a.l2 != nil {
			if err := a.l2.SetSnapshot(ctx, snap, a.l2TTL); err != nil {
				log.Warn("failed to write snapshot to l2", slog.String("code", code), slog.String("error", err.Error()))
			}
		}
		if a.l1 != nil {
			a.l1.Set(code, snap)
		}
	}

	return snap, nil
}
