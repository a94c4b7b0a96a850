package adminapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/store"
)

// handleCreatePackage processes POST /api/v1/packages.
//
// Decodes and validates the payload, persists the package, and, when the
// payload carries an initial rule set, installs it in a follow-up call.
// Returns 201 with the created resource, or 409 on a short-code collision.
func (a *API) handleCreatePackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	var req CreatePackageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	req.Sanitize()

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	pkg := &store.Package{
		ShortCode:       req.ShortCode,
		Name:            req.Name,
		Keyword:         req.Keyword,
		Content:         req.Content,
		Quota:           req.Quota,
		ExpiresAt:       req.ExpiresAt,
		RulesEnabled:    req.RulesEnabled,
		RequireNickname: req.RequireNickname,
	}

	if err := a.packages.CreatePackage(r.Context(), pkg); err != nil {
		if errors.Is(err, store.ErrDuplicateCode) {
			render.Status(r, http.StatusConflict)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_CONFLICT",
				Message: "A package with this short code already exists",
			})
			return
		}

		log.Error("failed to create package in db", "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to create package in database",
		})
		return
	}

	resp := mapPackageToResponse(pkg, nil)

	// Install the initial rule set, if any. The package row already exists at
	// this point; a failure here leaves a rule-less package behind rather than
	// rolling the create back.
	if len(req.Rules) > 0 {
		rs := mapRuleRequests(req.Rules)
		stored, err := a.ruleRepo.ReplaceRules(r.Context(), pkg.ID, rs)
		if err != nil {
			log.Error("failed to install initial rule set",
				slog.String("short_code", pkg.ShortCode),
				slog.String("error", err.Error()))
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_INTERNAL",
				Message: "Package created but initial rules could not be saved",
			})
			return
		}
		resp = mapPackageToResponse(pkg, stored)
	}

	a.notifyCacheAsync(log, pkg.ShortCode)

	log.Info("package created successfully",
		slog.String("short_code", pkg.ShortCode),
		slog.Int64("package_id", pkg.ID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

// handleListPackages processes GET /api/v1/packages with offset pagination.
func (a *API) handleListPackages(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	pageSize, err := parseOptionalInt(r, "page_size", 10)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	// Silently clamp out-of-bounds values.
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 10
	}
	if pageSize > 100 {
		pageSize = 100
	}

	offset := (page - 1) * pageSize

	pkgs, totalItems, err := a.packages.ListPackages(r.Context(), pageSize, offset)
	if err != nil {
		log.Error("failed to list packages from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list packages",
		})
		return
	}

	dtos := make([]PackageResponse, len(pkgs))
	for i, p := range pkgs {
		dtos[i] = mapPackageToResponse(p, nil)
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(pageSize)))
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, PaginatedResponse{
		Data: dtos,
		Pagination: Pagination{
			TotalItems:  totalItems,
			TotalPages:  totalPages,
			CurrentPage: page,
			PageSize:    pageSize,
		},
	})
}

// handleGetPackage processes GET /api/v1/packages/{code}. The path parameter
// accepts either the short code or the numeric id. The response includes the
// structured rule set.
func (a *API) handleGetPackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	pkg, err := a.packages.GetPackage(r.Context(), code)
	if err != nil {
		a.renderStoreError(w, r, log, err, "Failed to get package")
		return
	}

	rs, err := a.ruleRepo.ListRules(r.Context(), pkg.ID)
	if err != nil {
		log.Error("failed to list rules from db", slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to load package rules",
		})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapPackageToResponse(pkg, rs))
}

// handleUpdatePackage processes PATCH /api/v1/packages/{code}.
// Only the fields present in the payload are touched; quota and expires_at
// accept explicit nulls to clear the limit.
func (a *API) handleUpdatePackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	var req UpdatePackageRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		log.Warn("invalid json payload", slog.String("error", err.Error()))
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_JSON",
			Message: "Invalid JSON payload: " + err.Error(),
		})
		return
	}

	if errResp := req.Validate(); errResp != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errResp)
		return
	}

	pkg, err := a.packages.UpdatePackage(r.Context(), code, req.toStoreUpdate())
	if err != nil {
		a.renderStoreError(w, r, log, err, "Failed to update package")
		return
	}

	a.notifyCacheAsync(log, pkg.ShortCode)

	log.Info("package updated successfully", slog.String("short_code", pkg.ShortCode))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, mapPackageToResponse(pkg, nil))
}

// handleDeletePackage processes DELETE /api/v1/packages/{code}.
// Rules and unlock events cascade at the database level.
func (a *API) handleDeletePackage(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	if err := a.packages.DeletePackage(r.Context(), code); err != nil {
		a.renderStoreError(w, r, log, err, "Failed to delete package")
		return
	}

	a.notifyCacheAsync(log, code)

	log.Info("package deleted successfully", slog.String("code", code))
	render.NoContent(w, r)
}

// --- Private Helpers ---

// renderStoreError translates repository errors into HTTP responses:
// ErrNotFound becomes 404, everything else a logged 500.
func (a *API) renderStoreError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error, msg string) {
	if errors.Is(err, store.ErrNotFound) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_NOT_FOUND",
			Message: "Package not found",
		})
		return
	}

	log.Error(msg, slog.String("error", err.Error()))
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    "ERR_INTERNAL",
		Message: msg,
	})
}

// parseOptionalInt extracts an integer from the query string.
// Missing parameters fall back to defaultValue; malformed ones error.
func parseOptionalInt(r *http.Request, key string, defaultValue int) (int, error) {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultValue, nil
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return 0, fmt.Errorf("parameter '%s' must be an integer", key)
	}
	return val, nil
}

// notifyCacheAsync publishes a package invalidation without blocking the
// request, retrying with exponential backoff.
func (a *API) notifyCacheAsync(log *slog.Logger, shortCode string) {
	go func(code string) {
		// Context disconnected from the HTTP request.
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		const maxRetries = 3
		baseDelay := 100 * time.Millisecond

		for i := 0; i <= maxRetries; i++ {
			err := a.cache.PublishInvalidation(ctx, code)
			if err == nil {
				return
			}

			if i == maxRetries {
				log.Error("CRITICAL: failed to publish invalidation after retries",
					slog.String("code", code),
					slog.String("error", err.Error()))
				return
			}

			log.Warn("failed to publish invalidation, retrying...",
				slog.String("code", code),
				slog.Int("attempt", i+1),
				slog.String("error", err.Error()))

			time.Sleep(baseDelay * time.Duration(1<<i))
		}
	}(shortCode)
}
