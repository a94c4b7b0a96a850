package adminapi

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/logger"
)

// handleListEvents processes GET /api/v1/packages/{code}/events.
// Returns the package's email-capture log, newest first, paginated.
func (a *API) handleListEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	page, err := parseOptionalInt(r, "page", 1)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	pageSize, err := parseOptionalInt(r, "page_size", 50)
	if err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INVALID_QUERY_PARAM",
			Message: err.Error(),
		})
		return
	}

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	if pageSize > 500 {
		pageSize = 500
	}

	pkg, err := a.packages.GetPackage(r.Context(), code)
	if err != nil {
		a.renderStoreError(w, r, log, err, "Failed to get package")
		return
	}

	offset := (page - 1) * pageSize

	events, totalItems, err := a.events.ListEventsByPackage(r.Context(), pkg.ID, pageSize, offset)
	if err != nil {
		log.Error("failed to list events from db",
			slog.String("short_code", pkg.ShortCode),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to list unlock events",
		})
		return
	}

	dtos := make([]EventResponse, len(events))
	for i, ev := range events {
		dtos[i] = mapEventToResponse(ev)
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
