package adminapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/keyboxhq/keybox/internal/logger"
	"github.com/keyboxhq/keybox/internal/rules"
)

// handleListRules processes GET /api/v1/packages/{code}/rules.
func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
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
			Message: "Failed to list rules",
		})
		return
	}

	dtos := make([]RuleResponse, len(rs))
	for i, rule := range rs {
		dtos[i] = mapRuleToResponse(rule)
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{"rules": dtos})
}

// handleReplaceRules processes PUT /api/v1/packages/{code}/rules.
//
// Rule edits are never field-level patches: the submitted set replaces the
// stored set wholesale, in one transaction. An empty set clears the rules.
func (a *API) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	code := chi.URLParam(r, "code")

	var req ReplaceRulesRequest
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

	pkg, err := a.packages.GetPackage(r.Context(), code)
	if err != nil {
		a.renderStoreError(w, r, log, err, "Failed to get package")
		return
	}

	stored, err := a.ruleRepo.ReplaceRules(r.Context(), pkg.ID, mapRuleRequests(req.Rules))
	if err != nil {
		log.Error("failed to replace rules in db",
			slog.String("short_code", pkg.ShortCode),
			slog.String("error", err.Error()))
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{
			Code:    "ERR_INTERNAL",
			Message: "Failed to replace rules",
		})
		return
	}

	a.notifyCacheAsync(log, pkg.ShortCode)

	dtos := make([]RuleResponse, len(stored))
	for i, rule := range stored {
		dtos[i] = mapRuleToResponse(rule)
	}

	log.Info("rules replaced successfully",
		slog.String("short_code", pkg.ShortCode),
		slog.Int("rule_count", len(stored)))
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]interface{}{"rules": dtos})
}

// mapRuleRequests converts the payload rules to engine rules.
func mapRuleRequests(reqs []RuleRequest) []rules.Rule {
	rs := make([]rules.Rule, len(reqs))
	for i := range reqs {
		rs[i] = reqs[i].toRule()
	}
	return rs
}
