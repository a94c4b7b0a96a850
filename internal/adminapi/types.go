// Package adminapi implements the REST API for the KeyBox admin plane.
// It handles HTTP routing, request decoding, validation, and response
// formatting for creator-facing package management.
package adminapi

import (
	"regexp"
	"strings"
	"time"

	"github.com/keyboxhq/keybox/internal/rules"
	"github.com/keyboxhq/keybox/internal/store"
)

// shortCodeRegex ensures short codes are URL-safe slugs (lowercase, numbers, hyphens).
// Compiled once at package initialization.
var shortCodeRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// validMatchModes is the closed vocabulary of rule match modes.
var validMatchModes = map[string]struct{}{
	string(rules.MatchModeAnd):   {},
	string(rules.MatchModeOr):    {},
	string(rules.MatchModeOrder): {},
}

// PackageResponse is the package resource as returned by the API.
type PackageResponse struct {
	ID              int64          `json:"id"`
	ShortCode       string         `json:"short_code"`
	Name            string         `json:"name"`
	Keyword         string         `json:"keyword"`
	Content         string         `json:"content"`
	Quota           *int           `json:"quota"`
	UnlockCount     int64          `json:"unlock_count"`
	ExpiresAt       *time.Time     `json:"expires_at"`
	RulesEnabled    bool           `json:"rules_enabled"`
	RequireNickname bool           `json:"require_nickname"`
	Rules           []RuleResponse `json:"rules,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// RuleResponse is one unlock rule as returned by the API.
type RuleResponse struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name,omitempty"`
	Keywords     []string   `json:"keywords"`
	MatchMode    string     `json:"match_mode"`
	Quota        *int       `json:"quota,omitempty"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// EventResponse is one email-capture record as returned by the API.
type EventResponse struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname,omitempty"`
	RuleID    *int64    `json:"rule_id,omitempty"`
	RawTokens []string  `json:"raw_tokens,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// CreatePackageRequest defines the payload for creating a new package.
type CreatePackageRequest struct {
	// ShortCode is required and immutable. Matches '^[a-z0-9-]+$'.
	ShortCode string `json:"short_code"`

	// Name is required.
	Name string `json:"name"`

	Keyword         string        `json:"keyword,omitempty"`
	Content         string        `json:"content,omitempty"`
	Quota           *int          `json:"quota,omitempty"`
	ExpiresAt       *time.Time    `json:"expires_at,omitempty"`
	RulesEnabled    bool          `json:"rules_enabled"`
	RequireNickname bool          `json:"require_nickname"`
	Rules           []RuleRequest `json:"rules,omitempty"`
}

// Sanitize cleans up input data by trimming whitespace and normalizing case.
func (r *CreatePackageRequest) Sanitize() {
	r.ShortCode = strings.ToLower(strings.TrimSpace(r.ShortCode))
	r.Name = strings.TrimSpace(r.Name)
	r.Keyword = strings.TrimSpace(r.Keyword)
}

// Validate checks if the request data adheres to business rules.
// It returns a structured *ErrorResponse if validation fails, or nil if valid.
func (r *CreatePackageRequest) Validate() *ErrorResponse {
	if err := validateShortCode(r.ShortCode); err != nil {
		return err
	}
	if err := validatePackageName(r.Name); err != nil {
		return err
	}
	if r.Quota != nil && *r.Quota < 0 {
		return invalidInput("Quota cannot be negative")
	}
	for i := range r.Rules {
		if err := r.Rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// UpdatePackageRequest defines the payload for partial updates (PATCH).
// Pointers distinguish between "missing field" (do nothing) and an explicit
// update. Quota and ExpiresAt accept explicit nulls to clear the limit.
type UpdatePackageRequest struct {
	Name            *string              `json:"name,omitempty"`
	Keyword         *string              `json:"keyword,omitempty"`
	Content         *string              `json:"content,omitempty"`
	Quota           optField[*int]       `json:"quota"`
	ExpiresAt       optField[*time.Time] `json:"expires_at"`
	RulesEnabled    *bool                `json:"rules_enabled,omitempty"`
	RequireNickname *bool                `json:"require_nickname,omitempty"`
}

// Validate checks if the provided fields adhere to business rules.
func (r *UpdatePackageRequest) Validate() *ErrorResponse {
	if r.Name != nil {
		if err := validatePackageName(*r.Name); err != nil {
			return err
		}
	}
	if r.Quota.set && r.Quota.value != nil && *r.Quota.value < 0 {
		return invalidInput("Quota cannot be negative")
	}
	return nil
}

// toStoreUpdate maps the request onto the store's partial-update struct.
func (r *UpdatePackageRequest) toStoreUpdate() store.PackageUpdate {
	upd := store.PackageUpdate{
		Name:            r.Name,
		Keyword:         r.Keyword,
		Content:         r.Content,
		RulesEnabled:    r.RulesEnabled,
		RequireNickname: r.RequireNickname,
	}
	if r.Quota.set {
		v := r.Quota.value
		upd.Quota = &v
	}
	if r.ExpiresAt.set {
		v := r.ExpiresAt.value
		upd.ExpiresAt = &v
	}
	return upd
}

// RuleRequest is one unlock rule in a create/replace payload.
type RuleRequest struct {
	Name         string     `json:"name,omitempty"`
	Keywords     []string   `json:"keywords"`
	MatchMode    string     `json:"match_mode"`
	Quota        *int       `json:"quota,omitempty"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Validate checks a single rule payload.
func (r *RuleRequest) Validate() *ErrorResponse {
	mode := strings.ToUpper(strings.TrimSpace(r.MatchMode))
	if _, ok := validMatchModes[mode]; !ok {
		return invalidInput("Match mode must be one of AND, OR, ORDER")
	}
	if r.Quota != nil && *r.Quota < 0 {
		return invalidInput("Rule quota cannot be negative")
	}
	if r.StartsAt != nil && r.EndsAt != nil && r.EndsAt.Before(*r.StartsAt) {
		return invalidInput("Rule window end cannot precede its start")
	}
	// An empty keyword list is allowed; such a rule is inert by definition.
	return nil
}

// toRule maps the payload to the engine's rule type. Keyword normalization
// happens at write time in the store.
func (r *RuleRequest) toRule() rules.Rule {
	return rules.Rule{
		Name:         strings.TrimSpace(r.Name),
		Keywords:     r.Keywords,
		MatchMode:    rules.MatchMode(strings.ToUpper(strings.TrimSpace(r.MatchMode))),
		Quota:        r.Quota,
		StartsAt:     r.StartsAt,
		EndsAt:       r.EndsAt,
		ErrorMessage: strings.TrimSpace(r.ErrorMessage),
	}
}

// ReplaceRulesRequest defines the payload for PUT .../rules.
// The submitted set replaces the stored set wholesale.
type ReplaceRulesRequest struct {
	Rules []RuleRequest `json:"rules"`
}

// Validate checks every rule in the set.
func (r *ReplaceRulesRequest) Validate() *ErrorResponse {
	for i := range r.Rules {
		if err := r.Rules[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// PaginatedResponse is a standard wrapper for list endpoints to support offset pagination.
type PaginatedResponse struct {
	// Data holds the list of resources.
	Data interface{} `json:"data"`

	// Pagination contains paging metadata.
	Pagination Pagination `json:"pagination"`
}

// Pagination metadata for the frontend pager.
type Pagination struct {
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}

// --- Validation helpers ---

func invalidInput(message string) *ErrorResponse {
	return &ErrorResponse{Code: "ERR_INVALID_INPUT", Message: message}
}

// validateShortCode enforces the format and length rules for the public slug.
func validateShortCode(code string) *ErrorResponse {
	if code == "" {
		return invalidInput("Short code is required")
	}
	if len(code) < 3 || len(code) > 255 {
		return invalidInput("Short code must be between 3 and 255 characters")
	}
	if !shortCodeRegex.MatchString(code) {
		return invalidInput("Short code must contain only lowercase letters, numbers, and hyphens (slug format)")
	}
	return nil
}

// validatePackageName enforces rules for the human-readable name.
func validatePackageName(name string) *ErrorResponse {
	if name == "" {
		return invalidInput("Name is required")
	}
	if len(name) > 255 {
		return invalidInput("Name must be less than 255 characters")
	}
	return nil
}

// --- Mapping helpers ---

func mapPackageToResponse(p *store.Package, rs []rules.Rule) PackageResponse {
	resp := PackageResponse{
		ID:              p.ID,
		ShortCode:       p.ShortCode,
		Name:            p.Name,
		Keyword:         p.Keyword,
		Content:         p.Content,
		Quota:           p.Quota,
		UnlockCount:     p.UnlockCount,
		ExpiresAt:       p.ExpiresAt,
		RulesEnabled:    p.RulesEnabled,
		RequireNickname: p.RequireNickname,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
	for _, r := range rs {
		resp.Rules = append(resp.Rules, mapRuleToResponse(r))
	}
	return resp
}

func mapRuleToResponse(r rules.Rule) RuleResponse {
	return RuleResponse{
		ID:           r.ID,
		Name:         r.Name,
		Keywords:     r.Keywords,
		MatchMode:    string(r.MatchMode),
		Quota:        r.Quota,
		StartsAt:     r.StartsAt,
		EndsAt:       r.EndsAt,
		ErrorMessage: r.ErrorMessage,
	}
}

func mapEventToResponse(ev *store.UnlockEvent) EventResponse {
	return EventResponse{
		ID:        ev.ID,
		Email:     ev.Email,
		Nickname:  ev.Nickname,
		RuleID:    ev.RuleID,
		RawTokens: ev.RawTokens,
		CreatedAt: ev.CreatedAt,
	}
}
