package unlockapi

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for request payloads.
var validate = validator.New()

// UnlockRequest is the visitor's form submission.
type UnlockRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Keyword  string `json:"keyword"`
	Nickname string `json:"nickname"`
}

// Sanitize trims the fields that tolerate stray whitespace. The email is
// trimmed but its case is preserved: repeat-visit detection is
// case-sensitive on purpose.
func (r *UnlockRequest) Sanitize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Nickname = strings.TrimSpace(r.Nickname)
}

// UnlockResponse is the outcome of an unlock attempt as seen by the browser.
type UnlockResponse struct {
	// Status is "fresh", "repeat", or "error".
	Status string `json:"status"`

	// Content carries the unlocked payload on success.
	Content string `json:"content,omitempty"`

	// Kind and Message describe the failure when Status is "error".
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`

	// WaitlistAvailable tells the frontend to offer a waitlist join instead
	// of a retry. Set on quota-exhausted failures.
	WaitlistAvailable bool `json:"waitlist_available,omitempty"`
}

// MetadataResponse is the public, pre-unlock view of a package. It never
// exposes the content, the keyword, or the rule set.
type MetadataResponse struct {
	ShortCode       string     `json:"short_code"`
	Name            string     `json:"name"`
	RequireNickname bool       `json:"require_nickname"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`

	// Exhausted lets the frontend disable the form up-front. Computed from a
	// cached snapshot, so it may lag the true counter by the cache TTL.
	Exhausted bool `json:"exhausted"`
}

// WaitlistRequest is the body of a waitlist join.
type WaitlistRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ErrorResponse is the structured error envelope for the unlock plane.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
