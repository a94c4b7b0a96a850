// Package unlock implements the orchestration of a single unlock attempt:
// package resolution, keyword validation (rule engine or legacy single
// keyword), quota gates, rate limiting, idempotent re-unlock detection, and
// the event write.
package unlock

// Status discriminates the success variants of a Result.
type Status string

const (
	// StatusFresh marks a first-time unlock; exactly one event was written.
	StatusFresh Status = "fresh"

	// StatusRepeat marks an idempotent re-unlock ("welcome back"); no new
	// event was written.
	StatusRepeat Status = "repeat"

	// StatusError marks a terminal failure; Kind and Message are set.
	StatusError Status = "error"
)

// ErrorKind classifies terminal failures of the unlock flow.
type ErrorKind string

const (
	// KindNotFound: the package does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindExpired: the package's expiry timestamp has passed.
	KindExpired ErrorKind = "expired"

	// KindInvalidKeyword: no rule matched, or the legacy keyword comparison
	// failed. Failures are reported at the combined keyword-and-email level;
	// the message never reveals which part was wrong.
	KindInvalidKeyword ErrorKind = "invalid_keyword"

	// KindExhausted: the package-level quota is reached. Callers offer a
	// waitlist join instead of a retry.
	KindExhausted ErrorKind = "exhausted"

	// KindRuleQuotaExhausted: the matched rule's own quota is reached.
	KindRuleQuotaExhausted ErrorKind = "rule_quota_exhausted"

	// KindRateLimited: too many attempts by this visitor inside the window.
	KindRateLimited ErrorKind = "rate_limited"

	// KindWriteError: the event write failed; surfaced generically.
	KindWriteError ErrorKind = "write_error"
)

// Default user-facing messages per kind. InvalidKeyword may be overridden by
// a rule-supplied custom message.
var defaultMessages = map[ErrorKind]string{
	KindNotFound:           "This package does not exist.",
	KindExpired:            "This package is no longer available.",
	KindInvalidKeyword:     "That keyword and email combination did not unlock anything.",
	KindExhausted:          "This package has reached its unlock limit.",
	KindRuleQuotaExhausted: "This keyword has reached its unlock limit.",
	KindRateLimited:        "Too many attempts. Please wait a moment and try again.",
	KindWriteError:         "Something went wrong. Please try again.",
}

// Result is the discriminated outcome of one unlock attempt.
type Result struct {
	Status  Status
	Content string

	// MatchedRuleID is set on fresh unlocks admitted by a rule.
	MatchedRuleID *int64

	// Kind and Message are set when Status is StatusError.
	Kind    ErrorKind
	Message string
}

// Fresh builds a first-time success result.
func Fresh(content string, matchedRuleID *int64) Result {
	return Result{Status: StatusFresh, Content: content, MatchedRuleID: matchedRuleID}
}

// Repeat builds an idempotent re-unlock result.
func Repeat(content string) Result {
	return Result{Status: StatusRepeat, Content: content}
}

// Failure builds an error result. An empty message selects the kind's
// default.
func Failure(kind ErrorKind, message string) Result {
	if message == "" {
		message = defaultMessages[kind]
	}
	return Result{Status: StatusError, Kind: kind, Message: message}
}
