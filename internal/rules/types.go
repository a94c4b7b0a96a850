// Package rules implements the unlock-rule evaluation engine for KeyBox.
// A package carries an ordered list of admission rules; each rule names a
// keyword set, a match mode, and optional quota/activation-window limits.
// Evaluation is a pure function of the rule list, the visitor's tokens, and
// the current time.
package rules

import (
	"strings"
	"time"
)

// MatchMode defines how a rule's keyword set is compared against the
// visitor's tokens.
type MatchMode string

const (
	// MatchModeAnd requires every rule keyword to appear in the visitor
	// tokens (subset test, order-independent).
	MatchModeAnd MatchMode = "AND"

	// MatchModeOr requires at least one rule keyword to appear in the
	// visitor tokens.
	MatchModeOr MatchMode = "OR"

	// MatchModeOrder requires the visitor tokens to equal the rule keywords
	// as an exact sequence (same order, same count, same content).
	MatchModeOrder MatchMode = "ORDER"
)

// Rule is one admission policy belonging to a package.
// The JSON tags mirror both the structured storage rows and the legacy
// rules_json blob kept on the package for migration compatibility.
type Rule struct {
	// ID identifies the rule for quota attribution in unlock events.
	ID int64 `json:"id"`

	// Name is an optional creator-facing label.
	Name string `json:"name,omitempty"`

	// Keywords is the ordered keyword list as written by the creator.
	// Comparison always happens on the normalized form (see Compile).
	Keywords []string `json:"keywords"`

	// MatchMode selects the comparison strategy. Unknown modes never match.
	MatchMode MatchMode `json:"match_mode"`

	// Quota caps the number of successful unlocks attributable to this rule.
	// Nil means unlimited. Independent of the package-level quota.
	Quota *int `json:"quota,omitempty"`

	// StartsAt/EndsAt bound the activation window. A nil bound is open on
	// that side.
	StartsAt *time.Time `json:"starts_at,omitempty"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`

	// ErrorMessage is the optional custom message shown on mismatch.
	ErrorMessage string `json:"error_message,omitempty"`

	// normalized is the compiled keyword list: lowercased, trimmed, empties
	// dropped. Populated by Compile after deserialization from storage.
	normalized []string
}

// Compile normalizes the keyword lists of all rules in place.
// It must be called once after deserializing rules from storage (DB row or
// JSON blob), before evaluation, so the per-attempt hot path never
// re-normalizes.
func Compile(rs []Rule) {
	for i := range rs {
		rs[i].normalized = NormalizeKeywords(rs[i].Keywords)
	}
}

// NormalizeKeywords lowercases and trims each keyword and drops empties.
// Order is preserved (ORDER mode depends on it).
func NormalizeKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// normalizedKeywords returns the compiled keyword list, computing it on the
// fly when Compile has not run. Evaluation paths compile right after load;
// the fallback keeps ad-hoc constructed rules (fixtures, tests) correct.
func (r *Rule) normalizedKeywords() []string {
	if r.normalized != nil {
		return r.normalized
	}
	return NormalizeKeywords(r.Keywords)
}
