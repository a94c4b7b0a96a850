package rules

import (
	"slices"
	"time"
)

// IsActive reports whether the rule's activation window is open at the given
// instant. Absent bounds impose no constraint. Pure function of rule + time.
func IsActive(r *Rule, now time.Time) bool {
	if r.StartsAt != nil && now.Before(*r.StartsAt) {
		return false
	}
	if r.EndsAt != nil && now.After(*r.EndsAt) {
		return false
	}
	return true
}

// Matches reports whether the visitor tokens satisfy the rule under its
// match mode. A rule whose normalized keyword list is empty never matches.
// Unknown match modes fail closed.
func Matches(r *Rule, tokens []string) bool {
	keywords := r.normalizedKeywords()
	if len(keywords) == 0 {
		return false
	}

	switch r.MatchMode {
	case MatchModeAnd:
		// Subset test: every keyword must appear among the tokens.
		// Duplicates and extra tokens are irrelevant.
		supplied := tokenSet(tokens)
		for _, kw := range keywords {
			if _, ok := supplied[kw]; !ok {
				return false
			}
		}
		return true

	case MatchModeOr:
		supplied := tokenSet(tokens)
		for _, kw := range keywords {
			if _, ok := supplied[kw]; ok {
				return true
			}
		}
		return false

	case MatchModeOrder:
		// Exact sequence: same order, same count, same content.
		return slices.Equal(tokens, keywords)

	default:
		return false
	}
}

// tokenSet builds an O(1) membership set from the token slice.
func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
