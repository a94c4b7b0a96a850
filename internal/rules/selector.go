package rules

import "time"

// Select runs the matcher over all rules that are active at the given
// instant and returns the first one the visitor tokens satisfy, in storage
// order. First-in-order wins; there is no specificity tie-break.
// The second return value is false when no rule matches.
func Select(rs []Rule, now time.Time, tokens []string) (*Rule, bool) {
	for i := range rs {
		r := &rs[i]
		if !IsActive(r, now) {
			continue
		}
		if Matches(r, tokens) {
			return r, true
		}
	}
	return nil, false
}

// FirstErrorMessage returns the custom mismatch message of the first rule in
// the set that defines one, or "" when none does.
//
// Note the selection is decoupled from which rule actually failed: the first
// rule carrying a message wins regardless of activation state or match
// outcome. Creator-facing behavior depends on this ordering.
func FirstErrorMessage(rs []Rule) string {
	for i := range rs {
		if rs[i].ErrorMessage != "" {
			return rs[i].ErrorMessage
		}
	}
	return ""
}
