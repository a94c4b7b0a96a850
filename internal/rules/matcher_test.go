package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		name   string
		rule   Rule
		tokens []string
		want   bool
	}{
		// --- AND mode ---
		{
			name:   "AND matches when all keywords present regardless of order",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeAnd},
			tokens: []string{"b", "a", "c"},
			want:   true,
		},
		{
			name:   "AND fails when a keyword is missing",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeAnd},
			tokens: []string{"a"},
			want:   false,
		},
		{
			name:   "AND ignores duplicate tokens",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeAnd},
			tokens: []string{"a", "a", "b"},
			want:   true,
		},

		// --- OR mode ---
		{
			name:   "OR matches on any single keyword",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeOr},
			tokens: []string{"c", "b"},
			want:   true,
		},
		{
			name:   "OR fails when no keyword present",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeOr},
			tokens: []string{"c", "d"},
			want:   false,
		},

		// --- ORDER mode ---
		{
			name:   "ORDER matches exact sequence",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeOrder},
			tokens: []string{"a", "b"},
			want:   true,
		},
		{
			name:   "ORDER fails on wrong order",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeOrder},
			tokens: []string{"b", "a"},
			want:   false,
		},
		{
			name:   "ORDER fails on extra token",
			rule:   Rule{Keywords: []string{"a", "b"}, MatchMode: MatchModeOrder},
			tokens: []string{"a", "b", "c"},
			want:   false,
		},

		// --- Normalization ---
		{
			name:   "keywords are compared in normalized form",
			rule:   Rule{Keywords: []string{"  Alpha ", "BETA"}, MatchMode: MatchModeAnd},
			tokens: []string{"alpha", "beta"},
			want:   true,
		},

		// --- Inert rules ---
		{
			name:   "empty keyword list never matches (AND)",
			rule:   Rule{Keywords: nil, MatchMode: MatchModeAnd},
			tokens: []string{"a"},
			want:   false,
		},
		{
			name:   "keywords normalizing to empty never match (OR)",
			rule:   Rule{Keywords: []string{"  ", ""}, MatchMode: MatchModeOr},
			tokens: []string{"a"},
			want:   false,
		},
		{
			name:   "empty keyword list never matches even against empty input (ORDER)",
			rule:   Rule{Keywords: nil, MatchMode: MatchModeOrder},
			tokens: nil,
			want:   false,
		},

		// --- Unknown mode ---
		{
			name:   "unknown match mode fails closed",
			rule:   Rule{Keywords: []string{"a"}, MatchMode: "FUZZY"},
			tokens: []string{"a"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Matches(&tt.rule, tt.tokens)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches_UsesCompiledKeywords(t *testing.T) {
	rs := []Rule{{Keywords: []string{" Alpha ", "BETA"}, MatchMode: MatchModeAnd}}
	Compile(rs)

	assert.Equal(t, []string{"alpha", "beta"}, rs[0].normalized)
	assert.True(t, Matches(&rs[0], []string{"beta", "alpha"}))
}

func TestIsActive(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name string
		rule Rule
		want bool
	}{
		{
			name: "no bounds is always active",
			rule: Rule{},
			want: true,
		},
		{
			name: "future start is inactive",
			rule: Rule{StartsAt: &future},
			want: false,
		},
		{
			name: "past end is inactive",
			rule: Rule{EndsAt: &past},
			want: false,
		},
		{
			name: "inside window is active",
			rule: Rule{StartsAt: &past, EndsAt: &future},
			want: true,
		},
		{
			name: "start boundary itself is active",
			rule: Rule{StartsAt: &now},
			want: true,
		},
		{
			name: "end boundary itself is active",
			rule: Rule{EndsAt: &now},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, IsActive(&tt.rule, now))
		})
	}
}
