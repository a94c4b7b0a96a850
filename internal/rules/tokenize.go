package rules

import (
	"strings"
	"unicode"
)

// Tokenize splits the visitor's raw keyword input into normalized tokens.
// Tokens are separated by commas and/or whitespace, lowercased, and empty
// entries are removed. Order is preserved so ORDER-mode rules can compare
// the exact sequence.
func Tokenize(input string) []string {
	fields := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})

	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
