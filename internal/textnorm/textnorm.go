// Package textnorm holds the text folding shared by cache keys, keyword scoring
// and name matching.
package textnorm

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var nonAlnumSpace = regexp.MustCompile(`[^a-z0-9 ]+`)

// Normalize applies NFKC compatibility folding, trims and lower-cases s.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFKC.String(s)))
}

// Words splits the normalized form of s on whitespace.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// Simplify keeps only lower-case ASCII letters, digits and spaces.
func Simplify(s string) string {
	return strings.TrimSpace(nonAlnumSpace.ReplaceAllString(Normalize(s), ""))
}

// ContainsAny reports whether text contains any of the terms as a substring.
func ContainsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}

// LowerSet lower-cases and trims values into a set, dropping empties.
func LowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// LowerUnique lower-cases and trims values, dropping empties and repeats
// while keeping first-seen order.
func LowerUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
