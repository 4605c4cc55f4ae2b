// Package similarity holds the pure string-similarity functions used by the
// matcher, the duplicate detector and the venue matcher. Nothing here touches
// a data store or the network.
package similarity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"github.com/xrash/smetrics"
)

// Winkler prefix-boost parameters (the standard 0.7 boost threshold and
// 4-rune common prefix).
const (
	winklerBoostThreshold = 0.7
	winklerPrefixSize     = 4
)

// JaroWinkler returns the Jaro-Winkler similarity of a and b in [0, 1].
// Two empty strings score 0: an empty name is never evidence of a match.
func JaroWinkler(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return clamp(smetrics.JaroWinkler(a, b, winklerBoostThreshold, winklerPrefixSize))
}

// LevenshteinRatio returns 1 - distance/maxLen, measured in runes.
func LevenshteinRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	d := levenshtein.Distance(a, b, nil)
	return clamp(1 - float64(d)/float64(maxLen))
}

// TokenSortRatio compares a and b after sorting their whitespace tokens, so
// "kinney abbot 1429" and "1429 abbot kinney" score 1.
func TokenSortRatio(a, b string) float64 {
	return LevenshteinRatio(sortedTokens(a), sortedTokens(b))
}

// Jaccard returns |A∩B| / |A∪B| over the token sets of a and b.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, t := range b {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
