// Package normalize turns free-text place names and addresses into
// comparable keys. Every function here is pure and deterministic.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// leadingArticles are stripped once from the front of a name.
var leadingArticles = []string{"the", "a", "an"}

// nameSynonyms maps common abbreviations and spelling variants onto one
// canonical token.
var nameSynonyms = map[string]string{
	"bros":    "brothers",
	"centre":  "center",
	"ctr":     "center",
	"co":      "company",
	"intl":    "international",
	"mt":      "mount",
	"ft":      "fort",
	"n":       "and",
	"caffe":   "cafe",
	"theatre": "theater",
	"resto":   "restaurant",
}

// addressSynonyms collapses street suffixes and directions to USPS-style
// abbreviations.
var addressSynonyms = map[string]string{
	"street":    "st",
	"avenue":    "ave",
	"av":        "ave",
	"boulevard": "blvd",
	"road":      "rd",
	"drive":     "dr",
	"lane":      "ln",
	"place":     "pl",
	"court":     "ct",
	"highway":   "hwy",
	"parkway":   "pkwy",
	"square":    "sq",
	"suite":     "ste",
	"apartment": "apt",
	"floor":     "fl",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
}

var multiSpaceRe = regexp.MustCompile(`\s+`)

// FoldASCII strips diacritics (café -> cafe).
func FoldASCII(s string) string {
	out, _, err := transform.String(stripAccents, s)
	if err != nil {
		return s
	}
	return out
}

// clean lowercases, folds accents, maps "&" to "and", drops apostrophes and
// turns every other punctuation rune except hyphens into a space.
func clean(raw string) string {
	s := strings.ToLower(FoldASCII(strings.TrimSpace(raw)))
	s = strings.NewReplacer("&", " and ", "'", "", "’", "", "`", "").Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(b.String(), " "))
}

// NormalizeName returns the primary comparison key for a place name.
//
//	NormalizeName("The Gjelina Café") == NormalizeName("gjelina cafe") == "gjelina cafe"
func NormalizeName(raw string) string {
	tokens := strings.Fields(clean(raw))
	if len(tokens) > 1 {
		for _, a := range leadingArticles {
			if tokens[0] == a {
				tokens = tokens[1:]
				break
			}
		}
	}
	for i, t := range tokens {
		if syn, ok := nameSynonyms[t]; ok {
			tokens[i] = syn
		}
	}
	return strings.Join(tokens, " ")
}

// NormalizeAddress returns a comparison key for a street address.
func NormalizeAddress(raw string) string {
	tokens := strings.Fields(clean(raw))
	for i, t := range tokens {
		if syn, ok := addressSynonyms[t]; ok {
			tokens[i] = syn
		}
	}
	return strings.Join(tokens, " ")
}

// Tokens splits a normalized string into its whitespace-separated tokens.
func Tokens(s string) []string {
	return strings.Fields(s)
}
