package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MaxSlugLength bounds generated slugs.
const MaxSlugLength = 80

var (
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9]+`)
	slugShapeRe   = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
)

// Slugify folds raw to ASCII and produces a URL-safe slug. An input with no
// usable characters yields a random "place-xxxxxxxx" token.
func Slugify(raw string) string {
	s := strings.ToLower(FoldASCII(strings.TrimSpace(raw)))
	s = strings.ReplaceAll(s, "'", "")
	s = slugInvalidRe.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > MaxSlugLength {
		s = strings.TrimRight(s[:MaxSlugLength], "-")
	}
	if s == "" {
		return "place-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return s
}

// IsSlug reports whether s is a valid slug token: lowercase alphanumeric
// segments joined by single hyphens ("gjelina", "gjelina-venice").
func IsSlug(s string) bool {
	return slugShapeRe.MatchString(s)
}

// UniqueSlug returns base, or base-2, base-3, ... for the first candidate
// that taken reports as free.
func UniqueSlug(base string, taken func(string) bool) string {
	if !taken(base) {
		return base
	}
	for n := 2; ; n++ {
		suffix := "-" + strconv.Itoa(n)
		stem := base
		if len(stem)+len(suffix) > MaxSlugLength {
			stem = strings.TrimRight(stem[:MaxSlugLength-len(suffix)], "-")
		}
		candidate := stem + suffix
		if !taken(candidate) {
			return candidate
		}
	}
}
