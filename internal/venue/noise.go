package venue

import (
	"net/url"
	"strings"

	"github.com/sells-group/placeresolve/internal/normalize"
)

var noiseSchemes = []string{"mailto:", "tel:", "sms:", "javascript:", "data:"}

// noiseSegments are path segments that mark site chrome rather than venues.
var noiseSegments = map[string]bool{
	"about":          true,
	"account":        true,
	"accessibility":  true,
	"blog":           true,
	"careers":        true,
	"cart":           true,
	"checkout":       true,
	"contact":        true,
	"contact-us":     true,
	"cookie-policy":  true,
	"cookies":        true,
	"faq":            true,
	"faqs":           true,
	"gift-cards":     true,
	"jobs":           true,
	"login":          true,
	"newsletter":     true,
	"press":          true,
	"privacy":        true,
	"privacy-policy": true,
	"register":       true,
	"search":         true,
	"shop":           true,
	"signin":         true,
	"subscribe":      true,
	"terms":          true,
	"terms-of-use":   true,
}

// placeholderLabels are link texts that never name a venue.
var placeholderLabels = map[string]bool{
	"learn more":    true,
	"read more":     true,
	"click here":    true,
	"more":          true,
	"more info":     true,
	"details":       true,
	"view menu":     true,
	"menu":          true,
	"book now":      true,
	"reserve":       true,
	"reservations":  true,
	"order online":  true,
	"see more":      true,
	"home":          true,
	"instagram":     true,
	"facebook":      true,
	"twitter":       true,
	"directions":    true,
	"visit website": true,
}

// IsNoise reports whether a mention is site chrome rather than a venue:
// contact and script links, fragment-only links, boilerplate pages,
// placeholder labels and nameless links.
func IsNoise(m Mention) bool {
	name := normalize.NormalizeName(m.Name)
	if name == "" || placeholderLabels[name] {
		return true
	}

	raw := strings.TrimSpace(m.URL)
	if raw == "" {
		return false
	}
	lower := strings.ToLower(raw)
	for _, s := range noiseSchemes {
		if strings.HasPrefix(lower, s) {
			return true
		}
	}
	if strings.HasPrefix(raw, "#") {
		return true
	}

	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	for _, seg := range strings.Split(strings.ToLower(u.Path), "/") {
		if noiseSegments[seg] {
			return true
		}
	}
	return false
}
