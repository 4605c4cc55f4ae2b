package venue

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/normalize"
	"github.com/sells-group/placeresolve/internal/serving"
	"github.com/sells-group/placeresolve/internal/similarity"
)

// Policy configures venue matching. It is independent of the resolver's
// fuzzy policy.
type Policy struct {
	SlugConfidence float64 `yaml:"slug_confidence" mapstructure:"slug_confidence"`
	MinScore       float64 `yaml:"min_score" mapstructure:"min_score"`
	MinGap         float64 `yaml:"min_gap" mapstructure:"min_gap"`
	SearchLimit    int     `yaml:"search_limit" mapstructure:"search_limit"`
	HighBucket     float64 `yaml:"high_bucket" mapstructure:"high_bucket"`
	MediumBucket   float64 `yaml:"medium_bucket" mapstructure:"medium_bucket"`
}

// DefaultPolicy returns the default venue policy.
func DefaultPolicy() Policy {
	return Policy{
		SlugConfidence: 0.95,
		MinScore:       0.5,
		MinGap:         0.15,
		SearchLimit:    10,
		HighBucket:     0.85,
		MediumBucket:   0.6,
	}
}

// Validate checks the policy ranges.
func (p Policy) Validate() error {
	switch {
	case p.SlugConfidence <= 0 || p.SlugConfidence > 1:
		return eris.Errorf("venue: slug_confidence %.2f out of range (0,1]", p.SlugConfidence)
	case p.MinScore <= 0 || p.MinScore > 1:
		return eris.Errorf("venue: min_score %.2f out of range (0,1]", p.MinScore)
	case p.MinGap < 0 || p.MinGap >= 1:
		return eris.Errorf("venue: min_gap %.2f out of range [0,1)", p.MinGap)
	case p.SearchLimit <= 0:
		return eris.Errorf("venue: search_limit must be positive")
	case p.MediumBucket > p.HighBucket:
		return eris.Errorf("venue: medium_bucket %.2f above high_bucket %.2f", p.MediumBucket, p.HighBucket)
	}
	return nil
}

// Bucket returns the confidence band for c.
func (p Policy) Bucket(c float64) Bucket {
	switch {
	case c >= p.HighBucket:
		return BucketHigh
	case c >= p.MediumBucket:
		return BucketMedium
	default:
		return BucketLow
	}
}

// PlaceFinder is the part of serving.Store the matcher reads.
type PlaceFinder interface {
	FindPlacesBySlugToken(ctx context.Context, token string, limit int) ([]serving.Place, error)
	SearchPlacesByName(ctx context.Context, name string, limit int) ([]serving.Place, error)
}

// Outcomes of matching one mention.
const (
	OutcomeMatched      = "matched"
	OutcomeInconclusive = "inconclusive"
	OutcomeNoise        = "noise"
	OutcomeFailed       = "failed"
)

// Result is the decision for one mention.
type Result struct {
	Mention    Mention `json:"mention" yaml:"mention"`
	Outcome    string  `json:"outcome" yaml:"outcome"`
	PlaceID    int64   `json:"place_id,omitempty" yaml:"place_id,omitempty"`
	PlaceSlug  string  `json:"place_slug,omitempty" yaml:"place_slug,omitempty"`
	Confidence float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Bucket     Bucket  `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Reason     string  `json:"reason,omitempty" yaml:"reason,omitempty"`
	Detail     string  `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Matcher links mentions to serving places.
type Matcher struct {
	places PlaceFinder
	policy Policy
}

// NewMatcher creates a Matcher.
func NewMatcher(places PlaceFinder, policy Policy) *Matcher {
	return &Matcher{places: places, policy: policy}
}

// Match decides one mention for actor. Scoring is pure; the only I/O is
// the two place lookups.
func (m *Matcher) Match(ctx context.Context, actor Actor, mention Mention) (Result, error) {
	res := Result{Mention: mention}
	if IsNoise(mention) {
		res.Outcome = OutcomeNoise
		return res, nil
	}

	if token := slugToken(actor.Website, mention.URL); token != "" {
		p, err := m.bySlug(ctx, token)
		if err != nil {
			return res, err
		}
		if p != nil {
			return m.matched(res, p, m.policy.SlugConfidence, ReasonURLSlug), nil
		}
	}

	return m.byName(ctx, res)
}

func (m *Matcher) matched(res Result, p *serving.Place, conf float64, reason string) Result {
	res.Outcome = OutcomeMatched
	res.PlaceID = p.ID
	res.PlaceSlug = p.Slug
	res.Confidence = conf
	res.Bucket = m.policy.Bucket(conf)
	res.Reason = reason
	return res
}

// bySlug returns the unique exact slug hit, else the unique substring hit.
func (m *Matcher) bySlug(ctx context.Context, token string) (*serving.Place, error) {
	hits, err := m.places.FindPlacesBySlugToken(ctx, token, m.policy.SearchLimit)
	if err != nil {
		return nil, eris.Wrapf(err, "venue: slug lookup %q", token)
	}
	var exact []*serving.Place
	for i := range hits {
		if hits[i].Slug == token {
			exact = append(exact, &hits[i])
		}
	}
	switch {
	case len(exact) == 1:
		return exact[0], nil
	case len(exact) == 0 && len(hits) == 1:
		return &hits[0], nil
	default:
		return nil, nil
	}
}

type scoredPlace struct {
	place *serving.Place
	score float64
}

func (m *Matcher) byName(ctx context.Context, res Result) (Result, error) {
	hits, err := m.places.SearchPlacesByName(ctx, mentionName(res.Mention.Name), m.policy.SearchLimit)
	if err != nil {
		return res, eris.Wrapf(err, "venue: name search %q", res.Mention.Name)
	}

	want := normalize.Tokens(normalize.NormalizeName(res.Mention.Name))
	scored := make([]scoredPlace, 0, len(hits))
	for i := range hits {
		got := normalize.Tokens(normalize.NormalizeName(hits[i].Name))
		scored = append(scored, scoredPlace{place: &hits[i], score: similarity.Jaccard(want, got)})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })

	res.Outcome = OutcomeInconclusive
	switch {
	case len(scored) == 0:
		res.Detail = "no candidates"
		return res, nil
	case scored[0].score < m.policy.MinScore:
		res.Detail = fmt.Sprintf("top score %.2f below %.2f", scored[0].score, m.policy.MinScore)
		return res, nil
	case len(scored) > 1 && scored[0].score-scored[1].score < m.policy.MinGap:
		res.Detail = fmt.Sprintf("top score %.2f within %.2f of runner-up %.2f",
			scored[0].score, m.policy.MinGap, scored[1].score)
		return res, nil
	}
	return m.matched(res, scored[0].place, scored[0].score, ReasonNameJaccard), nil
}

// mentionName is the search string for a mention label.
func mentionName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// slugToken returns the slugified last path segment of link when link shares
// an origin with the actor's website.
func slugToken(website, link string) string {
	if website == "" || link == "" {
		return ""
	}
	site, err := url.Parse(website)
	if err != nil {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return ""
	}
	if originKey(site) != originKey(u) {
		return ""
	}
	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if seg == "." || seg == "/" || seg == "" {
		return ""
	}
	seg = strings.TrimSuffix(seg, path.Ext(seg))
	return normalize.Slugify(seg)
}

// originKey is the scheme, host and port of u, with the scheme's default
// port filled in. A www. prefix is treated as the same site.
func originKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.") + ":" + port
}

func hostKey(host string) string {
	h := strings.ToLower(host)
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	return strings.TrimPrefix(h, "www.")
}

// DedupeKey identifies a mention within an actor: its URL when present,
// else its normalized name and address. Re-runs upsert onto the same row.
func DedupeKey(m Mention) string {
	if raw := strings.TrimSpace(m.URL); raw != "" {
		return "url:" + canonicalURL(raw)
	}
	return "name:" + normalize.NormalizeName(m.Name) + "|" + normalize.NormalizeAddress(m.Address)
}

// canonicalURL drops the scheme, a www. prefix, the fragment and any
// trailing slash so cosmetic link variants share a key.
func canonicalURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimRight(raw, "/"))
	}
	key := hostKey(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		key += "?" + u.RawQuery
	}
	return key
}
