package match

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/normalize"
	"github.com/sells-group/placeresolve/internal/similarity"
)

// gapEpsilon absorbs float noise when comparing a score gap to MinGap.
const gapEpsilon = 1e-9

// Policy controls when a fuzzy match is accepted.
type Policy struct {
	// Threshold is the minimum best score for a fuzzy match.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`

	// MinGap is the minimum lead of the best score over the runner-up.
	MinGap float64 `yaml:"min_gap" mapstructure:"min_gap"`

	// ReviewFloor: below this best score no candidate is plausible and the
	// record is new. Between ReviewFloor and an accepted match the record is
	// ambiguous.
	ReviewFloor float64 `yaml:"review_floor" mapstructure:"review_floor"`
}

// DefaultPolicy returns the resolver's default fuzzy policy.
func DefaultPolicy() Policy {
	return Policy{
		Threshold:   0.92,
		MinGap:      0.05,
		ReviewFloor: 0.80,
	}
}

// Validate checks that the policy is internally consistent.
func (p Policy) Validate() error {
	if p.Threshold <= 0 || p.Threshold > 1 {
		return eris.Errorf("match: threshold %.2f out of range (0,1]", p.Threshold)
	}
	if p.MinGap < 0 || p.MinGap >= 1 {
		return eris.Errorf("match: min_gap %.2f out of range [0,1)", p.MinGap)
	}
	if p.ReviewFloor < 0 || p.ReviewFloor > p.Threshold {
		return eris.Errorf("match: review_floor %.2f must be within [0, threshold]", p.ReviewFloor)
	}
	return nil
}

// Input is a normalized incoming record.
type Input struct {
	Name           string
	NormalizedName string
	Slug           string
	ExternalID     string
}

// Scorer compares two normalized names.
type Scorer func(a, b string) float64

// Matcher applies the match precedence: external id, slug, exact normalized
// name, then fuzzy name similarity.
type Matcher struct {
	policy Policy
	score  Scorer
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithScorer replaces the fuzzy scorer (Jaro-Winkler by default).
func WithScorer(s Scorer) Option {
	return func(m *Matcher) {
		m.score = s
	}
}

// NewMatcher creates a Matcher with the given policy.
func NewMatcher(p Policy, opts ...Option) *Matcher {
	m := &Matcher{policy: p, score: similarity.JaroWinkler}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Policy returns the matcher's fuzzy policy.
func (m *Matcher) Policy() Policy {
	return m.policy
}

// Match resolves in against the candidates in ix.
func (m *Matcher) Match(ix *Index, in Input) Outcome {
	if in.ExternalID != "" {
		if c, ok := ix.byExternal[in.ExternalID]; ok {
			return Matched{ID: c.ID, Method: MethodExternalID, Confidence: 1}
		}
	}

	norm := in.NormalizedName
	if norm == "" {
		norm = normalize.NormalizeName(in.Name)
	}

	if key, explicit := slugKey(in); key != "" {
		if c, ok := ix.bySlug[key]; ok {
			// A bare name that is also the owner's unique normalized name
			// is reported as a name match.
			if !explicit && ix.uniqueName(norm, c.ID) {
				return Matched{ID: c.ID, Method: MethodNormalizedName, Confidence: 1}
			}
			return Matched{ID: c.ID, Method: MethodSlug, Confidence: 1}
		}
	}

	if norm == "" {
		return Ambiguous{Method: MethodNormalizedName, Reason: "empty normalized name"}
	}

	switch exact := ix.byName[norm]; len(exact) {
	case 0:
	case 1:
		return Matched{ID: exact[0].ID, Method: MethodNormalizedName, Confidence: 1}
	default:
		return Ambiguous{
			Method:       MethodNormalizedName,
			Reason:       fmt.Sprintf("%d canonical records share normalized name %q", len(exact), norm),
			CandidateIDs: candidateIDs(exact),
			TopScore:     1,
		}
	}

	best, runnerUp := m.rank(ix, norm)
	return m.decide(best, runnerUp)
}

// slugKey returns the explicit slug, or the lowercased raw name when it is a
// valid slug token.
func slugKey(in Input) (key string, explicit bool) {
	if in.Slug != "" {
		return in.Slug, true
	}
	name := strings.ToLower(strings.TrimSpace(in.Name))
	if normalize.IsSlug(name) {
		return name, false
	}
	return "", false
}

type scored struct {
	candidate Candidate
	score     float64
	ok        bool
}

// rank returns the two best-scoring candidates without sorting the pool.
func (m *Matcher) rank(ix *Index, norm string) (best, runnerUp scored) {
	for _, c := range ix.all {
		s := m.score(norm, c.NormalizedName)
		switch {
		case !best.ok || s > best.score:
			runnerUp = best
			best = scored{candidate: c, score: s, ok: true}
		case !runnerUp.ok || s > runnerUp.score:
			runnerUp = scored{candidate: c, score: s, ok: true}
		}
	}
	return best, runnerUp
}

func (m *Matcher) decide(best, runnerUp scored) Outcome {
	if !best.ok || best.score < m.policy.ReviewFloor {
		return Unmatched{}
	}

	gap := best.score - runnerUp.score
	if best.score >= m.policy.Threshold && gap+gapEpsilon >= m.policy.MinGap {
		return Matched{ID: best.candidate.ID, Method: MethodFuzzyName, Confidence: best.score}
	}

	ids := []string{best.candidate.ID}
	if runnerUp.ok && runnerUp.score >= m.policy.ReviewFloor {
		ids = append(ids, runnerUp.candidate.ID)
	}

	reason := fmt.Sprintf("fuzzy best %.2f below threshold %.2f", best.score, m.policy.Threshold)
	if best.score >= m.policy.Threshold {
		reason = fmt.Sprintf("fuzzy best %.2f leads runner-up %.2f by less than %.2f",
			best.score, runnerUp.score, m.policy.MinGap)
	}
	return Ambiguous{
		Method:       MethodFuzzyName,
		Reason:       reason,
		CandidateIDs: ids,
		TopScore:     best.score,
	}
}

func candidateIDs(cs []Candidate) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ID
	}
	return ids
}
