// Package match decides whether an incoming place record refers to a known
// canonical record. Matching is deterministic and never touches a store: the
// candidate pool is an explicit Index supplied by the caller.
package match

// Method names the strategy that produced a match.
type Method string

// Match methods, in precedence order.
const (
	MethodExternalID     Method = "external-id"
	MethodSlug           Method = "slug"
	MethodNormalizedName Method = "normalized-name"
	MethodFuzzyName      Method = "fuzzy-name"
)

// Outcome is the result of matching one record. It is one of Matched,
// Unmatched or Ambiguous.
type Outcome interface {
	isOutcome()
}

// Matched means the record resolves to an existing canonical record.
type Matched struct {
	ID         string  `json:"id"`
	Method     Method  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// Unmatched means no plausible candidate exists and a new canonical record
// should be created.
type Unmatched struct{}

// Ambiguous means more than one candidate is plausible, or the best one is
// not convincing enough. Ambiguous records go to manual review.
type Ambiguous struct {
	Method       Method   `json:"method"`
	Reason       string   `json:"reason"`
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	TopScore     float64  `json:"top_score,omitempty"`
}

func (Matched) isOutcome() {}
func (Unmatched) isOutcome() {}
func (Ambiguous) isOutcome() {}
