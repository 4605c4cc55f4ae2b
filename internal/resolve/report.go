package resolve

// Record outcomes in a report.
const (
	OutcomeMatched   = "matched"
	OutcomeCreated   = "created"
	OutcomeAmbiguous = "ambiguous"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Report summarizes one resolver run.
type Report struct {
	BatchID         string `json:"batch_id" yaml:"batch_id"`
	ResolverVersion string `json:"resolver_version" yaml:"resolver_version"`
	Apply           bool   `json:"apply" yaml:"apply"`
	Candidates      int    `json:"candidates" yaml:"candidates"`

	Total     int `json:"total" yaml:"total"`
	Matched   int `json:"matched" yaml:"matched"`
	Created   int `json:"created" yaml:"created"`
	Ambiguous int `json:"ambiguous" yaml:"ambiguous"`
	Invalid   int `json:"invalid" yaml:"invalid"`
	Failed    int `json:"failed" yaml:"failed"`
	Skipped   int `json:"skipped" yaml:"skipped"`

	Records []RecordResult `json:"records" yaml:"records"`
}

// RecordResult is the decision for one input row.
type RecordResult struct {
	Row          int      `json:"row" yaml:"row"`
	Name         string   `json:"name" yaml:"name"`
	Outcome      string   `json:"outcome" yaml:"outcome"`
	GoldenID     string   `json:"golden_id,omitempty" yaml:"golden_id,omitempty"`
	Slug         string   `json:"slug,omitempty" yaml:"slug,omitempty"`
	Method       string   `json:"method,omitempty" yaml:"method,omitempty"`
	Confidence   float64  `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Reason       string   `json:"reason,omitempty" yaml:"reason,omitempty"`
	CandidateIDs []string `json:"candidate_ids,omitempty" yaml:"candidate_ids,omitempty"`
	Error        string   `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *Report) add(res RecordResult) {
	r.Total++
	switch res.Outcome {
	case OutcomeMatched:
		r.Matched++
	case OutcomeCreated:
		r.Created++
	case OutcomeAmbiguous:
		r.Ambiguous++
	case OutcomeInvalid:
		r.Invalid++
	case OutcomeFailed:
		r.Failed++
	case OutcomeSkipped:
		r.Skipped++
	}
	r.Records = append(r.Records, res)
}

// AmbiguousRecords returns the records routed to manual review.
func (r *Report) AmbiguousRecords() []RecordResult {
	var out []RecordResult
	for _, rec := range r.Records {
		if rec.Outcome == OutcomeAmbiguous {
			out = append(out, rec)
		}
	}
	return out
}
