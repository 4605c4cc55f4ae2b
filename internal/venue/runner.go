package venue

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/metrics"
)

// Report summarizes matching one actor's mentions.
type Report struct {
	Actor        Actor    `json:"actor" yaml:"actor"`
	Apply        bool     `json:"apply" yaml:"apply"`
	Total        int      `json:"total" yaml:"total"`
	Noise        int      `json:"noise" yaml:"noise"`
	Matched      int      `json:"matched" yaml:"matched"`
	Inconclusive int      `json:"inconclusive" yaml:"inconclusive"`
	Failed       int      `json:"failed" yaml:"failed"`
	Inserted     int      `json:"inserted" yaml:"inserted"`
	Updated      int      `json:"updated" yaml:"updated"`
	Reviewed     int      `json:"reviewed" yaml:"reviewed"`
	Results      []Result `json:"results" yaml:"results"`
}

// Runner matches an actor's mentions and records candidate associations.
type Runner struct {
	matcher *Matcher
	store   Store
	metrics *metrics.Metrics
}

// NewRunner creates a Runner. store may be nil for dry runs.
func NewRunner(matcher *Matcher, store Store, m *metrics.Metrics) *Runner {
	return &Runner{matcher: matcher, store: store, metrics: m}
}

// Run matches every mention. With apply, matched mentions are upserted as
// PENDING candidates; re-runs refresh pending rows and leave reviewed ones.
// A failed lookup or write is recorded on that mention only.
func (r *Runner) Run(ctx context.Context, actor Actor, mentions []Mention, apply bool) (*Report, error) {
	if actor.ID == "" {
		return nil, eris.New("venue: actor id is required")
	}
	if apply && r.store == nil {
		return nil, eris.New("venue: apply requires a candidate store")
	}

	log := zap.L().With(zap.String("phase", "venues"), zap.String("actor", actor.ID), zap.Bool("apply", apply))
	report := &Report{Actor: actor, Apply: apply}

	for _, mention := range mentions {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "venue: cancelled")
		}
		report.Total++

		res, err := r.matcher.Match(ctx, actor, mention)
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Detail = err.Error()
			log.Warn("venue match failed", zap.String("mention", mention.Name), zap.Error(err))
		}

		switch res.Outcome {
		case OutcomeNoise:
			report.Noise++
		case OutcomeInconclusive:
			report.Inconclusive++
			log.Debug("venue mention inconclusive", zap.String("mention", mention.Name), zap.String("detail", res.Detail))
		case OutcomeMatched:
			report.Matched++
			if apply {
				if err := r.record(ctx, actor, &res, report); err != nil {
					res.Outcome = OutcomeFailed
					res.Detail = err.Error()
					report.Matched--
					log.Warn("venue candidate write failed", zap.String("mention", mention.Name), zap.Error(err))
				}
			}
		}
		if res.Outcome == OutcomeFailed {
			report.Failed++
		}
		r.metrics.RecordVenueCandidate(res.Outcome)
		report.Results = append(report.Results, res)
	}

	log.Info("venue matching complete",
		zap.Int("total", report.Total),
		zap.Int("matched", report.Matched),
		zap.Int("noise", report.Noise),
		zap.Int("inconclusive", report.Inconclusive),
	)
	return report, nil
}

func (r *Runner) record(ctx context.Context, actor Actor, res *Result, report *Report) error {
	c := &CandidateAssociation{
		ActorID:        actor.ID,
		ActorName:      actor.Name,
		PlaceID:        res.PlaceID,
		DedupeKey:      DedupeKey(res.Mention),
		MentionName:    res.Mention.Name,
		MentionURL:     res.Mention.URL,
		MentionAddress: res.Mention.Address,
		Confidence:     res.Confidence,
		Bucket:         res.Bucket,
		Reason:         res.Reason,
	}
	up, err := r.store.UpsertCandidate(ctx, c)
	if err != nil {
		return err
	}
	switch up {
	case UpsertInserted:
		report.Inserted++
	case UpsertUpdated:
		report.Updated++
	case UpsertReviewed:
		report.Reviewed++
		res.Detail = "already " + string(c.Status)
	}
	return nil
}
