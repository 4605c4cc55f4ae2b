// Package resolve runs ingestion batches through the matcher and records
// the outcome of every row in the golden registry.
package resolve

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/db"
	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/ingest"
	"github.com/sells-group/placeresolve/internal/match"
	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/normalize"
)

// Version identifies the resolution rules. Bump it when matching behavior
// changes so existing batches can be re-resolved.
const Version = "v1"

// Batch is one ingestion batch.
type Batch struct {
	ID         string
	SourceName string
	SourceType string
	AddedBy    string
	Rows       []ingest.Row
}

// Options control a run.
type Options struct {
	// Apply writes raw records, golden records and links. When false the run
	// makes the same decisions against an in-memory pool and writes nothing.
	Apply bool

	// Version overrides the resolver version recorded on links.
	Version string
}

// Resolver resolves batches against the golden registry.
type Resolver struct {
	store   golden.Store
	matcher *match.Matcher
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithMetrics records decisions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithIDGenerator overrides golden id generation.
func WithIDGenerator(f func() string) Option {
	return func(r *Resolver) { r.newID = f }
}

// New creates a Resolver.
func New(store golden.Store, matcher *match.Matcher, opts ...Option) *Resolver {
	r := &Resolver{
		store:   store,
		matcher: matcher,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run resolves every row of b in order. Per-row failures are recorded in the
// report and never abort the batch. Run returns an error only when the
// candidate pool cannot be loaded or ctx is cancelled; the partial report is
// returned alongside a cancellation error.
func (r *Resolver) Run(ctx context.Context, b Batch, opts Options) (*Report, error) {
	if strings.TrimSpace(b.ID) == "" {
		return nil, eris.New("resolve: batch id is required")
	}
	if opts.Version == "" {
		opts.Version = Version
	}
	if b.SourceType == "" {
		b.SourceType = golden.SourceSpreadsheet
	}

	log := zap.L().With(
		zap.String("phase", "resolve"),
		zap.String("batch_id", b.ID),
		zap.String("resolver_version", opts.Version),
		zap.Bool("apply", opts.Apply),
	)

	active, err := r.store.ActiveCandidates(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "resolve: load candidate pool")
	}
	ix := match.NewIndex(candidatesFrom(active)...)

	report := &Report{
		BatchID:         b.ID,
		ResolverVersion: opts.Version,
		Apply:           opts.Apply,
		Candidates:      ix.Len(),
	}
	log.Info("resolving batch", zap.Int("rows", len(b.Rows)), zap.Int("candidates", ix.Len()))

	for _, row := range b.Rows {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "resolve: cancelled")
		}

		res, err := r.resolveRow(ctx, ix, b, row, opts)
		if err != nil {
			var vErr *ValidationError
			if errors.As(err, &vErr) {
				res.Outcome = OutcomeInvalid
				log.Warn("invalid row", zap.Int("row", row.RowNumber), zap.Error(err))
			} else {
				res.Outcome = OutcomeFailed
				log.Error("resolve row failed", zap.Int("row", row.RowNumber), zap.String("name", row.Name), zap.Error(err))
			}
			res.Error = err.Error()
		}
		r.metrics.RecordResolution(res.Outcome, res.Method)
		report.add(res)
	}

	log.Info("resolve complete",
		zap.Int("matched", report.Matched),
		zap.Int("created", report.Created),
		zap.Int("ambiguous", report.Ambiguous),
		zap.Int("invalid", report.Invalid),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

func (r *Resolver) resolveRow(ctx context.Context, ix *match.Index, b Batch, row ingest.Row, opts Options) (RecordResult, error) {
	res := RecordResult{Row: row.RowNumber, Name: row.Name}
	if err := Validate(row); err != nil {
		return res, err
	}

	norm := normalize.NormalizeName(row.Name)
	raw := &golden.RawRecord{
		BatchID:        b.ID,
		RowNumber:      row.RowNumber,
		SourceName:     b.SourceName,
		Payload:        row.Payload(),
		NormalizedName: norm,
		Latitude:       row.Latitude,
		Longitude:      row.Longitude,
	}

	if opts.Apply {
		if err := r.store.UpsertRawRecord(ctx, raw); err != nil {
			return res, err
		}
		existing, err := r.store.GetLink(ctx, raw.ID, opts.Version)
		if err != nil {
			return res, err
		}
		if existing != nil {
			return skipped(res, existing), nil
		}
	} else {
		existing, err := r.store.FindLink(ctx, b.ID, row.RowNumber, opts.Version)
		if err != nil {
			return res, err
		}
		if existing != nil {
			return skipped(res, existing), nil
		}
	}

	outcome := r.matcher.Match(ix, match.Input{
		Name:           row.Name,
		NormalizedName: norm,
		Slug:           row.Slug,
		ExternalID:     row.ExternalPlaceID,
	})

	link := &golden.ResolutionLink{RawRecordID: raw.ID, ResolverVersion: opts.Version}
	var created *golden.GoldenRecord

	switch o := outcome.(type) {
	case match.Matched:
		id := o.ID
		link.Type = golden.ResolutionMatched
		link.GoldenID = &id
		link.Method = string(o.Method)
		link.Confidence = o.Confidence
		res.Outcome, res.GoldenID, res.Method, res.Confidence = OutcomeMatched, o.ID, link.Method, o.Confidence

	case match.Unmatched:
		g, err := r.mint(ctx, ix, b, row, norm)
		if err != nil {
			return res, err
		}
		created = g
		link.Type = golden.ResolutionCreated
		link.Confidence = g.Confidence
		res.Outcome, res.GoldenID, res.Slug, res.Confidence = OutcomeCreated, g.ID, g.Slug, g.Confidence

	case match.Ambiguous:
		link.Type = golden.ResolutionAmbiguous
		link.Method = string(o.Method)
		link.Confidence = o.TopScore
		link.Reason = o.Reason
		res.Outcome, res.Method, res.Confidence = OutcomeAmbiguous, link.Method, o.TopScore
		res.Reason, res.CandidateIDs = o.Reason, o.CandidateIDs

	default:
		return res, eris.Errorf("resolve: unhandled match outcome %T", outcome)
	}

	zap.L().Debug("resolved row",
		zap.Int("row", row.RowNumber),
		zap.String("name", row.Name),
		zap.String("normalized", norm),
		zap.String("outcome", res.Outcome),
		zap.String("method", res.Method),
		zap.Float64("confidence", res.Confidence),
		zap.String("golden_id", res.GoldenID),
	)

	if opts.Apply {
		if err := r.store.CommitResolution(ctx, link, created); err != nil {
			if errors.Is(err, golden.ErrLinkExists) {
				return skipped(res, link), nil
			}
			if db.IsUniqueViolation(err) {
				return res, eris.Wrapf(err, "resolve: %q collides with an existing golden record", row.Name)
			}
			return res, err
		}
	}

	if created != nil {
		ix.Add(candidateFrom(*created))
	}
	return res, nil
}

// mint builds a new PENDING golden record for row with a slug unique across
// the in-run pool and the store.
func (r *Resolver) mint(ctx context.Context, ix *match.Index, b Batch, row ingest.Row, norm string) (*golden.GoldenRecord, error) {
	base := normalize.Slugify(row.Name)
	if row.Slug != "" {
		base = normalize.Slugify(row.Slug)
	}

	var lookupErr error
	slug := normalize.UniqueSlug(base, func(s string) bool {
		if lookupErr != nil {
			return false
		}
		if ix.HasSlug(s) {
			return true
		}
		taken, err := r.store.SlugTaken(ctx, s)
		if err != nil {
			lookupErr = err
			return false
		}
		return taken
	})
	if lookupErr != nil {
		return nil, lookupErr
	}

	now := r.now().UTC()
	g := &golden.GoldenRecord{
		ID:              r.newID(),
		Slug:            slug,
		Name:            strings.TrimSpace(row.Name),
		NormalizedName:  norm,
		Address:         row.Address,
		Neighborhood:    row.Neighborhood,
		Category:        row.Category,
		Website:         row.Website,
		Latitude:        row.Latitude,
		Longitude:       row.Longitude,
		ExternalPlaceID: row.ExternalPlaceID,
		Status:          golden.StatusPending,
		Provenance: golden.Provenance{
			AddedBy:     b.AddedBy,
			SourceType:  b.SourceType,
			SourceName:  b.SourceName,
			ImportBatch: b.ID,
			AddedAt:     now,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	g.Confidence = Completeness(g)
	return g, nil
}

// Completeness scores how fully a golden record is described.
func Completeness(g *golden.GoldenRecord) float64 {
	c := 0.5
	if g.HasCoordinates() {
		c += 0.2
	}
	if g.Address != "" {
		c += 0.1
	}
	if g.ExternalPlaceID != "" {
		c += 0.1
	}
	if g.Website != "" {
		c += 0.05
	}
	if g.Category != "" {
		c += 0.05
	}
	if c > 1 {
		c = 1
	}
	return c
}

func skipped(res RecordResult, l *golden.ResolutionLink) RecordResult {
	res.Outcome = OutcomeSkipped
	res.Method = l.Method
	res.Confidence = l.Confidence
	res.Reason = "already resolved as " + string(l.Type)
	res.GoldenID = ""
	if l.GoldenID != nil {
		res.GoldenID = *l.GoldenID
	}
	return res
}

func candidateFrom(g golden.GoldenRecord) match.Candidate {
	return match.Candidate{
		ID:             g.ID,
		Slug:           g.Slug,
		NormalizedName: g.NormalizedName,
		ExternalID:     g.ExternalPlaceID,
	}
}

func candidatesFrom(recs []golden.GoldenRecord) []match.Candidate {
	out := make([]match.Candidate, 0, len(recs))
	for _, g := range recs {
		if !g.Status.Active() {
			continue
		}
		out = append(out, candidateFrom(g))
	}
	return out
}
