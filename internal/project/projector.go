// Package project materializes golden records into the serving place table.
package project

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/placeresolve/internal/db"
	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/serving"
)

// Record actions.
const (
	ActionInsert  = "insert"
	ActionUpdate  = "update"
	ActionConvert = "convert"
	ActionFailed  = "failed"
)

// Keys a place was located by.
const (
	KeyExternalID = "external-id"
	KeySlug       = "slug"
)

// Options control a projection run.
type Options struct {
	Apply   bool
	Slugs   []string
	BatchID string
	Enrich  bool

	// Statuses overrides the projected statuses. When empty, VERIFIED and
	// PUBLISHED are projected, plus PENDING if IncludePending is set.
	Statuses       []golden.Status
	IncludePending bool

	// PageSize bounds golden records loaded per page.
	PageSize int

	// Concurrency bounds in-flight enrichment lookups per page.
	Concurrency int
}

// Report summarizes a projection run.
type Report struct {
	Apply bool `json:"apply" yaml:"apply"`

	Total        int `json:"total" yaml:"total"`
	Inserted     int `json:"inserted" yaml:"inserted"`
	Updated      int `json:"updated" yaml:"updated"`
	Converted    int `json:"converted" yaml:"converted"`
	Failed       int `json:"failed" yaml:"failed"`
	Enriched     int `json:"enriched" yaml:"enriched"`
	EnrichFailed int `json:"enrich_failed" yaml:"enrich_failed"`

	Records []RecordResult `json:"records" yaml:"records"`
}

// RecordResult is the outcome for one golden record.
type RecordResult struct {
	GoldenID    string `json:"golden_id" yaml:"golden_id"`
	Slug        string `json:"slug" yaml:"slug"`
	PlaceID     int64  `json:"place_id,omitempty" yaml:"place_id,omitempty"`
	Action      string `json:"action" yaml:"action"`
	KeyedBy     string `json:"keyed_by,omitempty" yaml:"keyed_by,omitempty"`
	EnrichError string `json:"enrich_error,omitempty" yaml:"enrich_error,omitempty"`
	Error       string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *Report) add(res RecordResult) {
	r.Total++
	switch res.Action {
	case ActionInsert:
		r.Inserted++
	case ActionUpdate:
		r.Updated++
	case ActionConvert:
		r.Converted++
	case ActionFailed:
		r.Failed++
	}
	if res.EnrichError != "" {
		r.EnrichFailed++
	}
	r.Records = append(r.Records, res)
}

// Projector upserts golden records into the serving store.
type Projector struct {
	golden   golden.Store
	serving  serving.Store
	enricher Enricher
	metrics  *metrics.Metrics
}

// New creates a Projector. enricher may be nil when enrichment is never
// requested.
func New(g golden.Store, s serving.Store, enricher Enricher, m *metrics.Metrics) *Projector {
	return &Projector{golden: g, serving: s, enricher: enricher, metrics: m}
}

func (o Options) statuses() []golden.Status {
	if len(o.Statuses) > 0 {
		return o.Statuses
	}
	st := []golden.Status{golden.StatusVerified, golden.StatusPublished}
	if o.IncludePending {
		st = append([]golden.Status{golden.StatusPending}, st...)
	}
	return st
}

// Run projects every golden record in scope, page by page. Per-record
// failures are reported and never stop the run.
func (p *Projector) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Enrich && p.enricher == nil {
		return nil, eris.New("project: enrichment requested but no enricher configured")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 500
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}

	log := zap.L().With(zap.String("phase", "project"), zap.Bool("apply", opts.Apply), zap.Bool("enrich", opts.Enrich))
	report := &Report{Apply: opts.Apply}

	filter := golden.ListFilter{
		Statuses: opts.statuses(),
		Slugs:    opts.Slugs,
		BatchID:  opts.BatchID,
		Limit:    opts.PageSize,
	}
	for {
		if ctx.Err() != nil {
			return report, eris.Wrap(ctx.Err(), "project: cancelled")
		}
		page, err := p.golden.ListGolden(ctx, filter)
		if err != nil {
			return report, eris.Wrap(err, "project: list golden records")
		}
		if len(page) == 0 {
			break
		}

		var enrichments []enrichResult
		if opts.Apply && opts.Enrich {
			enrichments = p.prefetch(ctx, page, opts.Concurrency)
		}

		for i := range page {
			var er enrichResult
			if enrichments != nil {
				er = enrichments[i]
			}
			res := p.projectOne(ctx, &page[i], er, opts)
			if res.Action == ActionFailed {
				log.Warn("projection failed", zap.String("slug", res.Slug), zap.String("error", res.Error))
			}
			p.metrics.RecordProjection(res.Action)
			report.add(res)
			if er.enrichment != nil {
				report.Enriched++
			}
		}

		filter.AfterID = page[len(page)-1].ID
		if len(page) < opts.PageSize {
			break
		}
	}

	log.Info("projection complete",
		zap.Int("total", report.Total),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("converted", report.Converted),
		zap.Int("failed", report.Failed),
		zap.Int("enrich_failed", report.EnrichFailed),
	)
	return report, nil
}

type enrichResult struct {
	enrichment *Enrichment
	err        error
}

// prefetch runs enrichment lookups for a page with bounded concurrency.
// Lookup errors are kept per record.
func (p *Projector) prefetch(ctx context.Context, page []golden.GoldenRecord, concurrency int) []enrichResult {
	out := make([]enrichResult, len(page))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i := range page {
		id := page[i].ExternalPlaceID
		if id == "" {
			continue
		}
		g.Go(func() error {
			en, err := p.enricher.Enrich(gctx, id)
			out[i] = enrichResult{enrichment: en, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (p *Projector) projectOne(ctx context.Context, g *golden.GoldenRecord, er enrichResult, opts Options) RecordResult {
	res := RecordResult{GoldenID: g.ID, Slug: g.Slug}
	if er.err != nil {
		res.EnrichError = er.err.Error()
	}

	fail := func(err error) RecordResult {
		res.Action = ActionFailed
		res.Error = err.Error()
		return res
	}

	existing, keyedBy, err := p.locate(ctx, g)
	if err != nil {
		return fail(err)
	}
	res.KeyedBy = keyedBy

	place := buildPlace(g, existing)
	if er.enrichment != nil {
		applyEnrichment(place, er.enrichment)
	}

	if existing != nil {
		res.Action, res.PlaceID = ActionUpdate, existing.ID
		if opts.Apply {
			if err := p.serving.UpdatePlace(ctx, place); err != nil {
				return fail(err)
			}
		}
	} else {
		res.Action = ActionInsert
		if opts.Apply {
			err := p.serving.InsertPlace(ctx, place)
			if db.IsUniqueViolation(err) {
				// Another source converged on the same key; update that row instead.
				current, key, lookupErr := p.locate(ctx, g)
				if lookupErr != nil {
					return fail(lookupErr)
				}
				if current == nil {
					return fail(eris.Wrap(err, "project: unique violation but no existing place found"))
				}
				place = buildPlace(g, current)
				if er.enrichment != nil {
					applyEnrichment(place, er.enrichment)
				}
				err = p.serving.UpdatePlace(ctx, place)
				res.Action, res.KeyedBy = ActionConvert, key
			}
			if err != nil {
				return fail(err)
			}
			res.PlaceID = place.ID
		}
	}

	if opts.Apply {
		prov := serving.Provenance{
			PlaceID:     place.ID,
			AddedBy:     g.Provenance.AddedBy,
			SourceType:  g.Provenance.SourceType,
			SourceName:  g.Provenance.SourceName,
			ImportBatch: g.Provenance.ImportBatch,
			AddedAt:     g.Provenance.AddedAt,
		}
		if err := p.serving.AddProvenance(ctx, prov); err != nil {
			zap.L().Warn("add provenance failed", zap.Int64("place_id", place.ID), zap.Error(err))
		}
	}
	return res
}

// errSlugConflict means the slug belongs to a place for a different
// external identifier.
var errSlugConflict = errors.New("project: slug belongs to a place with a different external id")

// locate finds the serving place for g by external id, then slug.
func (p *Projector) locate(ctx context.Context, g *golden.GoldenRecord) (*serving.Place, string, error) {
	if g.ExternalPlaceID != "" {
		pl, err := p.serving.GetPlaceByExternalID(ctx, g.ExternalPlaceID)
		if err != nil {
			return nil, "", err
		}
		if pl != nil {
			return pl, KeyExternalID, nil
		}
	}

	pl, err := p.serving.GetPlaceBySlug(ctx, g.Slug)
	if err != nil {
		return nil, "", err
	}
	if pl == nil {
		return nil, "", nil
	}
	if g.ExternalPlaceID != "" && pl.ExternalPlaceID != "" && pl.ExternalPlaceID != g.ExternalPlaceID {
		return nil, KeySlug, eris.Wrapf(errSlugConflict, "slug %s: place has %s, golden has %s",
			g.Slug, pl.ExternalPlaceID, g.ExternalPlaceID)
	}
	return pl, KeySlug, nil
}

// buildPlace overlays golden-owned fields on existing (or a new place).
// Serving-only fields (cuisine, tagline, phone, hours, photos) are kept.
func buildPlace(g *golden.GoldenRecord, existing *serving.Place) *serving.Place {
	p := &serving.Place{}
	if existing != nil {
		cp := *existing
		p = &cp
	} else {
		p.Slug = g.Slug
	}

	id := g.ID
	p.GoldenID = &id
	p.Name = g.Name
	p.Address = prefer(g.Address, p.Address)
	p.Neighborhood = prefer(g.Neighborhood, p.Neighborhood)
	p.Category = prefer(g.Category, p.Category)
	p.Website = prefer(g.Website, p.Website)
	p.ExternalPlaceID = prefer(g.ExternalPlaceID, p.ExternalPlaceID)
	if g.HasCoordinates() {
		p.Latitude, p.Longitude = g.Latitude, g.Longitude
	}
	return p
}

// applyEnrichment fills externally sourced fields. Curated address and
// website win over the collaborator's.
func applyEnrichment(p *serving.Place, e *Enrichment) {
	if len(e.Photos) > 0 {
		p.Photos = e.Photos
	}
	if len(e.Hours) > 0 {
		p.Hours = e.Hours
	}
	p.Phone = prefer(e.Phone, p.Phone)
	p.Website = prefer(p.Website, e.Website)
	p.Address = prefer(p.Address, e.Address)
	if p.Latitude == nil && p.Longitude == nil && e.Latitude != nil && e.Longitude != nil {
		p.Latitude, p.Longitude = e.Latitude, e.Longitude
	}
}

func prefer(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
