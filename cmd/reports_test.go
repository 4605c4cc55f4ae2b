package main

import (
	"bytes"
	"testing"
	"text/tabwriter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placeresolve/internal/dedupe"
	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/project"
	"github.com/sells-group/placeresolve/internal/resolve"
	"github.com/sells-group/placeresolve/internal/venue"
)

func render(fn func(w *tabwriter.Writer)) string {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fn(w)
	_ = w.Flush()
	return buf.String()
}

func TestFormatResolveReport(t *testing.T) {
	r := &resolve.Report{
		BatchID:         "venice-1",
		ResolverVersion: "v1",
		Total:           4,
		Matched:         1,
		Created:         1,
		Ambiguous:       1,
		Invalid:         1,
		Records: []resolve.RecordResult{
			{Row: 1, Name: "Gjelina", Outcome: resolve.OutcomeMatched},
			{Row: 2, Name: "Gjusta", Outcome: resolve.OutcomeCreated},
			{Row: 3, Name: "Gjelina Take Away", Outcome: resolve.OutcomeAmbiguous, Reason: "runner-up within gap"},
			{Row: 4, Name: "", Outcome: resolve.OutcomeInvalid, Error: "name is required"},
		},
	}

	out := render(func(w *tabwriter.Writer) { formatResolveReport(w, r) })
	assert.Contains(t, out, "venice-1 (dry-run, resolver v1)")
	assert.Contains(t, out, "Ambiguous:")
	assert.Contains(t, out, "Gjelina Take Away")
	assert.Contains(t, out, "runner-up within gap")
	assert.Contains(t, out, "name is required")
	assert.NotContains(t, out, "Gjusta", "created rows are not listed")
}

func TestFormatProjectReport(t *testing.T) {
	r := &project.Report{
		Apply:        true,
		Total:        3,
		Inserted:     1,
		Updated:      1,
		Failed:       1,
		EnrichFailed: 1,
		Records: []project.RecordResult{
			{GoldenID: "11111111-aaaa", Slug: "gjelina", Action: project.ActionInsert},
			{GoldenID: "22222222-bbbb", Slug: "gjusta", Action: project.ActionUpdate, EnrichError: "places: 503"},
			{GoldenID: "33333333-cccc", Slug: "bestia", Action: project.ActionFailed, Error: "slug conflict"},
		},
	}

	out := render(func(w *tabwriter.Writer) { formatProjectReport(w, r) })
	assert.Contains(t, out, "apply")
	assert.Contains(t, out, "enrichment: places: 503")
	assert.Contains(t, out, "slug conflict")
	assert.Contains(t, out, "33333333")
	assert.NotContains(t, out, "11111111")
}

func TestFormatDedupeReport(t *testing.T) {
	r := &dedupe.Report{
		Execute: true,
		Groups:  []dedupe.Group{{Keeper: dedupe.Member{ID: 1}}},
		Merged:  1,
		Skipped: 1,
		Merges: []dedupe.MergeResult{
			{KeeperID: 1, LoserID: 2, LoserSlug: "the-gjelina", Result: dedupe.ResultMerged, MovedCollections: 2, MovedCandidates: 3, DroppedBookmarks: 1},
			{KeeperID: 1, LoserID: 3, LoserSlug: "gjelina-venice", Result: dedupe.ResultSkipped, Reason: "published collection"},
		},
	}

	out := render(func(w *tabwriter.Writer) { formatDedupeReport(w, r) })
	assert.Contains(t, out, "Groups:")
	assert.Contains(t, out, "the-gjelina")
	assert.Contains(t, out, "2c/0b/3v")
	assert.Contains(t, out, "0c/1b")
	assert.Contains(t, out, "published collection")
}

func TestFormatDedupeReport_ReportOnly(t *testing.T) {
	out := render(func(w *tabwriter.Writer) { formatDedupeReport(w, &dedupe.Report{}) })
	assert.Contains(t, out, "Groups:")
	assert.NotContains(t, out, "Merged:")
}

func TestFormatVenueReport(t *testing.T) {
	r := &venue.Report{
		Actor:    venue.Actor{ID: "group:gjelina"},
		Apply:    true,
		Total:    3,
		Matched:  1,
		Noise:    2,
		Inserted: 1,
		Results: []venue.Result{
			{Mention: venue.Mention{Name: "Gjusta"}, Outcome: venue.OutcomeMatched, PlaceSlug: "gjusta",
				Confidence: 0.95, Bucket: venue.BucketHigh, Reason: venue.ReasonURLSlug},
			{Mention: venue.Mention{Name: "Email us"}, Outcome: venue.OutcomeNoise},
		},
	}

	out := render(func(w *tabwriter.Writer) { formatVenueReport(w, r) })
	assert.Contains(t, out, "group:gjelina (apply)")
	assert.Contains(t, out, "1 inserted, 0 updated, 0 already reviewed")
	assert.Contains(t, out, "gjusta")
	assert.Contains(t, out, "0.95")
	assert.NotContains(t, out, "Email us")
}

func TestParseGoldenStatuses(t *testing.T) {
	got, err := parseGoldenStatuses([]string{"verified", " PUBLISHED "})
	require.NoError(t, err)
	assert.Equal(t, []golden.Status{golden.StatusVerified, golden.StatusPublished}, got)

	got, err = parseGoldenStatuses(nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = parseGoldenStatuses([]string{"live"})
	assert.Error(t, err)
}

func TestProjectScope(t *testing.T) {
	assert.Equal(t, "", projectScope(project.Options{}))
	assert.Equal(t, "slugs=gjelina,gjusta batch=b1 enrich",
		projectScope(project.Options{Slugs: []string{"gjelina", "gjusta"}, BatchID: "b1", Enrich: true}))
}
