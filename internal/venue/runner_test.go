package venue

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/serving"
)

type candKey struct{ actor, key string }

// memCandidates is an in-memory Store with the same reviewed-row rule as
// the Postgres upsert.
type memCandidates struct {
	rows   map[candKey]*CandidateAssociation
	nextID int64
	err    error
}

func newMemCandidates() *memCandidates {
	return &memCandidates{rows: make(map[candKey]*CandidateAssociation)}
}

func (m *memCandidates) UpsertCandidate(_ context.Context, c *CandidateAssociation) (UpsertResult, error) {
	if m.err != nil {
		return "", m.err
	}
	k := candKey{c.ActorID, c.DedupeKey}
	existing, ok := m.rows[k]
	switch {
	case !ok:
		m.nextID++
		c.ID, c.Status = m.nextID, StatusPending
		cp := *c
		m.rows[k] = &cp
		return UpsertInserted, nil
	case existing.Status != StatusPending:
		c.ID, c.Status = existing.ID, existing.Status
		return UpsertReviewed, nil
	default:
		c.ID, c.Status = existing.ID, StatusPending
		cp := *c
		m.rows[k] = &cp
		return UpsertUpdated, nil
	}
}

func (m *memCandidates) ListCandidates(context.Context, ListFilter) ([]CandidateAssociation, error) {
	var out []CandidateAssociation
	for _, c := range m.rows {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memCandidates) SetStatus(_ context.Context, id int64, status Status) error {
	for _, c := range m.rows {
		if c.ID == id {
			c.Status = status
			return nil
		}
	}
	return ErrNotFound
}

func groupFinder() *fakeFinder {
	return &fakeFinder{
		slugHits: map[string][]serving.Place{
			"gjusta": {{ID: 2, Slug: "gjusta"}},
		},
		nameHits: map[string][]serving.Place{
			"Gjelina":   {{ID: 1, Name: "Gjelina", Slug: "gjelina"}},
			"Sushi Gen": {{ID: 5, Name: "Sushi Gen Downtown"}, {ID: 6, Name: "Sushi Gen Express"}},
		},
	}
}

func groupMentions() []Mention {
	return []Mention{
		{Name: "Learn More", URL: "mailto:x@y.com"},
		{Name: "Gjusta", URL: "https://group.example/gjusta"},
		{Name: "Gjelina"},
		{Name: "Sushi Gen"},
		{Name: "Gjelina Venice", URL: "https://group.example/gjelina"},
	}
}

func TestRun_NoiseProducesNoCandidates(t *testing.T) {
	store := newMemCandidates()
	r := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), store, nil)

	rep, err := r.Run(context.Background(), group, []Mention{{Name: "Learn More", URL: "mailto:x@y.com"}}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Noise)
	assert.Zero(t, rep.Matched)
	assert.Empty(t, store.rows)
}

func TestRun_ApplyUpsertsPendingCandidates(t *testing.T) {
	f := groupFinder()
	f.slugHits["gjelina"] = []serving.Place{{ID: 1, Slug: "gjelina"}}
	store := newMemCandidates()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	rep, err := NewRunner(NewMatcher(f, DefaultPolicy()), store, m).Run(context.Background(), group, groupMentions(), true)
	require.NoError(t, err)

	assert.Equal(t, 5, rep.Total)
	assert.Equal(t, 1, rep.Noise)
	assert.Equal(t, 3, rep.Matched)
	assert.Equal(t, 1, rep.Inconclusive)
	assert.Equal(t, 3, rep.Inserted, "each mention has its own key")
	assert.Zero(t, rep.Updated)
	require.Len(t, store.rows, 3)

	bySlug := store.rows[candKey{"chef-1", "url:group.example/gjelina"}]
	require.NotNil(t, bySlug)
	assert.Equal(t, int64(1), bySlug.PlaceID)
	assert.Equal(t, StatusPending, bySlug.Status)
	assert.Equal(t, ReasonURLSlug, bySlug.Reason)
	assert.Equal(t, BucketHigh, bySlug.Bucket)

	byName := store.rows[candKey{"chef-1", "name:gjelina|"}]
	require.NotNil(t, byName)
	assert.Equal(t, int64(1), byName.PlaceID)
	assert.Equal(t, ReasonNameJaccard, byName.Reason)

	assert.Equal(t, 3, testutil.CollectAndCount(m, "placeresolve_venue_candidates_total"), "noise, matched and inconclusive series")
}

func TestRun_ReviewedCandidatesPreserved(t *testing.T) {
	store := newMemCandidates()
	r := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), store, nil)

	_, err := r.Run(context.Background(), group, groupMentions()[:3], true)
	require.NoError(t, err)
	id := store.rows[candKey{"chef-1", "url:group.example/gjusta"}].ID
	require.NoError(t, store.SetStatus(context.Background(), id, StatusRejected))

	rep, err := r.Run(context.Background(), group, groupMentions()[:3], true)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Reviewed)
	assert.Equal(t, 1, rep.Updated, "the pending name match is refreshed")
	assert.Equal(t, StatusRejected, store.rows[candKey{"chef-1", "url:group.example/gjusta"}].Status)
	assert.Contains(t, rep.Results[1].Detail, "REJECTED")
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	rep, err := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), nil, nil).
		Run(context.Background(), group, groupMentions(), false)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Matched)
	assert.Zero(t, rep.Inserted)
}

func TestRun_WriteFailureIsPerMention(t *testing.T) {
	store := newMemCandidates()
	store.err = errors.New("constraint")

	rep, err := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), store, nil).
		Run(context.Background(), group, groupMentions()[:3], true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Matched)
	assert.Equal(t, OutcomeFailed, rep.Results[1].Outcome)
}

func TestRun_Validation(t *testing.T) {
	r := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), nil, nil)

	_, err := r.Run(context.Background(), Actor{}, nil, false)
	assert.Error(t, err)

	_, err = r.Run(context.Background(), group, nil, true)
	assert.Error(t, err)
}

func TestRun_RerunIsIdempotent(t *testing.T) {
	store := newMemCandidates()
	r := NewRunner(NewMatcher(groupFinder(), DefaultPolicy()), store, nil)

	first, err := r.Run(context.Background(), group, groupMentions(), true)
	require.NoError(t, err)
	second, err := r.Run(context.Background(), group, groupMentions(), true)
	require.NoError(t, err)

	assert.Equal(t, first.Inserted, second.Updated)
	assert.Zero(t, second.Inserted)
	assert.Len(t, store.rows, first.Inserted)
}

func TestDedupeKey(t *testing.T) {
	same := []Mention{
		{Name: "Gjusta", URL: "https://group.example/gjusta"},
		{Name: "GJUSTA bakery", URL: "http://www.group.example/gjusta/"},
		{Name: "Gjusta", URL: "https://group.example/gjusta#menu"},
	}
	want := DedupeKey(same[0])
	assert.Equal(t, "url:group.example/gjusta", want)
	for _, m := range same[1:] {
		assert.Equal(t, want, DedupeKey(m), m.URL)
	}

	assert.NotEqual(t, want, DedupeKey(Mention{Name: "Gjusta", URL: "https://group.example/gjusta?loc=2"}))

	assert.Equal(t, "name:gjelina|1429 abbot kinney blvd",
		DedupeKey(Mention{Name: "The Gjelina", Address: "1429 Abbot Kinney Boulevard"}))
	assert.NotEqual(t,
		DedupeKey(Mention{Name: "Gjelina", Address: "1429 Abbot Kinney Blvd"}),
		DedupeKey(Mention{Name: "Gjelina", Address: "320 Sunset Ave"}))
}
