package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/runlog"
	"github.com/sells-group/placeresolve/internal/venue"
)

type fakeGolden struct {
	golden.Store
	records      map[string]*golden.GoldenRecord
	ambiguous    []golden.AmbiguousLink
	gotVersion   string
	gotLimit     int
	statusCalled []golden.Status
}

func (f *fakeGolden) ListAmbiguous(_ context.Context, version string, limit int) ([]golden.AmbiguousLink, error) {
	f.gotVersion, f.gotLimit = version, limit
	return f.ambiguous, nil
}

func (f *fakeGolden) GetGolden(_ context.Context, id string) (*golden.GoldenRecord, error) {
	return f.records[id], nil
}

func (f *fakeGolden) UpdateStatus(_ context.Context, id string, status golden.Status) error {
	g, ok := f.records[id]
	if !ok {
		return eris.Wrapf(golden.ErrNotFound, "golden: %s", id)
	}
	if !g.Status.CanTransition(status) {
		return eris.Wrapf(golden.ErrInvalidTransition, "golden: %s %s -> %s", id, g.Status, status)
	}
	g.Status = status
	f.statusCalled = append(f.statusCalled, status)
	return nil
}

type fakeVenues struct {
	cands     []venue.CandidateAssociation
	gotFilter venue.ListFilter
}

func (f *fakeVenues) UpsertCandidate(context.Context, *venue.CandidateAssociation) (venue.UpsertResult, error) {
	return "", eris.New("not implemented")
}

func (f *fakeVenues) ListCandidates(_ context.Context, filter venue.ListFilter) ([]venue.CandidateAssociation, error) {
	f.gotFilter = filter
	return f.cands, nil
}

func (f *fakeVenues) SetStatus(_ context.Context, id int64, status venue.Status) error {
	for i := range f.cands {
		if f.cands[i].ID == id {
			f.cands[i].Status = status
			return nil
		}
	}
	return eris.Wrapf(venue.ErrNotFound, "venue: candidate %d", id)
}

func newRunStore(t *testing.T) *runlog.SQLiteStore {
	t.Helper()
	st, err := runlog.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	h := NewRouter(Deps{})
	rr := do(t, h, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestUnconfiguredStores(t *testing.T) {
	h := NewRouter(Deps{})
	for _, path := range []string{"/runs", "/runs/abc", "/reviews/ambiguous", "/golden/g1", "/venues/candidates"} {
		rr := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code, path)
	}
}

func TestRuns(t *testing.T) {
	st := newRunStore(t)
	ctx := context.Background()

	run, err := st.Start(ctx, "resolve", runlog.ModeApply, "batch=b1")
	require.NoError(t, err)
	require.NoError(t, st.Finish(ctx, run.ID, map[string]int{"total": 3}, nil))
	_, err = st.Start(ctx, "dedupe", runlog.ModeDryRun, "")
	require.NoError(t, err)

	h := NewRouter(Deps{Runs: st})

	rr := do(t, h, http.MethodGet, "/runs?kind=resolve", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []runlog.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	rr = do(t, h, http.MethodGet, "/runs/"+run.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got runlog.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, runlog.StatusComplete, got.Status)
	assert.JSONEq(t, `{"total":3}`, string(got.Report))

	rr = do(t, h, http.MethodGet, "/runs/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRuns_EmptyListIsArray(t *testing.T) {
	h := NewRouter(Deps{Runs: newRunStore(t)})
	rr := do(t, h, http.MethodGet, "/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rr.Body.String()))
}

func TestAmbiguousQueue(t *testing.T) {
	g := &fakeGolden{ambiguous: []golden.AmbiguousLink{{
		ResolutionLink: golden.ResolutionLink{ID: 9, RawRecordID: 4, Type: golden.ResolutionAmbiguous},
		BatchID:        "b1",
		SourceName:     "Gjelina",
	}}}
	h := NewRouter(Deps{Golden: g, ResolverVersion: "v1"})

	rr := do(t, h, http.MethodGet, "/reviews/ambiguous", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v1", g.gotVersion)
	assert.Equal(t, defaultLimit, g.gotLimit)

	var links []golden.AmbiguousLink
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &links))
	require.Len(t, links, 1)
	assert.Equal(t, "Gjelina", links[0].SourceName)

	rr = do(t, h, http.MethodGet, "/reviews/ambiguous?version=v2&limit=5000", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v2", g.gotVersion)
	assert.Equal(t, maxLimit, g.gotLimit)
}

func TestGoldenStatus(t *testing.T) {
	g := &fakeGolden{records: map[string]*golden.GoldenRecord{
		"g1": {ID: "g1", Slug: "gjelina", Name: "Gjelina", Status: golden.StatusPending},
	}}
	h := NewRouter(Deps{Golden: g})

	rr := do(t, h, http.MethodGet, "/golden/g1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"slug":"gjelina"`)

	rr = do(t, h, http.MethodGet, "/golden/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/golden/g1/status", `{"status":"VERIFIED"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, golden.StatusVerified, g.records["g1"].Status)

	rr = do(t, h, http.MethodPost, "/golden/g1/status", `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPost, "/golden/missing/status", `{"status":"ARCHIVED"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/golden/g1/status", `{"status":"LIVE"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/golden/g1/status", `not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	assert.Equal(t, []golden.Status{golden.StatusVerified}, g.statusCalled)
}

func TestVenueCandidates(t *testing.T) {
	v := &fakeVenues{cands: []venue.CandidateAssociation{
		{ID: 1, ActorID: "group:1", PlaceID: 10, MentionName: "Gjelina", Status: venue.StatusPending},
		{ID: 2, ActorID: "group:1", PlaceID: 11, MentionName: "Gjusta", Status: venue.StatusPending},
	}}
	h := NewRouter(Deps{Venues: v})

	rr := do(t, h, http.MethodGet, "/venues/candidates?actor=group:1&status=pending&limit=10", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, venue.ListFilter{ActorID: "group:1", Status: venue.StatusPending, Limit: 10}, v.gotFilter)

	var cands []venue.CandidateAssociation
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cands))
	assert.Len(t, cands, 2)

	rr = do(t, h, http.MethodGet, "/venues/candidates?status=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/venues/candidates/2/status", `{"status":"APPROVED"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, venue.StatusApproved, v.cands[1].Status)

	rr = do(t, h, http.MethodPost, "/venues/candidates/1/status", `{"status":"PENDING"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/venues/candidates/99/status", `{"status":"REJECTED"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, "/venues/candidates/abc/status", `{"status":"REJECTED"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)
	m.RecordResolution("created", "none")

	h := NewRouter(Deps{Gatherer: reg})
	rr := do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "placeresolve_resolutions_total")
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(Deps{CORSOrigins: []string{"https://review.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/healthz", nil)
	req.Header.Set("Origin", "https://review.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, "https://review.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
