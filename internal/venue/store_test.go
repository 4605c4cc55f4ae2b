package venue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockVenueStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresStore(mock), mock
}

func candidate() *CandidateAssociation {
	return &CandidateAssociation{
		ActorID:        "chef-1",
		ActorName:      "Travis Lett",
		PlaceID:        2,
		DedupeKey:      "url:group.example/gjusta",
		MentionName:    "Gjusta",
		MentionURL:     "https://group.example/gjusta",
		MentionAddress: "320 Sunset Ave",
		Confidence:     0.95,
		Bucket:         BucketHigh,
		Reason:         ReasonURLSlug,
	}
}

func TestMigrate(t *testing.T) {
	s, mock := newMockVenueStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS candidate_associations").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandidate(t *testing.T) {
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name     string
		inserted bool
		want     UpsertResult
	}{
		{"new row", true, UpsertInserted},
		{"pending row refreshed", false, UpsertUpdated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockVenueStore(t)
			c := candidate()
			mock.ExpectQuery(`INSERT INTO candidate_associations .* ON CONFLICT \(actor_id, dedupe_key\) DO UPDATE .* WHERE candidate_associations.status = 'PENDING'`).
				WithArgs("chef-1", "Travis Lett", int64(2), "url:group.example/gjusta", "Gjusta", "https://group.example/gjusta",
					"320 Sunset Ave", 0.95, "HIGH", ReasonURLSlug).
				WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at", "updated_at", "inserted"}).
					AddRow(int64(11), "PENDING", now, now, tt.inserted))

			got, err := s.UpsertCandidate(context.Background(), c)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, int64(11), c.ID)
			assert.Equal(t, StatusPending, c.Status)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpsertCandidate_ReviewedUntouched(t *testing.T) {
	s, mock := newMockVenueStore(t)
	now := time.Now().UTC()
	c := candidate()

	mock.ExpectQuery("INSERT INTO candidate_associations").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT id, status, created_at, updated_at\\s+FROM candidate_associations").
		WithArgs("chef-1", "url:group.example/gjusta").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "created_at", "updated_at"}).
			AddRow(int64(11), "APPROVED", now, now))

	got, err := s.UpsertCandidate(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, UpsertReviewed, got)
	assert.Equal(t, StatusApproved, c.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertCandidate_Error(t *testing.T) {
	s, mock := newMockVenueStore(t)
	mock.ExpectQuery("INSERT INTO candidate_associations").WillReturnError(eris.New("boom"))

	_, err := s.UpsertCandidate(context.Background(), candidate())
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCandidates(t *testing.T) {
	s, mock := newMockVenueStore(t)
	now := time.Now().UTC()
	cols := []string{"id", "actor_id", "actor_name", "place_id", "dedupe_key", "mention_name", "mention_url",
		"mention_address", "confidence", "bucket", "reason", "status", "created_at", "updated_at"}

	mock.ExpectQuery(`FROM candidate_associations WHERE actor_id = \$1 AND status = \$2 ORDER BY confidence DESC, id LIMIT \$3`).
		WithArgs("chef-1", "PENDING", 100).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow(int64(11), "chef-1", "Travis Lett", int64(2), "url:group.example/gjusta", "Gjusta", "", "", 0.95, "HIGH", "url-slug", "PENDING", now, now))

	got, err := s.ListCandidates(context.Background(), ListFilter{ActorID: "chef-1", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, BucketHigh, got[0].Bucket)
	assert.Equal(t, StatusPending, got[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListCandidates_StatusOnly(t *testing.T) {
	s, mock := newMockVenueStore(t)
	mock.ExpectQuery(`WHERE status = \$1 ORDER BY confidence DESC, id LIMIT \$2`).
		WithArgs("APPROVED", 5).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	got, err := s.ListCandidates(context.Background(), ListFilter{Status: StatusApproved, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetStatus(t *testing.T) {
	s, mock := newMockVenueStore(t)
	mock.ExpectExec("UPDATE candidate_associations SET status").
		WithArgs(int64(11), "APPROVED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE candidate_associations SET status").
		WithArgs(int64(99), "REJECTED").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, s.SetStatus(context.Background(), 11, StatusApproved))
	err := s.SetStatus(context.Background(), 99, StatusRejected)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("APPROVED")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, st)

	_, err = ParseStatus("approved")
	assert.Error(t, err)
}
