package venue

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
)

// ErrNotFound is returned by SetStatus for an unknown candidate.
var ErrNotFound = eris.New("venue: candidate not found")

// UpsertResult reports what an upsert did.
type UpsertResult string

// Upsert results.
const (
	UpsertInserted UpsertResult = "inserted"
	UpsertUpdated  UpsertResult = "updated"

	// UpsertReviewed means a reviewer already decided the association; the
	// stored row was left unchanged.
	UpsertReviewed UpsertResult = "reviewed"
)

// ListFilter narrows candidate listings.
type ListFilter struct {
	ActorID string
	Status  Status
	Limit   int
}

// Store persists candidate associations.
type Store interface {
	UpsertCandidate(ctx context.Context, c *CandidateAssociation) (UpsertResult, error)
	ListCandidates(ctx context.Context, f ListFilter) ([]CandidateAssociation, error)
	SetStatus(ctx context.Context, id int64, status Status) error
}

// PostgresStore implements Store on Postgres.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS candidate_associations (
	id           BIGSERIAL PRIMARY KEY,
	actor_id     TEXT NOT NULL,
	actor_name   TEXT NOT NULL DEFAULT '',
	place_id     BIGINT NOT NULL REFERENCES places(id),
	dedupe_key   TEXT NOT NULL,
	mention_name TEXT NOT NULL,
	mention_url  TEXT NOT NULL DEFAULT '',
	mention_address TEXT NOT NULL DEFAULT '',
	confidence   DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	bucket       TEXT NOT NULL CHECK (bucket IN ('HIGH', 'MEDIUM', 'LOW')),
	reason       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'PENDING' CHECK (status IN ('PENDING', 'APPROVED', 'REJECTED')),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (actor_id, dedupe_key)
);
CREATE INDEX IF NOT EXISTS idx_candidate_associations_status ON candidate_associations (status, confidence DESC);
`

// Migrate creates the candidate table. The serving tables must exist first.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "venue: migrate")
	}
	return nil
}

const candidateColumns = `id, actor_id, actor_name, place_id, dedupe_key, mention_name, mention_url,
	mention_address, confidence, bucket, reason, status, created_at, updated_at`

// UpsertCandidate inserts c, or refreshes the stored row for the same
// (actor, dedupe key) while it is still PENDING. Reviewed rows are never
// touched. c is updated with the stored id, status and timestamps.
func (s *PostgresStore) UpsertCandidate(ctx context.Context, c *CandidateAssociation) (UpsertResult, error) {
	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO candidate_associations (
			actor_id, actor_name, place_id, dedupe_key, mention_name, mention_url,
			mention_address, confidence, bucket, reason, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'PENDING')
		ON CONFLICT (actor_id, dedupe_key) DO UPDATE SET
			actor_name = EXCLUDED.actor_name,
			place_id = EXCLUDED.place_id,
			mention_name = EXCLUDED.mention_name,
			mention_url = EXCLUDED.mention_url,
			mention_address = EXCLUDED.mention_address,
			confidence = EXCLUDED.confidence,
			bucket = EXCLUDED.bucket,
			reason = EXCLUDED.reason,
			updated_at = now()
		WHERE candidate_associations.status = 'PENDING'
		RETURNING id, status, created_at, updated_at, (xmax = 0)`,
		c.ActorID, c.ActorName, c.PlaceID, c.DedupeKey, c.MentionName, c.MentionURL,
		c.MentionAddress, c.Confidence, string(c.Bucket), c.Reason,
	).Scan(&c.ID, (*string)(&c.Status), &c.CreatedAt, &c.UpdatedAt, &inserted)
	switch {
	case err == nil && inserted:
		return UpsertInserted, nil
	case err == nil:
		return UpsertUpdated, nil
	case !db.IsNoRows(err):
		return "", eris.Wrapf(err, "venue: upsert candidate %s/%s", c.ActorID, c.DedupeKey)
	}

	// The conflict target exists but is reviewed.
	err = s.pool.QueryRow(ctx, `
		SELECT id, status, created_at, updated_at
		FROM candidate_associations
		WHERE actor_id = $1 AND dedupe_key = $2`,
		c.ActorID, c.DedupeKey,
	).Scan(&c.ID, (*string)(&c.Status), &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return "", eris.Wrapf(err, "venue: load reviewed candidate %s/%s", c.ActorID, c.DedupeKey)
	}
	return UpsertReviewed, nil
}

// ListCandidates returns candidates ordered by confidence, highest first.
func (s *PostgresStore) ListCandidates(ctx context.Context, f ListFilter) ([]CandidateAssociation, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		where = append(where, "actor_id = $1")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	q := "SELECT " + candidateColumns + " FROM candidate_associations"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY confidence DESC, id LIMIT $" + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "venue: list candidates")
	}
	defer rows.Close()

	var out []CandidateAssociation
	for rows.Next() {
		var c CandidateAssociation
		if err := rows.Scan(
			&c.ID, &c.ActorID, &c.ActorName, &c.PlaceID, &c.DedupeKey, &c.MentionName, &c.MentionURL,
			&c.MentionAddress, &c.Confidence, (*string)(&c.Bucket), &c.Reason, (*string)(&c.Status), &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "venue: scan candidate")
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "venue: iterate candidates")
	}
	return out, nil
}

// SetStatus records a review decision.
func (s *PostgresStore) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE candidate_associations SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return eris.Wrapf(err, "venue: set candidate %d status", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "id %d", id)
	}
	return nil
}
