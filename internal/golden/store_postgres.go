package golden

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
)

// Sentinel errors.
var (
	ErrNotFound          = eris.New("golden: record not found")
	ErrLinkExists        = eris.New("golden: resolution link already exists")
	ErrInvalidTransition = eris.New("golden: invalid status transition")
)

// PostgresStore implements Store using pgx.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS raw_records (
	id              BIGSERIAL PRIMARY KEY,
	batch_id        TEXT NOT NULL,
	row_number      INTEGER NOT NULL,
	source_name     TEXT NOT NULL,
	payload         JSONB NOT NULL,
	normalized_name TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION,
	longitude       DOUBLE PRECISION,
	ingested_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (batch_id, row_number)
);

CREATE TABLE IF NOT EXISTS golden_records (
	id                UUID PRIMARY KEY,
	slug              TEXT NOT NULL UNIQUE,
	name              TEXT NOT NULL,
	normalized_name   TEXT NOT NULL,
	address           TEXT NOT NULL DEFAULT '',
	neighborhood      TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	external_place_id TEXT UNIQUE,
	confidence        DOUBLE PRECISION NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	status            TEXT NOT NULL DEFAULT 'PENDING'
		CHECK (status IN ('PENDING', 'VERIFIED', 'PUBLISHED', 'ARCHIVED')),
	provenance        JSONB NOT NULL DEFAULT '{}'::jsonb,
	merged_into       UUID REFERENCES golden_records(id),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

ALTER TABLE golden_records ADD COLUMN IF NOT EXISTS merged_into UUID REFERENCES golden_records(id);

CREATE INDEX IF NOT EXISTS idx_golden_records_normalized_name ON golden_records(normalized_name);
CREATE INDEX IF NOT EXISTS idx_golden_records_status ON golden_records(status);
CREATE INDEX IF NOT EXISTS idx_golden_records_import_batch ON golden_records((provenance->>'import_batch'));

CREATE TABLE IF NOT EXISTS resolution_links (
	id               BIGSERIAL PRIMARY KEY,
	raw_record_id    BIGINT NOT NULL REFERENCES raw_records(id),
	golden_id        UUID REFERENCES golden_records(id) ON DELETE SET NULL,
	resolution_type  TEXT NOT NULL CHECK (resolution_type IN ('matched', 'created', 'ambiguous')),
	method           TEXT NOT NULL DEFAULT '',
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	reason           TEXT NOT NULL DEFAULT '',
	resolver_version TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (raw_record_id, resolver_version)
);

CREATE INDEX IF NOT EXISTS idx_resolution_links_type ON resolution_links(resolution_type, resolver_version);
`

// Migrate creates the golden registry tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "golden: migrate")
	}
	return nil
}

// UpsertRawRecord inserts r unless (batch_id, row_number) already exists,
// and sets r.ID to the stored row's id either way. Existing rows are never
// modified.
func (s *PostgresStore) UpsertRawRecord(ctx context.Context, r *RawRecord) error {
	err := s.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO raw_records (batch_id, row_number, source_name, payload, normalized_name, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (batch_id, row_number) DO NOTHING
			RETURNING id, ingested_at
		)
		SELECT id, ingested_at FROM ins
		UNION ALL
		SELECT id, ingested_at FROM raw_records WHERE batch_id = $1 AND row_number = $2
		LIMIT 1`,
		r.BatchID, r.RowNumber, r.SourceName, []byte(r.Payload), r.NormalizedName, r.Latitude, r.Longitude,
	).Scan(&r.ID, &r.IngestedAt)
	if err != nil {
		return eris.Wrapf(err, "golden: upsert raw record %s#%d", r.BatchID, r.RowNumber)
	}
	return nil
}

// GetLink returns the link for (rawRecordID, version), or nil if none exists.
func (s *PostgresStore) GetLink(ctx context.Context, rawRecordID int64, version string) (*ResolutionLink, error) {
	l := &ResolutionLink{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM resolution_links
		WHERE raw_record_id = $1 AND resolver_version = $2`,
		rawRecordID, version,
	).Scan(linkDests(l)...)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "golden: get link for raw record %d", rawRecordID)
	}
	return l, nil
}

// FindLink returns the link recorded by version for row rowNumber of batch,
// or nil when the row was never ingested or never resolved. It never writes.
func (s *PostgresStore) FindLink(ctx context.Context, batchID string, rowNumber int, version string) (*ResolutionLink, error) {
	l := &ResolutionLink{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+linkColumns+`
		FROM resolution_links
		WHERE resolver_version = $3
		  AND raw_record_id = (SELECT id FROM raw_records WHERE batch_id = $1 AND row_number = $2)`,
		batchID, rowNumber, version,
	).Scan(linkDests(l)...)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "golden: find link for %s#%d", batchID, rowNumber)
	}
	return l, nil
}

// CommitResolution writes the link, and the newly minted golden record when
// created is non-nil, in one transaction. It returns ErrLinkExists when the
// raw record was already resolved by this resolver version.
func (s *PostgresStore) CommitResolution(ctx context.Context, link *ResolutionLink, created *GoldenRecord) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		if created != nil {
			if err := insertGolden(ctx, tx, created); err != nil {
				return err
			}
			if link.GoldenID == nil {
				id := created.ID
				link.GoldenID = &id
			}
		}

		err := tx.QueryRow(ctx, `
			INSERT INTO resolution_links (raw_record_id, golden_id, resolution_type, method, confidence, reason, resolver_version)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (raw_record_id, resolver_version) DO NOTHING
			RETURNING id, created_at`,
			link.RawRecordID, link.GoldenID, string(link.Type), link.Method, link.Confidence, link.Reason, link.ResolverVersion,
		).Scan(&link.ID, &link.CreatedAt)
		if err != nil {
			if db.IsNoRows(err) {
				return ErrLinkExists
			}
			return eris.Wrapf(err, "golden: insert link for raw record %d", link.RawRecordID)
		}
		return nil
	})
}

func insertGolden(ctx context.Context, q db.Querier, g *GoldenRecord) error {
	prov, err := json.Marshal(g.Provenance)
	if err != nil {
		return eris.Wrap(err, "golden: marshal provenance")
	}
	err = q.QueryRow(ctx, `
		INSERT INTO golden_records (
			id, slug, name, normalized_name, address, neighborhood, category, website,
			latitude, longitude, external_place_id, confidence, status, provenance
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at`,
		g.ID, g.Slug, g.Name, g.NormalizedName, g.Address, g.Neighborhood, g.Category, g.Website,
		g.Latitude, g.Longitude, nilIfEmpty(g.ExternalPlaceID), g.Confidence, string(g.Status), prov,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "golden: insert %s", g.Slug)
	}
	return nil
}

// ListAmbiguous returns ambiguous links for a resolver version, newest first.
func (s *PostgresStore) ListAmbiguous(ctx context.Context, version string, limit int) ([]AmbiguousLink, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT l.id, l.raw_record_id, l.golden_id, l.resolution_type, l.method, l.confidence,
			l.reason, l.resolver_version, l.created_at, r.batch_id, r.source_name, r.payload
		FROM resolution_links l
		JOIN raw_records r ON r.id = l.raw_record_id
		WHERE l.resolution_type = 'ambiguous' AND l.resolver_version = $1
		ORDER BY l.created_at DESC
		LIMIT $2`, version, limit)
	if err != nil {
		return nil, eris.Wrap(err, "golden: list ambiguous")
	}
	defer rows.Close()

	var out []AmbiguousLink
	for rows.Next() {
		var a AmbiguousLink
		var payload []byte
		dests := append(linkDests(&a.ResolutionLink), &a.BatchID, &a.SourceName, &payload)
		if err := rows.Scan(dests...); err != nil {
			return nil, eris.Wrap(err, "golden: scan ambiguous link")
		}
		a.Payload = payload
		out = append(out, a)
	}
	return out, rows.Err()
}

// ActiveCandidates returns every non-archived golden record.
func (s *PostgresStore) ActiveCandidates(ctx context.Context) ([]GoldenRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+goldenColumns+`
		FROM golden_records
		WHERE status <> 'ARCHIVED'
		ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "golden: list active candidates")
	}
	defer rows.Close()
	return scanGoldens(rows)
}

// SlugTaken reports whether any golden record, archived or not, uses slug.
func (s *PostgresStore) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM golden_records WHERE slug = $1)`, slug).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "golden: check slug %s", slug)
	}
	return exists, nil
}

// GetGolden fetches a golden record by id, or nil if absent.
func (s *PostgresStore) GetGolden(ctx context.Context, id string) (*GoldenRecord, error) {
	return s.getOne(ctx, `WHERE id = $1`, id)
}

// GetGoldenBySlug fetches a golden record by slug, or nil if absent.
func (s *PostgresStore) GetGoldenBySlug(ctx context.Context, slug string) (*GoldenRecord, error) {
	return s.getOne(ctx, `WHERE slug = $1`, slug)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (*GoldenRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+goldenColumns+` FROM golden_records `+where, arg)
	if err != nil {
		return nil, eris.Wrapf(err, "golden: get %v", arg)
	}
	defer rows.Close()

	recs, err := scanGoldens(rows)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// ListGolden lists golden records ordered by id, using keyset paging on
// f.AfterID.
func (s *PostgresStore) ListGolden(ctx context.Context, f ListFilter) ([]GoldenRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if len(f.Slugs) > 0 {
		add("slug = ANY($%d)", f.Slugs)
	}
	if f.BatchID != "" {
		add("provenance->>'import_batch' = $%d", f.BatchID)
	}
	if f.AfterID != "" {
		add("id > $%d", f.AfterID)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)

	query := `SELECT ` + goldenColumns + ` FROM golden_records`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += fmt.Sprintf(` ORDER BY id LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "golden: list")
	}
	defer rows.Close()
	return scanGoldens(rows)
}

// UpdateStatus moves a golden record through its lifecycle.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM golden_records WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if err != nil {
			if db.IsNoRows(err) {
				return eris.Wrapf(ErrNotFound, "golden: %s", id)
			}
			return eris.Wrapf(err, "golden: lock %s", id)
		}
		if !Status(current).CanTransition(status) {
			return eris.Wrapf(ErrInvalidTransition, "golden: %s %s -> %s", id, current, status)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE golden_records SET status = $2, updated_at = now() WHERE id = $1`,
			id, string(status),
		); err != nil {
			return eris.Wrapf(err, "golden: update status %s", id)
		}
		return nil
	})
}

const goldenColumns = `id, slug, name, normalized_name, address, neighborhood, category, website,
	latitude, longitude, external_place_id, confidence, status, provenance, created_at, updated_at`

const linkColumns = `id, raw_record_id, golden_id, resolution_type, method, confidence,
	reason, resolver_version, created_at`

func scanGoldens(rows pgx.Rows) ([]GoldenRecord, error) {
	var out []GoldenRecord
	for rows.Next() {
		var (
			g          GoldenRecord
			externalID *string
			status     string
			prov       []byte
		)
		if err := rows.Scan(
			&g.ID, &g.Slug, &g.Name, &g.NormalizedName, &g.Address, &g.Neighborhood, &g.Category, &g.Website,
			&g.Latitude, &g.Longitude, &externalID, &g.Confidence, &status, &prov, &g.CreatedAt, &g.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "golden: scan record")
		}
		if externalID != nil {
			g.ExternalPlaceID = *externalID
		}
		g.Status = Status(status)
		if len(prov) > 0 {
			if err := json.Unmarshal(prov, &g.Provenance); err != nil {
				return nil, eris.Wrapf(err, "golden: decode provenance for %s", g.ID)
			}
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func linkDests(l *ResolutionLink) []any {
	return []any{
		&l.ID, &l.RawRecordID, &l.GoldenID, (*string)(&l.Type), &l.Method, &l.Confidence,
		&l.Reason, &l.ResolverVersion, &l.CreatedAt,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
