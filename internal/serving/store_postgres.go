package serving

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
)

// Unique constraints on the places table.
const (
	ConstraintSlug       = "places_slug_key"
	ConstraintExternalID = "places_external_place_id_key"
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

CREATE TABLE IF NOT EXISTS places (
	id                BIGSERIAL PRIMARY KEY,
	golden_id         UUID REFERENCES golden_records(id) ON DELETE SET NULL,
	slug              TEXT NOT NULL,
	name              TEXT NOT NULL,
	address           TEXT NOT NULL DEFAULT '',
	neighborhood      TEXT NOT NULL DEFAULT '',
	category          TEXT NOT NULL DEFAULT '',
	cuisine           TEXT NOT NULL DEFAULT '',
	tagline           TEXT NOT NULL DEFAULT '',
	website           TEXT NOT NULL DEFAULT '',
	phone             TEXT NOT NULL DEFAULT '',
	hours             JSONB NOT NULL DEFAULT '[]'::jsonb,
	photos            JSONB NOT NULL DEFAULT '[]'::jsonb,
	latitude          DOUBLE PRECISION,
	longitude         DOUBLE PRECISION,
	external_place_id TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT places_slug_key UNIQUE (slug),
	CONSTRAINT places_external_place_id_key UNIQUE (external_place_id)
);

CREATE INDEX IF NOT EXISTS idx_places_name_trgm ON places USING gin (name gin_trgm_ops);

CREATE TABLE IF NOT EXISTS place_provenance (
	id           BIGSERIAL PRIMARY KEY,
	place_id     BIGINT NOT NULL REFERENCES places(id),
	added_by     TEXT NOT NULL DEFAULT '',
	source_type  TEXT NOT NULL DEFAULT '',
	source_name  TEXT NOT NULL DEFAULT '',
	import_batch TEXT NOT NULL DEFAULT '',
	added_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (place_id, source_name, import_batch)
);

CREATE TABLE IF NOT EXISTS collections (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL,
	published  BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS collection_places (
	collection_id BIGINT NOT NULL REFERENCES collections(id) ON DELETE CASCADE,
	place_id      BIGINT NOT NULL REFERENCES places(id),
	position      INTEGER NOT NULL DEFAULT 0,
	UNIQUE (collection_id, place_id)
);

CREATE INDEX IF NOT EXISTS idx_collection_places_place ON collection_places(place_id);

CREATE TABLE IF NOT EXISTS bookmarks (
	user_id    TEXT NOT NULL,
	place_id   BIGINT NOT NULL REFERENCES places(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, place_id)
);

CREATE INDEX IF NOT EXISTS idx_bookmarks_place ON bookmarks(place_id);
`

// Migrate creates the serving tables. The golden tables must exist first.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "serving: migrate")
	}
	return nil
}

const placeColumns = `id, golden_id, slug, name, address, neighborhood, category, cuisine, tagline,
	website, phone, hours, photos, latitude, longitude, external_place_id, created_at, updated_at`

// GetPlaceByExternalID returns the place carrying externalID, or nil.
func (s *PostgresStore) GetPlaceByExternalID(ctx context.Context, externalID string) (*Place, error) {
	return s.getOne(ctx, `WHERE external_place_id = $1`, externalID)
}

// GetPlaceBySlug returns the place with slug, or nil.
func (s *PostgresStore) GetPlaceBySlug(ctx context.Context, slug string) (*Place, error) {
	return s.getOne(ctx, `WHERE slug = $1`, slug)
}

func (s *PostgresStore) getOne(ctx context.Context, where string, arg any) (*Place, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+placeColumns+` FROM places `+where, arg)
	if err != nil {
		return nil, eris.Wrapf(err, "serving: get place %v", arg)
	}
	defer rows.Close()

	places, err := scanPlaces(rows)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return nil, nil
	}
	return &places[0], nil
}

// InsertPlace inserts p and sets its id and timestamps. A unique violation
// is returned wrapped so callers can test it with db.IsUniqueViolation.
func (s *PostgresStore) InsertPlace(ctx context.Context, p *Place) error {
	hours, photos, err := marshalLists(p)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO places (
			golden_id, slug, name, address, neighborhood, category, cuisine, tagline,
			website, phone, hours, photos, latitude, longitude, external_place_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id, created_at, updated_at`,
		p.GoldenID, p.Slug, p.Name, p.Address, p.Neighborhood, p.Category, p.Cuisine, p.Tagline,
		p.Website, p.Phone, hours, photos, p.Latitude, p.Longitude, nilIfEmpty(p.ExternalPlaceID),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "serving: insert place %s", p.Slug)
	}
	return nil
}

// UpdatePlace overwrites the stored row identified by p.ID.
func (s *PostgresStore) UpdatePlace(ctx context.Context, p *Place) error {
	hours, photos, err := marshalLists(p)
	if err != nil {
		return err
	}
	err = s.pool.QueryRow(ctx, `
		UPDATE places SET
			golden_id = $2, slug = $3, name = $4, address = $5, neighborhood = $6, category = $7,
			cuisine = $8, tagline = $9, website = $10, phone = $11, hours = $12, photos = $13,
			latitude = $14, longitude = $15, external_place_id = $16, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.GoldenID, p.Slug, p.Name, p.Address, p.Neighborhood, p.Category,
		p.Cuisine, p.Tagline, p.Website, p.Phone, hours, photos,
		p.Latitude, p.Longitude, nilIfEmpty(p.ExternalPlaceID),
	).Scan(&p.UpdatedAt)
	if err != nil {
		return eris.Wrapf(err, "serving: update place %d", p.ID)
	}
	return nil
}

// AddProvenance records a source attribution for a place. Repeats of the
// same (place, source, batch) are ignored.
func (s *PostgresStore) AddProvenance(ctx context.Context, prov Provenance) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO place_provenance (place_id, added_by, source_type, source_name, import_batch, added_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (place_id, source_name, import_batch) DO NOTHING`,
		prov.PlaceID, prov.AddedBy, prov.SourceType, prov.SourceName, prov.ImportBatch, prov.AddedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "serving: add provenance for place %d", prov.PlaceID)
	}
	return nil
}

// ListPlaces returns up to limit places with id > afterID, ordered by id.
func (s *PostgresStore) ListPlaces(ctx context.Context, afterID int64, limit int) ([]Place, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+placeColumns+`
		FROM places
		WHERE id > $1
		ORDER BY id
		LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "serving: list places")
	}
	defer rows.Close()
	return scanPlaces(rows)
}

// RefCounts returns reference counts for the given place ids. Ids with no
// references are present with zero counts.
func (s *PostgresStore) RefCounts(ctx context.Context, ids []int64) (map[int64]RefCount, error) {
	out := make(map[int64]RefCount, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT p.id,
			(SELECT count(*) FROM collection_places cp WHERE cp.place_id = p.id),
			(SELECT count(*) FROM collection_places cp
				JOIN collections c ON c.id = cp.collection_id
				WHERE cp.place_id = p.id AND c.published),
			(SELECT count(*) FROM bookmarks b WHERE b.place_id = p.id)
		FROM places p
		WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "serving: ref counts")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id                    int64
			coll, published, book int64
		)
		if err := rows.Scan(&id, &coll, &published, &book); err != nil {
			return nil, eris.Wrap(err, "serving: scan ref counts")
		}
		out[id] = RefCount{Collections: int(coll), PublishedCollections: int(published), Bookmarks: int(book)}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "serving: iterate ref counts")
	}
	for _, id := range ids {
		if _, ok := out[id]; !ok {
			out[id] = RefCount{}
		}
	}
	return out, nil
}

// FindPlacesBySlugToken returns places whose slug equals token or contains
// it, exact matches first.
func (s *PostgresStore) FindPlacesBySlugToken(ctx context.Context, token string, limit int) ([]Place, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+placeColumns+`
		FROM places
		WHERE slug = $1 OR slug LIKE '%' || $1 || '%'
		ORDER BY (slug = $1) DESC, id
		LIMIT $2`, token, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "serving: find by slug token %s", token)
	}
	defer rows.Close()
	return scanPlaces(rows)
}

// SearchPlacesByName returns places whose name resembles name, best first.
func (s *PostgresStore) SearchPlacesByName(ctx context.Context, name string, limit int) ([]Place, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+placeColumns+`
		FROM places
		WHERE name ILIKE '%' || $1 || '%' OR similarity(name, $1) > 0.3
		ORDER BY similarity(name, $1) DESC, id
		LIMIT $2`, name, limit)
	if err != nil {
		return nil, eris.Wrapf(err, "serving: search by name %s", name)
	}
	defer rows.Close()
	return scanPlaces(rows)
}

// Merge runs fn inside one transaction.
func (s *PostgresStore) Merge(ctx context.Context, fn func(tx MergeTx) error) error {
	return db.InTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgMergeTx{tx: tx})
	})
}

func scanPlaces(rows pgx.Rows) ([]Place, error) {
	var out []Place
	for rows.Next() {
		var (
			p             Place
			hours, photos []byte
			externalID    *string
		)
		if err := rows.Scan(
			&p.ID, &p.GoldenID, &p.Slug, &p.Name, &p.Address, &p.Neighborhood, &p.Category, &p.Cuisine, &p.Tagline,
			&p.Website, &p.Phone, &hours, &photos, &p.Latitude, &p.Longitude, &externalID, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "serving: scan place")
		}
		if externalID != nil {
			p.ExternalPlaceID = *externalID
		}
		if len(hours) > 0 {
			if err := json.Unmarshal(hours, &p.Hours); err != nil {
				return nil, eris.Wrapf(err, "serving: decode hours for place %d", p.ID)
			}
		}
		if len(photos) > 0 {
			if err := json.Unmarshal(photos, &p.Photos); err != nil {
				return nil, eris.Wrapf(err, "serving: decode photos for place %d", p.ID)
			}
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func marshalLists(p *Place) ([]byte, []byte, error) {
	hours := p.Hours
	if hours == nil {
		hours = []string{}
	}
	photos := p.Photos
	if photos == nil {
		photos = []string{}
	}
	h, err := json.Marshal(hours)
	if err != nil {
		return nil, nil, eris.Wrap(err, "serving: marshal hours")
	}
	ph, err := json.Marshal(photos)
	if err != nil {
		return nil, nil, eris.Wrap(err, "serving: marshal photos")
	}
	return h, ph, nil
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
