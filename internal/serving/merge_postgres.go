package serving

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/db"
)

type pgMergeTx struct {
	tx pgx.Tx
}

func (m *pgMergeTx) CollectionRefs(ctx context.Context, placeID int64) ([]CollectionRef, error) {
	rows, err := m.tx.Query(ctx, `
		SELECT cp.collection_id, c.published
		FROM collection_places cp
		JOIN collections c ON c.id = cp.collection_id
		WHERE cp.place_id = $1
		ORDER BY cp.collection_id`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "serving: collection refs for place %d", placeID)
	}
	defer rows.Close()

	var out []CollectionRef
	for rows.Next() {
		var r CollectionRef
		if err := rows.Scan(&r.CollectionID, &r.Published); err != nil {
			return nil, eris.Wrap(err, "serving: scan collection ref")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (m *pgMergeTx) BookmarkUsers(ctx context.Context, placeID int64) ([]string, error) {
	rows, err := m.tx.Query(ctx, `SELECT user_id FROM bookmarks WHERE place_id = $1 ORDER BY user_id`, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "serving: bookmarks for place %d", placeID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "serving: scan bookmark")
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (m *pgMergeTx) MoveCollectionRef(ctx context.Context, collectionID, from, to int64) error {
	_, err := m.tx.Exec(ctx,
		`UPDATE collection_places SET place_id = $3 WHERE collection_id = $1 AND place_id = $2`,
		collectionID, from, to)
	return eris.Wrapf(err, "serving: move collection %d ref %d -> %d", collectionID, from, to)
}

func (m *pgMergeTx) DeleteCollectionRef(ctx context.Context, collectionID, placeID int64) error {
	_, err := m.tx.Exec(ctx,
		`DELETE FROM collection_places WHERE collection_id = $1 AND place_id = $2`,
		collectionID, placeID)
	return eris.Wrapf(err, "serving: delete collection %d ref %d", collectionID, placeID)
}

func (m *pgMergeTx) MoveBookmark(ctx context.Context, userID string, from, to int64) error {
	_, err := m.tx.Exec(ctx,
		`UPDATE bookmarks SET place_id = $3 WHERE user_id = $1 AND place_id = $2`,
		userID, from, to)
	return eris.Wrapf(err, "serving: move bookmark %s %d -> %d", userID, from, to)
}

func (m *pgMergeTx) DeleteBookmark(ctx context.Context, userID string, placeID int64) error {
	_, err := m.tx.Exec(ctx, `DELETE FROM bookmarks WHERE user_id = $1 AND place_id = $2`, userID, placeID)
	return eris.Wrapf(err, "serving: delete bookmark %s %d", userID, placeID)
}

func (m *pgMergeTx) MoveCandidateAssociations(ctx context.Context, from, to int64) (int64, error) {
	tag, err := m.tx.Exec(ctx,
		`UPDATE candidate_associations SET place_id = $2, updated_at = now() WHERE place_id = $1`,
		from, to)
	if err != nil {
		return 0, eris.Wrapf(err, "serving: move venue candidates %d -> %d", from, to)
	}
	return tag.RowsAffected(), nil
}

// ArchiveGolden archives the golden record behind the loser place and points
// it at the keeper's golden record, so projection cannot recreate the loser.
// It returns the archived id, or "" when the loser has no active golden
// record of its own.
func (m *pgMergeTx) ArchiveGolden(ctx context.Context, loserID, keeperID int64) (string, error) {
	var id string
	err := m.tx.QueryRow(ctx, `
		UPDATE golden_records g
		SET status = 'ARCHIVED', merged_into = k.golden_id, updated_at = now()
		FROM places l
		LEFT JOIN places k ON k.id = $2
		WHERE l.id = $1
		  AND g.id = l.golden_id
		  AND g.status <> 'ARCHIVED'
		  AND g.id IS DISTINCT FROM k.golden_id
		RETURNING g.id::text`,
		loserID, keeperID,
	).Scan(&id)
	if err != nil {
		if db.IsNoRows(err) {
			return "", nil
		}
		return "", eris.Wrapf(err, "serving: archive golden record of place %d", loserID)
	}
	return id, nil
}

func (m *pgMergeTx) DeleteProvenance(ctx context.Context, placeID int64) (int64, error) {
	tag, err := m.tx.Exec(ctx, `DELETE FROM place_provenance WHERE place_id = $1`, placeID)
	if err != nil {
		return 0, eris.Wrapf(err, "serving: delete provenance for place %d", placeID)
	}
	return tag.RowsAffected(), nil
}

func (m *pgMergeTx) DeletePlace(ctx context.Context, placeID int64) error {
	tag, err := m.tx.Exec(ctx, `DELETE FROM places WHERE id = $1`, placeID)
	if err != nil {
		return eris.Wrapf(err, "serving: delete place %d", placeID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("serving: place %d already removed", placeID)
	}
	return nil
}
