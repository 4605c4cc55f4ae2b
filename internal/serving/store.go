package serving

import "context"

// Store persists serving places and their references.
type Store interface {
	// Projection
	GetPlaceByExternalID(ctx context.Context, externalID string) (*Place, error)
	GetPlaceBySlug(ctx context.Context, slug string) (*Place, error)
	InsertPlace(ctx context.Context, p *Place) error
	UpdatePlace(ctx context.Context, p *Place) error
	AddProvenance(ctx context.Context, prov Provenance) error

	// Scans
	ListPlaces(ctx context.Context, afterID int64, limit int) ([]Place, error)
	RefCounts(ctx context.Context, ids []int64) (map[int64]RefCount, error)

	// Venue lookups
	FindPlacesBySlugToken(ctx context.Context, token string, limit int) ([]Place, error)
	SearchPlacesByName(ctx context.Context, name string, limit int) ([]Place, error)

	// Merge runs fn in a single transaction.
	Merge(ctx context.Context, fn func(tx MergeTx) error) error
}

// MergeTx is the set of reference operations a merge performs atomically.
type MergeTx interface {
	CollectionRefs(ctx context.Context, placeID int64) ([]CollectionRef, error)
	BookmarkUsers(ctx context.Context, placeID int64) ([]string, error)
	MoveCollectionRef(ctx context.Context, collectionID, from, to int64) error
	DeleteCollectionRef(ctx context.Context, collectionID, placeID int64) error
	MoveBookmark(ctx context.Context, userID string, from, to int64) error
	DeleteBookmark(ctx context.Context, userID string, placeID int64) error
	MoveCandidateAssociations(ctx context.Context, from, to int64) (int64, error)
	ArchiveGolden(ctx context.Context, loserID, keeperID int64) (string, error)
	DeleteProvenance(ctx context.Context, placeID int64) (int64, error)
	DeletePlace(ctx context.Context, placeID int64) error
}
