package golden

import "context"

// ListFilter narrows golden record listings.
type ListFilter struct {
	Statuses []Status
	Slugs    []string
	BatchID  string
	AfterID  string
	Limit    int
}

// Store persists raw records, golden records and resolution links.
type Store interface {
	// Raw records
	UpsertRawRecord(ctx context.Context, r *RawRecord) error

	// Resolution
	GetLink(ctx context.Context, rawRecordID int64, version string) (*ResolutionLink, error)
	FindLink(ctx context.Context, batchID string, rowNumber int, version string) (*ResolutionLink, error)
	CommitResolution(ctx context.Context, link *ResolutionLink, created *GoldenRecord) error
	ListAmbiguous(ctx context.Context, version string, limit int) ([]AmbiguousLink, error)

	// Golden records
	ActiveCandidates(ctx context.Context) ([]GoldenRecord, error)
	SlugTaken(ctx context.Context, slug string) (bool, error)
	GetGolden(ctx context.Context, id string) (*GoldenRecord, error)
	GetGoldenBySlug(ctx context.Context, slug string) (*GoldenRecord, error)
	ListGolden(ctx context.Context, f ListFilter) ([]GoldenRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
}
