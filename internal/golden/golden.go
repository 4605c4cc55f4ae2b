// Package golden defines the canonical registry of real-world places: raw
// ingested records, golden records and the resolution links between them.
package golden

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// Status is the lifecycle state of a golden record.
type Status string

// Lifecycle states.
const (
	StatusPending   Status = "PENDING"
	StatusVerified  Status = "VERIFIED"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusVerified, StatusPublished, StatusArchived:
		return st, nil
	default:
		return "", eris.Errorf("golden: unknown status %q", s)
	}
}

// Active reports whether records in this state are match targets.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusVerified || s == StatusPublished
}

// CanTransition reports whether a record may move from s to next.
// PENDING -> VERIFIED -> PUBLISHED; any active state may be archived;
// ARCHIVED is terminal.
func (s Status) CanTransition(next Status) bool {
	switch {
	case s == next:
		return false
	case next == StatusArchived:
		return s.Active()
	case s == StatusPending:
		return next == StatusVerified
	case s == StatusVerified:
		return next == StatusPublished
	default:
		return false
	}
}

// Provenance records who or what introduced a record.
type Provenance struct {
	AddedBy     string    `json:"added_by,omitempty"`
	SourceType  string    `json:"source_type,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	ImportBatch string    `json:"import_batch,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// Source types.
const (
	SourceSpreadsheet = "spreadsheet"
	SourceScrape      = "scrape"
	SourceManual      = "manual"
)

// GoldenRecord is the canonical representation of one real-world place.
type GoldenRecord struct {
	ID              string     `json:"id"`
	Slug            string     `json:"slug"`
	Name            string     `json:"name"`
	NormalizedName  string     `json:"normalized_name"`
	Address         string     `json:"address,omitempty"`
	Neighborhood    string     `json:"neighborhood,omitempty"`
	Category        string     `json:"category,omitempty"`
	Website         string     `json:"website,omitempty"`
	Latitude        *float64   `json:"latitude,omitempty"`
	Longitude       *float64   `json:"longitude,omitempty"`
	ExternalPlaceID string     `json:"external_place_id,omitempty"`
	Confidence      float64    `json:"confidence"`
	Status          Status     `json:"status"`
	Provenance      Provenance `json:"provenance"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HasCoordinates reports whether both coordinates are set.
func (g *GoldenRecord) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}

// RawRecord is an unmodified ingested row. Raw records are append-only.
type RawRecord struct {
	ID             int64           `json:"id"`
	BatchID        string          `json:"batch_id"`
	RowNumber      int             `json:"row_number"`
	SourceName     string          `json:"source_name"`
	Payload        json.RawMessage `json:"payload"`
	NormalizedName string          `json:"normalized_name"`
	Latitude       *float64        `json:"latitude,omitempty"`
	Longitude      *float64        `json:"longitude,omitempty"`
	IngestedAt     time.Time       `json:"ingested_at"`
}

// ResolutionType is the outcome recorded for a raw record.
type ResolutionType string

// Resolution types.
const (
	ResolutionMatched   ResolutionType = "matched"
	ResolutionCreated   ResolutionType = "created"
	ResolutionAmbiguous ResolutionType = "ambiguous"
)

// ResolutionLink records how (or whether) a raw record was resolved by one
// resolver version. There is exactly one link per (raw record, version).
type ResolutionLink struct {
	ID              int64          `json:"id"`
	RawRecordID     int64          `json:"raw_record_id"`
	GoldenID        *string        `json:"golden_id,omitempty"`
	Type            ResolutionType `json:"resolution_type"`
	Method          string         `json:"method,omitempty"`
	Confidence      float64        `json:"confidence"`
	Reason          string         `json:"reason,omitempty"`
	ResolverVersion string         `json:"resolver_version"`
	CreatedAt       time.Time      `json:"created_at"`
}

// AmbiguousLink is a resolution link awaiting manual review, joined with its
// raw record.
type AmbiguousLink struct {
	ResolutionLink
	BatchID    string          `json:"batch_id"`
	SourceName string          `json:"source_name"`
	Payload    json.RawMessage `json:"payload"`
}
