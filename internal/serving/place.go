// Package serving holds the product-facing place table that golden records
// are projected into, plus the collections and bookmarks that reference it.
package serving

import (
	"errors"
	"time"
)

// ErrPublishedReference means a place is still listed in a published
// collection and must not be merged away without force.
var ErrPublishedReference = errors.New("serving: place is referenced by a published collection")

// Place is the serving projection of a golden record.
type Place struct {
	ID              int64     `json:"id"`
	GoldenID        *string   `json:"golden_id,omitempty"`
	Slug            string    `json:"slug"`
	Name            string    `json:"name"`
	Address         string    `json:"address,omitempty"`
	Neighborhood    string    `json:"neighborhood,omitempty"`
	Category        string    `json:"category,omitempty"`
	Cuisine         string    `json:"cuisine,omitempty"`
	Tagline         string    `json:"tagline,omitempty"`
	Website         string    `json:"website,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Hours           []string  `json:"hours,omitempty"`
	Photos          []string  `json:"photos,omitempty"`
	Latitude        *float64  `json:"latitude,omitempty"`
	Longitude       *float64  `json:"longitude,omitempty"`
	ExternalPlaceID string    `json:"external_place_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// EnrichmentFields counts the optional enrichment fields that are present.
func (p *Place) EnrichmentFields() int {
	n := 0
	if len(p.Photos) > 0 {
		n++
	}
	if p.Neighborhood != "" {
		n++
	}
	if p.Cuisine != "" {
		n++
	}
	if p.Tagline != "" {
		n++
	}
	return n
}

// Provenance is one source attribution row for a place.
type Provenance struct {
	PlaceID     int64     `json:"place_id"`
	AddedBy     string    `json:"added_by,omitempty"`
	SourceType  string    `json:"source_type,omitempty"`
	SourceName  string    `json:"source_name,omitempty"`
	ImportBatch string    `json:"import_batch,omitempty"`
	AddedAt     time.Time `json:"added_at"`
}

// RefCount summarizes what references a place.
type RefCount struct {
	Collections          int `json:"collections"`
	PublishedCollections int `json:"published_collections"`
	Bookmarks            int `json:"bookmarks"`
}

// Referenced reports whether anything points at the place.
func (r RefCount) Referenced() bool {
	return r.Collections > 0 || r.Bookmarks > 0
}

// CollectionRef is a collection membership of a place.
type CollectionRef struct {
	CollectionID int64 `json:"collection_id"`
	Published    bool  `json:"published"`
}
