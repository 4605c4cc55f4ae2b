// Package ingest reads place rows from spreadsheet, CSV and JSON sources.
package ingest

import (
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Row is one ingested place record, before normalization.
type Row struct {
	Name            string   `json:"name"`
	Address         string   `json:"address,omitempty"`
	URL             string   `json:"url,omitempty"`
	Neighborhood    string   `json:"neighborhood,omitempty"`
	Category        string   `json:"category,omitempty"`
	Website         string   `json:"website,omitempty"`
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	ExternalPlaceID string   `json:"external_place_id,omitempty"`
	Slug            string   `json:"slug,omitempty"`

	// RowNumber is 1-based within the source, excluding any header.
	RowNumber int `json:"-"`

	// Invalid lists fields that were present but could not be parsed.
	Invalid []string `json:"-"`
}

// Payload returns the row as stored in the raw record.
func (r Row) Payload() json.RawMessage {
	b, err := json.Marshal(r)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}

// headerAliases maps accepted column headers to canonical field names.
var headerAliases = map[string]string{
	"name":              "name",
	"place":             "name",
	"place_name":        "name",
	"business_name":     "name",
	"address":           "address",
	"street_address":    "address",
	"url":               "url",
	"maps_url":          "url",
	"google_maps_url":   "url",
	"neighborhood":      "neighborhood",
	"neighbourhood":     "neighborhood",
	"category":          "category",
	"type":              "category",
	"website":           "website",
	"latitude":          "latitude",
	"lat":               "latitude",
	"longitude":         "longitude",
	"lng":               "longitude",
	"lon":               "longitude",
	"external_place_id": "external_place_id",
	"place_id":          "external_place_id",
	"google_place_id":   "external_place_id",
	"slug":              "slug",
}

// canonicalHeader lowercases a header cell and resolves aliases. Unknown
// headers return "".
func canonicalHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.NewReplacer(" ", "_", "-", "_").Replace(h)
	return headerAliases[h]
}

// rowFromCells builds a Row from a header-mapped record.
func rowFromCells(header []string, cells []string, rowNumber int) Row {
	r := Row{RowNumber: rowNumber}
	for i, field := range header {
		if field == "" || i >= len(cells) {
			continue
		}
		v := strings.TrimSpace(cells[i])
		if v == "" {
			continue
		}
		switch field {
		case "name":
			r.Name = v
		case "address":
			r.Address = v
		case "url":
			r.URL = v
		case "neighborhood":
			r.Neighborhood = v
		case "category":
			r.Category = v
		case "website":
			r.Website = v
		case "external_place_id":
			r.ExternalPlaceID = v
		case "slug":
			r.Slug = v
		case "latitude":
			r.Latitude = r.parseFloat(field, v)
		case "longitude":
			r.Longitude = r.parseFloat(field, v)
		}
	}
	return r
}

func (r *Row) parseFloat(field, v string) *float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.Invalid = append(r.Invalid, field)
		return nil
	}
	return &f
}

// ResolveExternalID fills ExternalPlaceID from URL when it is empty and the
// URL carries a usable place identifier. URLs with only an opaque numeric id
// are logged and left unresolved.
func (r *Row) ResolveExternalID() {
	if r.ExternalPlaceID != "" || r.URL == "" {
		return
	}
	id, opaque := ExternalIDFromURL(r.URL)
	switch {
	case id != "":
		r.ExternalPlaceID = id
	case opaque:
		zap.L().Info("ingest: map url carries only an opaque numeric id, leaving external id empty",
			zap.Int("row", r.RowNumber),
			zap.String("name", r.Name),
			zap.String("url", r.URL),
		)
	}
}
