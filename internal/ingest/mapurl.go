package ingest

import (
	"net/url"
	"strings"
)

// placeIDParams are query parameters that carry a place identifier directly.
var placeIDParams = []string{"query_place_id", "place_id"}

// opaqueIDParams carry numeric feature ids that cannot be converted to a
// place identifier without an external lookup.
var opaqueIDParams = []string{"cid", "ludocid"}

// ExternalIDFromURL extracts a place identifier from a map-service URL. When
// no identifier is found, opaque reports whether the URL carried an opaque
// numeric id instead.
func ExternalIDFromURL(raw string) (id string, opaque bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", false
	}
	q := u.Query()

	for _, p := range placeIDParams {
		if v := strings.TrimSpace(q.Get(p)); v != "" {
			return v, false
		}
	}
	if v := q.Get("q"); strings.HasPrefix(v, "place_id:") {
		if id := strings.TrimSpace(strings.TrimPrefix(v, "place_id:")); id != "" {
			return id, false
		}
	}
	for _, p := range opaqueIDParams {
		if q.Get(p) != "" {
			return "", true
		}
	}
	return "", false
}
