package resolve

import (
	"fmt"
	"strings"

	"github.com/sells-group/placeresolve/internal/ingest"
)

// ValidationError reports a malformed input row. The row is skipped and the
// batch continues.
type ValidationError struct {
	Row    int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("resolve: row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// Validate checks the fields a row needs to be resolved.
func Validate(r ingest.Row) error {
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Row: r.RowNumber, Field: "name", Reason: "required"}
	}
	if len(r.Invalid) > 0 {
		return &ValidationError{Row: r.RowNumber, Field: r.Invalid[0], Reason: "not a number"}
	}
	if (r.Latitude == nil) != (r.Longitude == nil) {
		return &ValidationError{Row: r.RowNumber, Field: "coordinates", Reason: "latitude and longitude must be given together"}
	}
	if r.Latitude != nil && (*r.Latitude < -90 || *r.Latitude > 90) {
		return &ValidationError{Row: r.RowNumber, Field: "latitude", Reason: fmt.Sprintf("%v out of range", *r.Latitude)}
	}
	if r.Longitude != nil && (*r.Longitude < -180 || *r.Longitude > 180) {
		return &ValidationError{Row: r.RowNumber, Field: "longitude", Reason: fmt.Sprintf("%v out of range", *r.Longitude)}
	}
	return nil
}
