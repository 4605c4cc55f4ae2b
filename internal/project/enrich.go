package project

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rotisserie/eris"

	"github.com/sells-group/placeresolve/internal/metrics"
	"github.com/sells-group/placeresolve/internal/resilience"
	"github.com/sells-group/placeresolve/pkg/google"
)

// Enrichment is externally sourced place data.
type Enrichment struct {
	Photos    []string
	Hours     []string
	Phone     string
	Website   string
	Address   string
	Latitude  *float64
	Longitude *float64
}

// Enricher looks up enrichment data by external place id.
type Enricher interface {
	Enrich(ctx context.Context, externalID string) (*Enrichment, error)
}

// ExternalLookupFailure records an enrichment lookup that failed. It never
// blocks the projection write; the next scheduled run retries it.
type ExternalLookupFailure struct {
	ExternalID string
	Transient  bool
	Err        error
}

func (e *ExternalLookupFailure) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("project: %s lookup failure for %s: %v", kind, e.ExternalID, e.Err)
}

func (e *ExternalLookupFailure) Unwrap() error {
	return e.Err
}

// GoogleEnricher enriches from Place Details through a resilience guard,
// caching successful lookups.
type GoogleEnricher struct {
	client  google.Client
	guard   *resilience.Guard
	cache   *cache.Cache
	metrics *metrics.Metrics
}

// NewGoogleEnricher creates a GoogleEnricher. Cached entries expire after
// ttl; expired entries are dropped lazily on read.
func NewGoogleEnricher(client google.Client, guard *resilience.Guard, ttl time.Duration, m *metrics.Metrics) *GoogleEnricher {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &GoogleEnricher{
		client:  client,
		guard:   guard,
		cache:   cache.New(ttl, 0),
		metrics: m,
	}
}

// Enrich implements Enricher.
func (e *GoogleEnricher) Enrich(ctx context.Context, externalID string) (*Enrichment, error) {
	if v, ok := e.cache.Get(externalID); ok {
		e.metrics.RecordLookup("hit", 0)
		return v.(*Enrichment), nil
	}

	start := time.Now()
	d, err := resilience.Call(ctx, e.guard, func(ctx context.Context) (*google.PlaceDetails, error) {
		return e.client.PlaceDetails(ctx, externalID)
	})
	elapsed := time.Since(start).Seconds()
	if err != nil {
		result := "error"
		if eris.Is(err, resilience.ErrOpen) {
			result = "open"
		}
		e.metrics.RecordLookup(result, elapsed)
		return nil, &ExternalLookupFailure{
			ExternalID: externalID,
			Transient:  resilience.IsTransient(err) || result == "open",
			Err:        err,
		}
	}
	e.metrics.RecordLookup("miss", elapsed)

	en := fromDetails(d)
	e.cache.SetDefault(externalID, en)
	return en, nil
}

func fromDetails(d *google.PlaceDetails) *Enrichment {
	en := &Enrichment{
		Photos:  d.PhotoNames(),
		Hours:   d.Hours(),
		Phone:   d.Phone(),
		Website: d.WebsiteURI,
		Address: d.FormattedAddress,
	}
	if d.Location != nil {
		lat, lng := d.Location.Latitude, d.Location.Longitude
		en.Latitude, en.Longitude = &lat, &lng
	}
	return en
}
