package project

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/serving"
)

// goldenFake serves ListGolden from a fixed slice. Other golden.Store
// methods are not used by the projector and panic.
type goldenFake struct {
	golden.Store

	records []golden.GoldenRecord
	filters []golden.ListFilter
}

func (g *goldenFake) ListGolden(_ context.Context, f golden.ListFilter) ([]golden.GoldenRecord, error) {
	g.filters = append(g.filters, f)

	want := make(map[golden.Status]bool)
	for _, s := range f.Statuses {
		want[s] = true
	}
	slugs := make(map[string]bool)
	for _, s := range f.Slugs {
		slugs[s] = true
	}

	sorted := append([]golden.GoldenRecord(nil), g.records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var out []golden.GoldenRecord
	for _, r := range sorted {
		if len(want) > 0 && !want[r.Status] {
			continue
		}
		if len(slugs) > 0 && !slugs[r.Slug] {
			continue
		}
		if f.BatchID != "" && r.Provenance.ImportBatch != f.BatchID {
			continue
		}
		if f.AfterID != "" && r.ID <= f.AfterID {
			continue
		}
		out = append(out, r)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// servingFake is an in-memory serving.Store covering the projection methods.
type servingFake struct {
	serving.Store

	mu         sync.Mutex
	places     map[int64]*serving.Place
	provenance []serving.Provenance
	nextID     int64

	// racer, when set, is inserted just before the next InsertPlace to
	// simulate a concurrent writer taking the same key.
	racer *serving.Place
}

func newServingFake(existing ...serving.Place) *servingFake {
	f := &servingFake{places: make(map[int64]*serving.Place)}
	for i := range existing {
		p := existing[i]
		f.places[p.ID] = &p
		if p.ID > f.nextID {
			f.nextID = p.ID
		}
	}
	return f
}

func (f *servingFake) GetPlaceByExternalID(_ context.Context, id string) (*serving.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.places {
		if p.ExternalPlaceID == id {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *servingFake) GetPlaceBySlug(_ context.Context, slug string) (*serving.Place, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.places {
		if p.Slug == slug {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *servingFake) InsertPlace(_ context.Context, p *serving.Place) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.racer != nil {
		f.nextID++
		r := *f.racer
		r.ID = f.nextID
		f.places[r.ID] = &r
		f.racer = nil
	}
	for _, q := range f.places {
		if q.Slug == p.Slug || (p.ExternalPlaceID != "" && q.ExternalPlaceID == p.ExternalPlaceID) {
			return &pgconn.PgError{Code: "23505", ConstraintName: serving.ConstraintSlug}
		}
	}
	f.nextID++
	p.ID = f.nextID
	cp := *p
	f.places[p.ID] = &cp
	return nil
}

func (f *servingFake) UpdatePlace(_ context.Context, p *serving.Place) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.places[p.ID] = &cp
	return nil
}

func (f *servingFake) AddProvenance(_ context.Context, prov serving.Provenance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provenance = append(f.provenance, prov)
	return nil
}

func (f *servingFake) bySlug(slug string) *serving.Place {
	for _, p := range f.places {
		if p.Slug == slug {
			return p
		}
	}
	return nil
}

// enricherFunc adapts a function to Enricher.
type enricherFunc func(ctx context.Context, id string) (*Enrichment, error)

func (fn enricherFunc) Enrich(ctx context.Context, id string) (*Enrichment, error) {
	return fn(ctx, id)
}
