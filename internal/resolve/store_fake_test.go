package resolve

import (
	"context"
	"fmt"

	"github.com/sells-group/placeresolve/internal/golden"
)

type rawKey struct {
	batch string
	row   int
}

type linkKey struct {
	raw     int64
	version string
}

// memStore is an in-memory golden.Store for resolver tests.
type memStore struct {
	raws    map[rawKey]int64
	links   map[linkKey]*golden.ResolutionLink
	goldens []golden.GoldenRecord

	nextRaw  int64
	nextLink int64

	poolErr    error
	commitErr  func(link *golden.ResolutionLink, created *golden.GoldenRecord) error
	rawUpserts int
}

func newMemStore(existing ...golden.GoldenRecord) *memStore {
	return &memStore{
		raws:    make(map[rawKey]int64),
		links:   make(map[linkKey]*golden.ResolutionLink),
		goldens: existing,
	}
}

func (m *memStore) UpsertRawRecord(_ context.Context, r *golden.RawRecord) error {
	m.rawUpserts++
	k := rawKey{r.BatchID, r.RowNumber}
	if id, ok := m.raws[k]; ok {
		r.ID = id
		return nil
	}
	m.nextRaw++
	m.raws[k] = m.nextRaw
	r.ID = m.nextRaw
	return nil
}

func (m *memStore) GetLink(_ context.Context, rawID int64, version string) (*golden.ResolutionLink, error) {
	l, ok := m.links[linkKey{rawID, version}]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) FindLink(ctx context.Context, batchID string, rowNumber int, version string) (*golden.ResolutionLink, error) {
	id, ok := m.raws[rawKey{batchID, rowNumber}]
	if !ok {
		return nil, nil
	}
	return m.GetLink(ctx, id, version)
}

func (m *memStore) CommitResolution(_ context.Context, link *golden.ResolutionLink, created *golden.GoldenRecord) error {
	if m.commitErr != nil {
		if err := m.commitErr(link, created); err != nil {
			return err
		}
	}
	k := linkKey{link.RawRecordID, link.ResolverVersion}
	if _, ok := m.links[k]; ok {
		return golden.ErrLinkExists
	}
	if created != nil {
		for _, g := range m.goldens {
			if g.Slug == created.Slug {
				return fmt.Errorf("duplicate slug %s", created.Slug)
			}
		}
		m.goldens = append(m.goldens, *created)
		if link.GoldenID == nil {
			id := created.ID
			link.GoldenID = &id
		}
	}
	m.nextLink++
	link.ID = m.nextLink
	cp := *link
	m.links[k] = &cp
	return nil
}

func (m *memStore) ListAmbiguous(_ context.Context, version string, _ int) ([]golden.AmbiguousLink, error) {
	var out []golden.AmbiguousLink
	for _, l := range m.links {
		if l.Type == golden.ResolutionAmbiguous && l.ResolverVersion == version {
			out = append(out, golden.AmbiguousLink{ResolutionLink: *l})
		}
	}
	return out, nil
}

func (m *memStore) ActiveCandidates(_ context.Context) ([]golden.GoldenRecord, error) {
	if m.poolErr != nil {
		return nil, m.poolErr
	}
	var out []golden.GoldenRecord
	for _, g := range m.goldens {
		if g.Status.Active() {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memStore) SlugTaken(_ context.Context, slug string) (bool, error) {
	for _, g := range m.goldens {
		if g.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) GetGolden(_ context.Context, id string) (*golden.GoldenRecord, error) {
	for i := range m.goldens {
		if m.goldens[i].ID == id {
			return &m.goldens[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) GetGoldenBySlug(_ context.Context, slug string) (*golden.GoldenRecord, error) {
	for i := range m.goldens {
		if m.goldens[i].Slug == slug {
			return &m.goldens[i], nil
		}
	}
	return nil, nil
}

func (m *memStore) ListGolden(_ context.Context, _ golden.ListFilter) ([]golden.GoldenRecord, error) {
	return m.goldens, nil
}

func (m *memStore) UpdateStatus(_ context.Context, id string, status golden.Status) error {
	for i := range m.goldens {
		if m.goldens[i].ID == id {
			m.goldens[i].Status = status
			return nil
		}
	}
	return golden.ErrNotFound
}

var _ golden.Store = (*memStore)(nil)
