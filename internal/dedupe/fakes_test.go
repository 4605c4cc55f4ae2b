package dedupe

import (
	"context"
	"fmt"
	"sort"

	"github.com/sells-group/placeresolve/internal/golden"
	"github.com/sells-group/placeresolve/internal/serving"
)

type collPlace struct{ collection, place int64 }

type bookmark struct {
	user  string
	place int64
}

// memServing is an in-memory serving.Store with transactional merges:
// a failed merge restores the state from before it started.
type memServing struct {
	serving.Store

	places     map[int64]serving.Place
	published  map[int64]bool
	members    map[collPlace]bool
	bookmarks  map[bookmark]bool
	provenance map[int64]int64
	candidates map[int64]int64 // candidate id -> place id
	golden     *memGolden

	listCalls int
	failOn    func(op string, placeID int64) error
}

func newMemServing(places ...serving.Place) *memServing {
	m := &memServing{
		places:     make(map[int64]serving.Place),
		published:  make(map[int64]bool),
		members:    make(map[collPlace]bool),
		bookmarks:  make(map[bookmark]bool),
		provenance: make(map[int64]int64),
		candidates: make(map[int64]int64),
	}
	for _, p := range places {
		m.places[p.ID] = p
	}
	return m
}

func (m *memServing) collect(collection int64, published bool, places ...int64) {
	m.published[collection] = published
	for _, p := range places {
		m.members[collPlace{collection, p}] = true
	}
}

func (m *memServing) bookmark(user string, places ...int64) {
	for _, p := range places {
		m.bookmarks[bookmark{user, p}] = true
	}
}

func (m *memServing) ListPlaces(_ context.Context, afterID int64, limit int) ([]serving.Place, error) {
	m.listCalls++
	ids := make([]int64, 0, len(m.places))
	for id := range m.places {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]serving.Place, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.places[id])
	}
	return out, nil
}

func (m *memServing) RefCounts(_ context.Context, ids []int64) (map[int64]serving.RefCount, error) {
	out := make(map[int64]serving.RefCount, len(ids))
	for _, id := range ids {
		var rc serving.RefCount
		for k := range m.members {
			if k.place == id {
				rc.Collections++
				if m.published[k.collection] {
					rc.PublishedCollections++
				}
			}
		}
		for b := range m.bookmarks {
			if b.place == id {
				rc.Bookmarks++
			}
		}
		out[id] = rc
	}
	return out, nil
}

func (m *memServing) GetPlaceByExternalID(_ context.Context, externalID string) (*serving.Place, error) {
	for _, p := range m.places {
		if p.ExternalPlaceID == externalID {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memServing) GetPlaceBySlug(_ context.Context, slug string) (*serving.Place, error) {
	for _, p := range m.places {
		if p.Slug == slug {
			return &p, nil
		}
	}
	return nil, nil
}

func (m *memServing) InsertPlace(_ context.Context, p *serving.Place) error {
	var next int64
	for id, existing := range m.places {
		if existing.Slug == p.Slug {
			return fmt.Errorf("duplicate slug %s", p.Slug)
		}
		if id > next {
			next = id
		}
	}
	p.ID = next + 1
	p.CreatedAt = created
	m.places[p.ID] = *p
	return nil
}

func (m *memServing) UpdatePlace(_ context.Context, p *serving.Place) error {
	if _, ok := m.places[p.ID]; !ok {
		return fmt.Errorf("place %d not found", p.ID)
	}
	m.places[p.ID] = *p
	return nil
}

func (m *memServing) AddProvenance(_ context.Context, prov serving.Provenance) error {
	m.provenance[prov.PlaceID]++
	return nil
}

func (m *memServing) Merge(_ context.Context, fn func(tx serving.MergeTx) error) error {
	snap := m.snapshot()
	var goldens *memGolden
	if m.golden != nil {
		goldens = m.golden.snapshot()
	}
	if err := fn(&memTx{m: m}); err != nil {
		m.restore(snap)
		if goldens != nil {
			m.golden.records, m.golden.mergedInto = goldens.records, goldens.mergedInto
		}
		return err
	}
	return nil
}

func (m *memServing) snapshot() *memServing {
	s := newMemServing()
	for k, v := range m.places {
		s.places[k] = v
	}
	for k, v := range m.members {
		s.members[k] = v
	}
	for k, v := range m.bookmarks {
		s.bookmarks[k] = v
	}
	for k, v := range m.provenance {
		s.provenance[k] = v
	}
	for k, v := range m.candidates {
		s.candidates[k] = v
	}
	return s
}

func (m *memServing) restore(s *memServing) {
	m.places, m.members, m.bookmarks, m.provenance = s.places, s.members, s.bookmarks, s.provenance
	m.candidates = s.candidates
}

type memTx struct{ m *memServing }

func (t *memTx) fail(op string, id int64) error {
	if t.m.failOn != nil {
		return t.m.failOn(op, id)
	}
	return nil
}

func (t *memTx) CollectionRefs(_ context.Context, placeID int64) ([]serving.CollectionRef, error) {
	var out []serving.CollectionRef
	for k := range t.m.members {
		if k.place == placeID {
			out = append(out, serving.CollectionRef{CollectionID: k.collection, Published: t.m.published[k.collection]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CollectionID < out[j].CollectionID })
	return out, nil
}

func (t *memTx) BookmarkUsers(_ context.Context, placeID int64) ([]string, error) {
	var out []string
	for b := range t.m.bookmarks {
		if b.place == placeID {
			out = append(out, b.user)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (t *memTx) MoveCollectionRef(_ context.Context, collectionID, from, to int64) error {
	if t.m.members[collPlace{collectionID, to}] {
		return fmt.Errorf("duplicate key collection %d place %d", collectionID, to)
	}
	delete(t.m.members, collPlace{collectionID, from})
	t.m.members[collPlace{collectionID, to}] = true
	return nil
}

func (t *memTx) DeleteCollectionRef(_ context.Context, collectionID, placeID int64) error {
	delete(t.m.members, collPlace{collectionID, placeID})
	return nil
}

func (t *memTx) MoveBookmark(_ context.Context, userID string, from, to int64) error {
	if err := t.fail("move-bookmark", from); err != nil {
		return err
	}
	if t.m.bookmarks[bookmark{userID, to}] {
		return fmt.Errorf("duplicate key bookmark %s place %d", userID, to)
	}
	delete(t.m.bookmarks, bookmark{userID, from})
	t.m.bookmarks[bookmark{userID, to}] = true
	return nil
}

func (t *memTx) DeleteBookmark(_ context.Context, userID string, placeID int64) error {
	delete(t.m.bookmarks, bookmark{userID, placeID})
	return nil
}

func (t *memTx) MoveCandidateAssociations(_ context.Context, from, to int64) (int64, error) {
	var n int64
	for id, place := range t.m.candidates {
		if place == from {
			t.m.candidates[id] = to
			n++
		}
	}
	return n, nil
}

func (t *memTx) ArchiveGolden(_ context.Context, loserID, keeperID int64) (string, error) {
	if t.m.golden == nil {
		return "", nil
	}
	loser, keeper := t.m.places[loserID], t.m.places[keeperID]
	if loser.GoldenID == nil {
		return "", nil
	}
	rec, ok := t.m.golden.records[*loser.GoldenID]
	if !ok || rec.Status == golden.StatusArchived {
		return "", nil
	}
	if keeper.GoldenID != nil && *keeper.GoldenID == rec.ID {
		return "", nil
	}
	rec.Status = golden.StatusArchived
	t.m.golden.records[rec.ID] = rec
	if keeper.GoldenID != nil {
		t.m.golden.mergedInto[rec.ID] = *keeper.GoldenID
	}
	return rec.ID, nil
}

func (t *memTx) DeleteProvenance(_ context.Context, placeID int64) (int64, error) {
	n := t.m.provenance[placeID]
	delete(t.m.provenance, placeID)
	return n, nil
}

func (t *memTx) DeletePlace(_ context.Context, placeID int64) error {
	if err := t.fail("delete-place", placeID); err != nil {
		return err
	}
	if _, ok := t.m.places[placeID]; !ok {
		return fmt.Errorf("place %d already removed", placeID)
	}
	delete(t.m.places, placeID)
	return nil
}

// memGolden is an in-memory golden.Store serving ListGolden for projection.
type memGolden struct {
	golden.Store

	records    map[string]golden.GoldenRecord
	mergedInto map[string]string
}

func newMemGolden(records ...golden.GoldenRecord) *memGolden {
	g := &memGolden{
		records:    make(map[string]golden.GoldenRecord),
		mergedInto: make(map[string]string),
	}
	for _, r := range records {
		g.records[r.ID] = r
	}
	return g
}

func (g *memGolden) snapshot() *memGolden {
	out := newMemGolden()
	for k, v := range g.records {
		out.records[k] = v
	}
	for k, v := range g.mergedInto {
		out.mergedInto[k] = v
	}
	return out
}

func (g *memGolden) ListGolden(_ context.Context, f golden.ListFilter) ([]golden.GoldenRecord, error) {
	wanted := make(map[golden.Status]bool, len(f.Statuses))
	for _, st := range f.Statuses {
		wanted[st] = true
	}
	ids := make([]string, 0, len(g.records))
	for id, r := range g.records {
		if id > f.AfterID && (len(wanted) == 0 || wanted[r.Status]) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if f.Limit > 0 && len(ids) > f.Limit {
		ids = ids[:f.Limit]
	}
	out := make([]golden.GoldenRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, g.records[id])
	}
	return out, nil
}
