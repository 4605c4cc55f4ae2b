// Package dedupe finds duplicate places in the serving table and merges
// them into a single keeper.
package dedupe

import (
	"context"
	"math"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/placeresolve/internal/normalize"
	"github.com/sells-group/placeresolve/internal/serving"
)

// Defaults for scans.
const (
	DefaultPageSize     = 1000
	DefaultMaxBlockSize = 500
	minBlockTokenLength = 3
	maxAgeYears         = 10
)

// Entry is the compact form of a place used for blocking and scoring.
type Entry struct {
	ID                int64
	Slug              string
	Name              string
	NormalizedName    string
	NormalizedAddress string
	Neighborhood      string
	ExternalID        string
	Enrichment        int
	CreatedAt         time.Time
}

func entryFrom(p *serving.Place) Entry {
	return Entry{
		ID:                p.ID,
		Slug:              p.Slug,
		Name:              p.Name,
		NormalizedName:    normalize.NormalizeName(p.Name),
		NormalizedAddress: normalize.NormalizeAddress(p.Address),
		Neighborhood:      normalize.NormalizeName(p.Neighborhood),
		ExternalID:        p.ExternalPlaceID,
		Enrichment:        p.EnrichmentFields(),
		CreatedAt:         p.CreatedAt,
	}
}

// Member is a place in a duplicate group with its keeper score inputs.
type Member struct {
	ID                   int64   `json:"id" yaml:"id"`
	Slug                 string  `json:"slug" yaml:"slug"`
	Name                 string  `json:"name" yaml:"name"`
	Collections          int     `json:"collections" yaml:"collections"`
	PublishedCollections int     `json:"published_collections" yaml:"published_collections"`
	Bookmarks            int     `json:"bookmarks" yaml:"bookmarks"`
	EnrichmentFields     int     `json:"enrichment_fields" yaml:"enrichment_fields"`
	AgeYears             float64 `json:"age_years" yaml:"age_years"`
	Score                float64 `json:"score" yaml:"score"`
}

// Group is a connected set of duplicates. Keeper survives a merge; the
// losers are folded into it.
type Group struct {
	Keeper Member   `json:"keeper" yaml:"keeper"`
	Losers []Member `json:"losers" yaml:"losers"`
	Pairs  []Pair   `json:"pairs" yaml:"pairs"`
}

// KeeperScore ranks a group member: references dominate, then enrichment,
// then age.
func KeeperScore(rc serving.RefCount, enrichmentFields int, ageYears float64) float64 {
	age := math.Min(math.Max(ageYears, 0), maxAgeYears)
	return 1000*float64(rc.Collections) + 100*float64(rc.Bookmarks) + 10*float64(enrichmentFields) + age
}

// Detector scans the serving table for duplicates.
type Detector struct {
	store        serving.Store
	policy       Policy
	pageSize     int
	maxBlockSize int
	now          func() time.Time
}

// DetectorOption configures a Detector.
type DetectorOption func(*Detector)

// WithPageSize sets the scan page size.
func WithPageSize(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.pageSize = n
		}
	}
}

// WithMaxBlockSize caps how many places one name token may block together.
// Larger blocks are skipped; those places are still compared through
// their other tokens and external id.
func WithMaxBlockSize(n int) DetectorOption {
	return func(d *Detector) {
		if n > 0 {
			d.maxBlockSize = n
		}
	}
}

// WithNow overrides the clock used for place age.
func WithNow(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector.
func NewDetector(store serving.Store, policy Policy, opts ...DetectorOption) *Detector {
	d := &Detector{
		store:        store,
		policy:       policy,
		pageSize:     DefaultPageSize,
		maxBlockSize: DefaultMaxBlockSize,
		now:          time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Load pages through the serving table into compact entries.
func (d *Detector) Load(ctx context.Context) ([]Entry, error) {
	var (
		out     []Entry
		afterID int64
	)
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "dedupe: load cancelled")
		}
		page, err := d.store.ListPlaces(ctx, afterID, d.pageSize)
		if err != nil {
			return nil, eris.Wrap(err, "dedupe: list places")
		}
		for i := range page {
			out = append(out, entryFrom(&page[i]))
		}
		if len(page) < d.pageSize {
			break
		}
		afterID = page[len(page)-1].ID
	}
	return out, nil
}

// Pairs returns every duplicate pair among entries. Only entries that share
// a name token of three or more characters, or an external id, are compared.
func (d *Detector) Pairs(entries []Entry) []Pair {
	blocks := make(map[string][]int)
	for i := range entries {
		seen := make(map[string]bool)
		for _, tok := range normalize.Tokens(entries[i].NormalizedName) {
			if utf8.RuneCountInString(tok) < minBlockTokenLength || seen[tok] {
				continue
			}
			seen[tok] = true
			blocks["n:"+tok] = append(blocks["n:"+tok], i)
		}
		if id := entries[i].ExternalID; id != "" {
			blocks["x:"+id] = append(blocks["x:"+id], i)
		}
	}

	keys := make([]string, 0, len(blocks))
	for k := range blocks {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type pairKey struct{ a, b int }
	compared := make(map[pairKey]bool)
	var out []Pair
	for _, k := range keys {
		members := blocks[k]
		if len(members) < 2 {
			continue
		}
		if k[0] == 'n' && len(members) > d.maxBlockSize {
			zap.L().Debug("skipping oversized block", zap.String("block", k), zap.Int("size", len(members)))
			continue
		}
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				pk := pairKey{members[x], members[y]}
				if compared[pk] {
					continue
				}
				compared[pk] = true

				pair := d.policy.Score(&entries[pk.a], &entries[pk.b])
				if d.policy.Duplicate(pair) {
					out = append(out, pair)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Detect finds duplicate groups and picks a keeper for each. When slugs is
// non-empty only groups containing one of those slugs are returned.
func (d *Detector) Detect(ctx context.Context, slugs []string) ([]Group, error) {
	entries, err := d.Load(ctx)
	if err != nil {
		return nil, err
	}
	pairs := d.Pairs(entries)

	uf := newUnionFind()
	for _, p := range pairs {
		uf.union(p.A, p.B)
	}
	components := uf.components()

	byID := make(map[int64]*Entry, len(entries))
	for i := range entries {
		byID[entries[i].ID] = &entries[i]
	}
	scope := make(map[string]bool, len(slugs))
	for _, s := range slugs {
		scope[s] = true
	}

	var ids []int64
	var kept [][]int64
	for _, comp := range components {
		if len(scope) > 0 && !anySlug(comp, byID, scope) {
			continue
		}
		kept = append(kept, comp)
		ids = append(ids, comp...)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	refs, err := d.store.RefCounts(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "dedupe: ref counts")
	}

	pairsByRoot := make(map[int64][]Pair)
	for _, p := range pairs {
		r := uf.find(p.A)
		pairsByRoot[r] = append(pairsByRoot[r], p)
	}

	now := d.now()
	groups := make([]Group, 0, len(kept))
	for _, comp := range kept {
		members := make([]Member, 0, len(comp))
		for _, id := range comp {
			members = append(members, d.member(byID[id], refs[id], now))
		}
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].Score != members[j].Score {
				return members[i].Score > members[j].Score
			}
			return members[i].ID < members[j].ID
		})
		groups = append(groups, Group{
			Keeper: members[0],
			Losers: members[1:],
			Pairs:  pairsByRoot[uf.find(comp[0])],
		})
	}
	return groups, nil
}

func (d *Detector) member(e *Entry, rc serving.RefCount, now time.Time) Member {
	var age float64
	if !e.CreatedAt.IsZero() {
		age = now.Sub(e.CreatedAt).Hours() / (24 * 365.25)
	}
	m := Member{
		ID:                   e.ID,
		Slug:                 e.Slug,
		Name:                 e.Name,
		Collections:          rc.Collections,
		PublishedCollections: rc.PublishedCollections,
		Bookmarks:            rc.Bookmarks,
		EnrichmentFields:     e.Enrichment,
		AgeYears:             math.Round(age*100) / 100,
	}
	m.Score = KeeperScore(rc, e.Enrichment, age)
	return m
}

func anySlug(ids []int64, byID map[int64]*Entry, scope map[string]bool) bool {
	for _, id := range ids {
		if scope[byID[id].Slug] {
			return true
		}
	}
	return false
}
